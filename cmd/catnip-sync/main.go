package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/connectors/tradablebits"
	"github.com/catnip-data/catnip/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Output: os.Stderr,
	})

	// Configuration from environment
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	port := getEnv("PORT", "8080")
	apiKey := os.Getenv("TRADABLEBITS_API_KEY")
	apiSecret := os.Getenv("TRADABLEBITS_API_SECRET")
	interval := getEnvDuration("SYNC_INTERVAL", 15*time.Minute)

	if apiKey == "" || apiSecret == "" {
		log.Fatal().Msg("TRADABLEBITS_API_KEY and TRADABLEBITS_API_SECRET are required")
	}

	// Setup Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURL,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
	}
	log.Info().Str("addr", redisURL).Msg("Connected to Redis")

	store, err := checkpoint.NewRedisStore(redisClient, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create checkpoint store")
	}

	connector, err := tradablebits.New(tradablebits.Config{
		APIKey:      apiKey,
		APISecret:   apiSecret,
		Checkpoints: store,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create connector")
	}

	go syncLoop(ctx, connector, interval)

	// HTTP Server
	http.HandleFunc("/health", healthHandler)
	http.HandleFunc("/ready", readyHandler(redisClient))
	http.Handle("/metrics", promhttp.Handler())

	addr := ":" + port
	log.Info().Str("addr", addr).Dur("interval", interval).Msg("Starting sync server")

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// syncLoop pulls new activities on the interval. The checkpoint store
// carries the activity cursor across iterations and restarts.
func syncLoop(ctx context.Context, connector *tradablebits.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		table, err := connector.Activities(runCtx, "")
		cancel()

		if err != nil {
			log.Error().Err(err).Msg("Activity sync failed")
		} else {
			log.Info().Int("rows", table.NumRows()).Msg("Activity sync complete")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			http.Error(w, fmt.Sprintf("Redis unavailable: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	return defaultValue
}
