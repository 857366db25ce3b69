package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for checkpoint operations.
var (
	checkpointHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catnip_checkpoint_hits_total",
		Help: "Checkpoint loads that found a stored value",
	})

	checkpointMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catnip_checkpoint_misses_total",
		Help: "Checkpoint loads that found nothing",
	})

	checkpointErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catnip_checkpoint_errors_total",
		Help: "Checkpoint operation errors",
	}, []string{"operation"})
)

const redisKeyPrefix = "catnip:checkpoint:"

// entry is the stored form of a checkpoint. The saved-at stamp is kept for
// operators inspecting stale cursors, it carries no expiry semantics.
type entry struct {
	Value   string    `json:"value"`
	SavedAt time.Time `json:"saved_at"`
}

// RedisStore is a redis-backed checkpoint store.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisStore creates a redis-backed store. A zero ttl keeps checkpoints
// forever; a positive ttl lets cached OAuth tokens age out on their own.
func NewRedisStore(redisClient *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisStore{
		redis: redisClient,
		ttl:   ttl,
	}, nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, name string) (string, error) {
	data, err := s.redis.Get(ctx, redisKeyPrefix+name).Bytes()
	if err != nil {
		if err == redis.Nil {
			checkpointMisses.Inc()
			return "", ErrNotFound
		}
		checkpointErrors.WithLabelValues("load").Inc()
		return "", fmt.Errorf("redis get: %w", err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		checkpointErrors.WithLabelValues("load").Inc()
		return "", fmt.Errorf("decode checkpoint %q: %w", name, err)
	}

	checkpointHits.Inc()
	return e.Value, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, name string, value string) error {
	data, err := json.Marshal(entry{
		Value:   value,
		SavedAt: time.Now().UTC(),
	})
	if err != nil {
		checkpointErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("encode checkpoint %q: %w", name, err)
	}

	if err := s.redis.Set(ctx, redisKeyPrefix+name, data, s.ttl).Err(); err != nil {
		checkpointErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}
