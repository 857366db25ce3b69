// Package ratelimit implements a sliding-window request limiter.
//
// Several vendors enforce hard quotas over a trailing window (for example
// 15 report requests per 15 minutes). The limiter keeps the timestamps of
// recent requests and blocks callers until a slot opens, so concurrent page
// fetches sharing one limiter can never exceed the quota.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for limiter operations.
var (
	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catnip_rate_limit_waits_total",
		Help: "Total number of times a request blocked waiting for a window slot",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catnip_rate_limit_wait_seconds",
		Help:    "Time spent waiting for a window slot",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	requestsInWindow = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catnip_requests_in_window",
		Help: "Requests currently counted inside the sliding window",
	})
)

// Limiter is a sliding-window rate limiter.
// The zero value is not usable; create limiters with New.
type Limiter struct {
	ceiling int
	window  time.Duration

	mu     sync.Mutex
	stamps []time.Time

	// now is swappable for tests.
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a limiter admitting at most ceiling requests in any trailing
// window of the given duration.
func New(ceiling int, window time.Duration) (*Limiter, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("ceiling must be positive (got %d)", ceiling)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive (got %v)", window)
	}

	return &Limiter{
		ceiling: ceiling,
		window:  window,
		stamps:  make([]time.Time, 0, ceiling),
		now:     time.Now,
		logger:  log.With().Str("component", "ratelimit").Logger(),
	}, nil
}

// Wait blocks until the caller may issue a request, then records it.
// The check and the record happen under one lock, so two concurrent callers
// can never both claim the last slot. Returns the context error if the
// context is cancelled while waiting.
func (l *Limiter) Wait(ctx context.Context) error {
	waited := time.Duration(0)

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if len(l.stamps) < l.ceiling {
			l.stamps = append(l.stamps, now)
			requestsInWindow.Set(float64(len(l.stamps)))
			l.mu.Unlock()

			if waited > 0 {
				rateLimitWaitSeconds.Observe(waited.Seconds())
			}
			return nil
		}

		// Window is full: sleep until the oldest stamp falls out, then
		// re-check. Another caller may have taken the slot meanwhile.
		sleep := l.stamps[0].Add(l.window).Sub(now)
		inWindow := len(l.stamps)
		l.mu.Unlock()

		rateLimitWaitsTotal.Inc()
		l.logger.Warn().
			Int("in_window", inWindow).
			Dur("sleep", sleep).
			Msg("Rate limit window full, waiting for slot")

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-time.After(sleep):
			waited += sleep
		}
	}
}

// InWindow returns the number of requests currently inside the window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.stamps)
}

// prune drops stamps older than the window. Caller must hold the lock.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

// SetNowFunc replaces the clock (for testing).
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
