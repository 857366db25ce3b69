// Package session builds the HTTP clients shared by all connectors.
//
// Every connector owns one pooled client for its lifetime. Connection reuse
// matters here: a single sync run can issue thousands of page requests
// against the same host.
package session

import (
	"fmt"
	"net/http"
	"time"
)

// Config holds the session configuration.
type Config struct {
	// Timeout bounds the whole request including body read.
	Timeout time.Duration

	// Transport pool settings.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	// DisableKeepAlives forces a fresh connection per request.
	// Only needed for vendors with broken connection reuse.
	DisableKeepAlives bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:             45 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     0, // unlimited
		IdleConnTimeout:     90 * time.Second,
	}
}

// New creates an HTTP client with a pooled transport.
func New(cfg Config) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %v)", cfg.Timeout)
	}
	if cfg.MaxIdleConnsPerHost < 0 {
		return nil, fmt.Errorf("max_idle_conns_per_host must not be negative (got %d)", cfg.MaxIdleConnsPerHost)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}, nil
}

// MustNew is New for configurations known valid at compile time.
// It panics on configuration errors.
func MustNew(cfg Config) *http.Client {
	client, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return client
}
