// Package fetch performs single-page HTTP requests with classification,
// retry and rate limiting. Pagination drivers sit on top of it; connectors
// describe requests and let the fetcher deal with transient failure.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/catnip-data/catnip/pkg/ratelimit"
	"github.com/catnip-data/catnip/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for fetch operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catnip_requests_total",
		Help: "Total requests by connector and status",
	}, []string{"connector", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catnip_request_duration_seconds",
		Help:    "Request duration in seconds by connector",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"connector"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catnip_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Page is one fetched response, body fully read.
type Page struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the page body into v. A body that does not decode is a
// malformed-payload hard failure.
func (p *Page) JSON(v any) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// Object decodes the page body as a JSON object.
func (p *Page) Object() (map[string]any, error) {
	var doc map[string]any
	if err := p.JSON(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Config holds the fetcher configuration.
type Config struct {
	// Connector names the owning connector for logs and metric labels.
	Connector string

	// HTTPClient issues the requests. Defaults to a pooled session client.
	HTTPClient *http.Client

	// Limiter, when set, gates every attempt through a sliding window.
	Limiter *ratelimit.Limiter

	// Retry controls backoff behavior. Zero value means DefaultRetryConfig.
	Retry RetryConfig

	// UserAgent is sent with every request when set.
	UserAgent string
}

// Fetcher issues single-page requests with retry and classification.
type Fetcher struct {
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	retry      RetryConfig
	userAgent  string
	connector  string
	logger     zerolog.Logger
}

// New creates a fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Connector == "" {
		return nil, fmt.Errorf("connector name is required")
	}

	if cfg.HTTPClient == nil {
		client, err := session.New(session.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("default session: %w", err)
		}
		cfg.HTTPClient = client
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	return &Fetcher{
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
		retry:      cfg.Retry,
		userAgent:  cfg.UserAgent,
		connector:  cfg.Connector,
		logger:     log.With().Str("component", "fetch").Str("connector", cfg.Connector).Logger(),
	}, nil
}

// Do performs one logical page fetch. Transient failures (5xx, 429,
// network errors) are retried with backoff; other 4xx responses and
// retry exhaustion surface as errors. Returned pages are always 2xx.
func (f *Fetcher) Do(ctx context.Context, req *Request) (*Page, error) {
	endpoint := req.Endpoint()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(f.connector).Observe(time.Since(startTime).Seconds())
	}()

	var page *Page

	retryErr := retryWithBackoff(ctx, f.retry, func() error {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		attempt, err := f.attempt(ctx, req, endpoint)
		if err != nil {
			return err
		}
		page = attempt
		return nil
	})

	if retryErr != nil {
		return nil, retryErr
	}
	return page, nil
}

// attempt issues the request once and classifies the outcome.
func (f *Fetcher) attempt(ctx context.Context, req *Request, endpoint string) (*Page, error) {
	httpReq, err := req.build(ctx)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}

	resp, reqErr := f.httpClient.Do(httpReq)
	if reqErr != nil {
		f.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(f.connector, "network_error").Inc()
		return nil, reqErr
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		requestsTotal.WithLabelValues(f.connector, "network_error").Inc()
		return nil, fmt.Errorf("read response body: %w", readErr)
	}

	requestsTotal.WithLabelValues(f.connector, fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		errClass := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		f.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Request error")

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      errClass,
			Endpoint:   endpoint,
			Message:    resp.Status,
		}
	}

	f.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Request complete")

	return &Page{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// classifyStatus categorizes a non-2xx status for retry decisions and metrics.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}
