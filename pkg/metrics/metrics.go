// Package metrics provides the centralized Prometheus metrics reference.
// All metrics are defined in their respective packages (fetch, paginate,
// ratelimit, checkpoint) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the library.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/fetch):
//   - catnip_requests_total{connector, status} (Counter): Requests by connector and HTTP status
//   - catnip_request_duration_seconds{connector} (Histogram): Request duration by connector
//   - catnip_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/fetch):
//   - catnip_retries_total{error_class} (Counter): Retry attempts by error class
//   - catnip_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - catnip_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Pagination Metrics (pkg/paginate):
//   - catnip_pages_fetched_total{mode} (Counter): Pages fetched by dialect (numbered, while, cursor)
//   - catnip_pagination_truncated_total{mode} (Counter): Fetches cut short by the circuit breaker
//
// Rate Limit Metrics (pkg/ratelimit):
//   - catnip_rate_limit_waits_total (Counter): Requests that blocked waiting for a window slot
//   - catnip_rate_limit_wait_seconds (Histogram): Time spent waiting for a slot
//   - catnip_requests_in_window (Gauge): Requests currently inside the sliding window
//
// Checkpoint Metrics (pkg/checkpoint):
//   - catnip_checkpoint_hits_total (Counter): Loads that found a stored value
//   - catnip_checkpoint_misses_total (Counter): Loads that found nothing
//   - catnip_checkpoint_errors_total{operation} (Counter): Checkpoint operation errors
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(catnip_errors_total[5m])
//
//   # P95 Request Latency per Connector
//   histogram_quantile(0.95, rate(catnip_request_duration_seconds_bucket[5m]))
//
//   # Circuit Breaker Trips
//   increase(catnip_pagination_truncated_total[1h])
//
//   # Rate Limiter Pressure
//   rate(catnip_rate_limit_waits_total[5m])
