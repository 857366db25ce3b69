package paginate

import (
	"fmt"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catnip_pages_fetched_total",
		Help: "Total pages fetched by pagination mode",
	}, []string{"mode"})

	paginationTruncatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catnip_pagination_truncated_total",
		Help: "Fetches cut short by the pagination circuit breaker",
	}, []string{"mode"})
)

// Config holds the pagination driver configuration.
type Config struct {
	// BatchSize is the number of concurrent requests per window in
	// count-based mode. Vendors tolerate different fan-out; 5 to 35
	// are the values in production use.
	BatchSize int

	// MaxPages bounds the total number of pages fetched. 0 means unbounded.
	MaxPages int

	// MaxElapsed bounds the wall-clock duration of one fetch.
	// 0 means unbounded.
	MaxElapsed time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:  25,
		MaxPages:   0,
		MaxElapsed: 5 * time.Minute,
	}
}

// Driver runs paginated fetches.
type Driver struct {
	config Config
	logger zerolog.Logger
}

// New creates a pagination driver.
func New(cfg Config) (*Driver, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch_size must be positive (got %d)", cfg.BatchSize)
	}
	if cfg.MaxPages < 0 {
		return nil, fmt.Errorf("max_pages must not be negative (got %d)", cfg.MaxPages)
	}
	if cfg.MaxElapsed < 0 {
		return nil, fmt.Errorf("max_elapsed must not be negative (got %v)", cfg.MaxElapsed)
	}

	return &Driver{
		config: cfg,
		logger: log.With().Str("component", "paginate").Logger(),
	}, nil
}

// Result holds the pages of one paginated fetch.
type Result struct {
	// Pages in page order (count-based) or arrival order (sequential modes).
	Pages []*fetch.Page

	// PagesFetched is the number of pages in Pages.
	PagesFetched int

	// Truncated reports that the circuit breaker cut the fetch short.
	// The pages gathered before the trip are still present.
	Truncated bool
}

// Records extracts and flattens the record lists of every page under the
// given response key.
func (r *Result) Records(responseKey string) ([]tabular.Record, error) {
	var records []tabular.Record
	for i, page := range r.Pages {
		pageRecords, err := tabular.ExtractRecords(page.Body, responseKey)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		records = append(records, pageRecords...)
	}
	return records, nil
}

// Table extracts all records and materializes them as a table.
func (r *Result) Table(responseKey string) (*tabular.Table, error) {
	records, err := r.Records(responseKey)
	if err != nil {
		return nil, err
	}
	return tabular.FromRecords(records), nil
}

// pageBudgetExceeded reports whether fetching one more page would cross
// the MaxPages ceiling.
func (d *Driver) pageBudgetExceeded(fetched int) bool {
	return d.config.MaxPages > 0 && fetched >= d.config.MaxPages
}

// elapsedBudgetExceeded reports whether the wall-clock ceiling has passed.
func (d *Driver) elapsedBudgetExceeded(start time.Time) bool {
	return d.config.MaxElapsed > 0 && time.Since(start) >= d.config.MaxElapsed
}
