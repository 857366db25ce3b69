// Package bump pulls raffle reporting data from the Bump 50:50 API.
//
// Reports are count-based: page 1 reports totalPages (absent means a
// single page), records live under "items". Bump documents a flat
// wait-and-retry contract, so the fetcher runs fixed 60 second delays
// instead of exponential backoff.
package bump

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://core-xt-api.bump5050.net"

// Config holds the connector configuration.
type Config struct {
	// Token is the Bump bearer token.
	Token string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// PageSize is the count parameter sent with every request.
	PageSize int

	// BatchSize is the concurrent page fan-out.
	BatchSize int

	// Retry overrides the fixed 3 attempts / 60s delay default.
	Retry fetch.RetryConfig

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Bump connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a Bump connector.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bump: token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 5000
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fetch.FixedDelayRetryConfig(3, time.Minute)
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "bump",
		HTTPClient: cfg.HTTPClient,
		Retry:      cfg.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("bump: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  cfg.BatchSize,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("bump: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "bump").Logger(),
	}, nil
}

// EventDetails returns raffle event details in the date range.
func (c *Client) EventDetails(ctx context.Context, start, end time.Time) (*tabular.Table, error) {
	return c.fetchReport(ctx, "/reports/events/details", map[string]string{
		"minDate": start.Format("2006-01-02"),
		"maxDate": end.Format("2006-01-02"),
	})
}

// Sales returns ticket sales in the date range. The range is widened to
// whole days: start at midnight, end one second before the next midnight.
func (c *Client) Sales(ctx context.Context, start, end time.Time) (*tabular.Table, error) {
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	dayEnd := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, end.Location()).
		AddDate(0, 0, 1).Add(-time.Second)

	return c.fetchReport(ctx, "/reports/sales", map[string]string{
		"minDate": dayStart.Format("2006-01-02T15:04:05.000000Z"),
		"maxDate": dayEnd.Format("2006-01-02T15:04:05.000000Z"),
	})
}

// Customers returns the customer report.
func (c *Client) Customers(ctx context.Context) (*tabular.Table, error) {
	return c.fetchReport(ctx, "/reports/customers", nil)
}

// Locations returns the location report.
func (c *Client) Locations(ctx context.Context) (*tabular.Table, error) {
	return c.fetchReport(ctx, "/reports/locations", nil)
}

// Nonprofits returns the nonprofit report.
func (c *Client) Nonprofits(ctx context.Context) (*tabular.Table, error) {
	return c.fetchReport(ctx, "/reports/nonprofits", nil)
}

func (c *Client) fetchReport(ctx context.Context, path string, extra map[string]string) (*tabular.Table, error) {
	base := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+path)
	base.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	base.Query.Set("count", strconv.Itoa(c.cfg.PageSize))
	for key, val := range extra {
		base.Query.Set(key, val)
	}

	result, err := c.driver.FetchNumbered(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			return c.fetcher.Do(ctx, base.WithQuery("page", strconv.Itoa(page)))
		},
		func(first *fetch.Page) (int, error) {
			doc, err := first.Object()
			if err != nil {
				return 0, err
			}
			// A response without totalPages is the whole report.
			total, ok := tabular.LookupInt(doc, "totalPages")
			if !ok {
				return 1, nil
			}
			return total, nil
		},
	)
	if err != nil {
		return nil, err
	}

	table, err := result.Table("items")
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("resource", path).
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Msg("Report fetched")

	return table, nil
}
