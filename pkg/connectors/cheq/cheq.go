// Package cheq pulls order and menu data from the CHEQ point-of-sale API.
// CHEQ signals the last page with a boolean "end" field, so everything
// fetches flag-based and sequential.
package cheq

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

const defaultBaseURL = "https://api.cheq.tools/api"

// Config holds the connector configuration.
type Config struct {
	// APIKey is sent as the x-api-key header.
	APIKey string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// MaxPages bounds runaway end-flag loops. 0 uses the default of 1000.
	MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the CHEQ connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a CHEQ connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("cheq: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 1000
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "cheq",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("cheq: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("cheq: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "cheq").Logger(),
	}, nil
}

// Sales returns orders in the date range. paymentStatus filters by status
// code; nil requests all statuses (1 through 8).
func (c *Client) Sales(ctx context.Context, start, end time.Time, paymentStatus []int) (*tabular.Table, error) {
	if paymentStatus == nil {
		for status := 1; status <= 8; status++ {
			paymentStatus = append(paymentStatus, status)
		}
	}

	base, err := c.newRequest("/orders").WithJSONBody(map[string]any{
		"start_range":    start.UTC().Format("2006-01-02T15:04:05Z"),
		"end_range":      end.UTC().Format("2006-01-02T15:04:05Z"),
		"payment_status": paymentStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("cheq: %w", err)
	}

	result, err := c.fetchWhileNotEnd(ctx, base)
	if err != nil {
		return nil, err
	}

	table, err := result.Table("results")
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Msg("Sales fetched")

	return table, nil
}

// Menu returns the menu catalog. Each page carries one menu object under
// "results", so the table gets one row per page.
func (c *Client) Menu(ctx context.Context) (*tabular.Table, error) {
	result, err := c.fetchWhileNotEnd(ctx, c.newRequest("/menus"))
	if err != nil {
		return nil, err
	}

	var rows []tabular.Record
	for i, page := range result.Pages {
		doc, err := page.Object()
		if err != nil {
			return nil, fmt.Errorf("cheq: page %d: %w", i+1, err)
		}
		row, ok := doc["results"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cheq: page %d: results object missing", i+1)
		}
		rows = append(rows, row)
	}

	table := tabular.FromRecords(rows)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}
	return table, nil
}

func (c *Client) newRequest(path string) *fetch.Request {
	req := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+path)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// fetchWhileNotEnd pages through an endpoint until the "end" flag is set.
// A response without the flag is malformed; stopping early on a missing
// flag would silently drop the tail of the resource.
func (c *Client) fetchWhileNotEnd(ctx context.Context, base *fetch.Request) (*paginate.Result, error) {
	return c.driver.FetchWhile(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			return c.fetcher.Do(ctx, base.WithQuery("page", strconv.Itoa(page)))
		},
		func(p *fetch.Page) (bool, error) {
			doc, err := p.Object()
			if err != nil {
				return false, err
			}
			end, ok := doc["end"].(bool)
			if !ok {
				return false, fmt.Errorf("end flag missing")
			}
			return !end, nil
		},
	)
}
