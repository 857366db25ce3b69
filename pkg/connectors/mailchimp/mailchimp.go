// Package mailchimp pulls audience lists and members from the Mailchimp
// Marketing API. Mailchimp reports total_items instead of a page count,
// so the page count is derived and pages are addressed by offset.
package mailchimp

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the connector configuration.
type Config struct {
	// APIKey is the Mailchimp API key. The data center is parsed from
	// its suffix ("...-us14" talks to us14.api.mailchimp.com).
	APIKey string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// PageSize is the count parameter sent with every request.
	PageSize int

	// BatchSize is the concurrent page fan-out.
	BatchSize int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Mailchimp connector.
type Client struct {
	cfg     Config
	baseURL string
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a Mailchimp connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("mailchimp: api key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		idx := strings.LastIndex(cfg.APIKey, "-")
		if idx < 0 || idx == len(cfg.APIKey)-1 {
			return nil, fmt.Errorf("mailchimp: api key carries no data center suffix")
		}
		baseURL = fmt.Sprintf("https://%s.api.mailchimp.com/3.0", cfg.APIKey[idx+1:])
	}

	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "mailchimp",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("mailchimp: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  cfg.BatchSize,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("mailchimp: %w", err)
	}

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "mailchimp").Logger(),
	}, nil
}

// Lists returns all audience lists.
func (c *Client) Lists(ctx context.Context) (*tabular.Table, error) {
	return c.fetchOffset(ctx, "/lists", "lists")
}

// ListMembers returns all members of one audience list.
func (c *Client) ListMembers(ctx context.Context, listID string) (*tabular.Table, error) {
	if listID == "" {
		return nil, fmt.Errorf("mailchimp: list id is required")
	}
	return c.fetchOffset(ctx, "/lists/"+listID+"/members", "members")
}

func (c *Client) fetchOffset(ctx context.Context, path, responseKey string) (*tabular.Table, error) {
	base := fetch.NewRequest(http.MethodGet, c.baseURL+path)
	base.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	base.Query.Set("count", strconv.Itoa(c.cfg.PageSize))

	result, err := c.driver.FetchNumbered(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			offset := (page - 1) * c.cfg.PageSize
			return c.fetcher.Do(ctx, base.WithQuery("offset", strconv.Itoa(offset)))
		},
		func(first *fetch.Page) (int, error) {
			doc, err := first.Object()
			if err != nil {
				return 0, err
			}
			totalItems, ok := tabular.LookupInt(doc, "total_items")
			if !ok {
				return 0, fmt.Errorf("mailchimp: total_items missing on %s", path)
			}
			return (totalItems + c.cfg.PageSize - 1) / c.cfg.PageSize, nil
		},
	)
	if err != nil {
		return nil, err
	}

	table, err := result.Table(responseKey)
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
		Msg("Resource fetched")

	return table, nil
}
