// Package tradablebits pulls CRM data from the Tradable Bits API.
//
// Fan search pages through a server-side search session (search_uid) and
// activities page through an ascending activity-id cursor, both terminated
// by an empty data list. Activity fetches can resume from a checkpointed
// cursor between runs.
package tradablebits

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://tradablebits.com/api/v1/crm"

// Config holds the connector configuration.
type Config struct {
	// APIKey and APISecret are sent as Api-Key / Api-Secret headers.
	APIKey    string
	APISecret string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// Checkpoints, when set, lets Activities resume from the cursor of
	// the previous run under CheckpointName.
	Checkpoints    checkpoint.Store
	CheckpointName string

	// MaxPages bounds cursor loops. 0 uses the default of 5000.
	MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Tradable Bits connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a Tradable Bits connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("tradablebits: api key and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 5000
	}
	if cfg.Checkpoints != nil && cfg.CheckpointName == "" {
		cfg.CheckpointName = "tradablebits_max_activity_id"
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "tradablebits",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("tradablebits: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("tradablebits: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "tradablebits").Logger(),
	}, nil
}

// Campaigns returns all campaigns. Single page.
func (c *Client) Campaigns(ctx context.Context) (*tabular.Table, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest("/campaigns"))
	if err != nil {
		return nil, err
	}

	records, err := tabular.ExtractRecords(page.Body, "data")
	if err != nil {
		return nil, fmt.Errorf("tradablebits: %w", err)
	}

	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}
	return table, nil
}

// Fans returns all fans. The first response opens a server-side search
// session; its search_uid addresses every following page until the data
// list comes back empty.
func (c *Client) Fans(ctx context.Context) (*tabular.Table, error) {
	result, err := c.driver.FetchCursor(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page, error) {
			req := c.newRequest("/fans")
			if cursor != "" {
				req = req.WithQuery("search_uid", cursor)
			}
			return c.fetcher.Do(ctx, req)
		},
		func(p *fetch.Page) (string, bool, error) {
			doc, err := p.Object()
			if err != nil {
				return "", false, err
			}
			records, err := tabular.ExtractRecords(p.Body, "data")
			if err != nil {
				return "", false, err
			}
			if len(records) == 0 {
				return "", false, nil
			}
			searchUID, ok := tabular.LookupString(doc, "meta.search_uid")
			if !ok {
				return "", false, fmt.Errorf("search_uid missing")
			}
			return searchUID, true, nil
		},
	)
	if err != nil {
		return nil, err
	}
	return c.tableFrom(result)
}

// Activities returns fan activities with IDs above sinceID. An empty
// sinceID starts from the beginning; a configured checkpoint store takes
// precedence and persists the cursor for the next run.
func (c *Client) Activities(ctx context.Context, sinceID string) (*tabular.Table, error) {
	fetchPage := func(ctx context.Context, cursor string) (*fetch.Page, error) {
		if cursor == "" {
			cursor = sinceID
		}
		req := c.newRequest("/activities")
		if cursor != "" {
			req = req.WithQuery("min_activity_id", cursor)
		}
		return c.fetcher.Do(ctx, req)
	}

	next := func(p *fetch.Page) (string, bool, error) {
		doc, err := p.Object()
		if err != nil {
			return "", false, err
		}
		records, err := tabular.ExtractRecords(p.Body, "data")
		if err != nil {
			return "", false, err
		}
		if len(records) == 0 {
			return "", false, nil
		}
		maxID, ok := tabular.LookupInt(doc, "meta.max_activity_id")
		if !ok {
			return "", false, fmt.Errorf("max_activity_id missing")
		}
		return strconv.Itoa(maxID), true, nil
	}

	var result *paginate.Result
	var err error
	if c.cfg.Checkpoints != nil {
		result, err = c.driver.FetchCursorCheckpointed(ctx, c.cfg.Checkpoints, c.cfg.CheckpointName, fetchPage, next)
	} else {
		result, err = c.driver.FetchCursor(ctx, fetchPage, next)
	}
	if err != nil {
		return nil, err
	}
	return c.tableFrom(result)
}

func (c *Client) newRequest(path string) *fetch.Request {
	req := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+path)
	req.Header.Set("Api-Key", c.cfg.APIKey)
	req.Header.Set("Api-Secret", c.cfg.APISecret)
	return req
}

func (c *Client) tableFrom(result *paginate.Result) (*tabular.Table, error) {
	table, err := result.Table("data")
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Bool("truncated", result.Truncated).
		Msg("Resource fetched")

	return table, nil
}
