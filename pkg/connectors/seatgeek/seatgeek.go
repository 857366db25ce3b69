// Package seatgeek pulls ticket sales from the SeatGeek Ringside API.
//
// Authentication runs the OAuth client-credentials flow; the bearer token
// can be cached in a checkpoint store so runs share it. Sales page through
// a has_more/cursor loop. SeatGeek field names come back with a leading
// underscore or embedded quotes on some columns, so records are cleaned
// before they land in the table.
package seatgeek

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://ringside.seatgeek.com/v1"
	defaultAuthURL = "https://auth.seatgeek.com/oauth/token"

	defaultTokenName = "seatgeek_bearer_token"
)

// Config holds the connector configuration.
type Config struct {
	// ClientID and ClientSecret drive the client-credentials flow.
	ClientID     string
	ClientSecret string

	// BearerToken skips the token exchange when already known.
	BearerToken string

	// BaseURL and AuthURL override the API endpoints (for tests).
	BaseURL string
	AuthURL string

	// Tokens, when set, caches the bearer token under TokenName so
	// subsequent runs reuse it.
	Tokens    checkpoint.Store
	TokenName string

	// MaxPages bounds the sales cursor loop. 0 uses the default of 750000.
	MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the SeatGeek connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a SeatGeek connector.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("seatgeek: client id and secret are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenName == "" {
		cfg.TokenName = defaultTokenName
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 750000
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "seatgeek",
		HTTPClient: cfg.HTTPClient,
		Retry: fetch.RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("seatgeek: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("seatgeek: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "seatgeek").Logger(),
	}, nil
}

// CacheToken exchanges the client credentials for a bearer token and
// stores it in the configured token store.
func (c *Client) CacheToken(ctx context.Context) error {
	if c.cfg.Tokens == nil {
		return fmt.Errorf("seatgeek: token store is required to cache the token")
	}

	token, err := c.exchangeToken(ctx)
	if err != nil {
		return err
	}
	if err := c.cfg.Tokens.Save(ctx, c.cfg.TokenName, token); err != nil {
		return fmt.Errorf("seatgeek: save token: %w", err)
	}

	c.logger.Info().Str("name", c.cfg.TokenName).Msg("Bearer token cached")
	return nil
}

// Sales returns all ticket sales, following the cursor until has_more
// turns false.
func (c *Client) Sales(ctx context.Context) (*tabular.Table, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.driver.FetchCursor(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page, error) {
			req := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+"/sales")
			req.Header.Set("Authorization", "Bearer "+token)
			if cursor != "" {
				req = req.WithQuery("cursor", cursor)
			}
			return c.fetcher.Do(ctx, req)
		},
		func(p *fetch.Page) (string, bool, error) {
			doc, err := p.Object()
			if err != nil {
				return "", false, err
			}
			more, ok := doc["has_more"].(bool)
			if !ok || !more {
				return "", false, nil
			}
			cursor, ok := tabular.LookupString(doc, "cursor")
			if !ok {
				return "", false, fmt.Errorf("seatgeek: has_more set but cursor missing")
			}
			return cursor, true, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn().Int("pages", result.PagesFetched).Msg("Sales cursor loop truncated")
	}

	records, err := result.Records("data")
	if err != nil {
		return nil, err
	}
	for i, record := range records {
		records[i] = cleanRecord(record)
	}

	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Msg("Sales fetched")

	return table, nil
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.cfg.BearerToken != "" {
		return c.cfg.BearerToken, nil
	}
	if c.cfg.Tokens != nil {
		token, err := c.cfg.Tokens.Load(ctx, c.cfg.TokenName)
		if err == nil {
			return token, nil
		}
		if err != checkpoint.ErrNotFound {
			return "", fmt.Errorf("seatgeek: load token: %w", err)
		}
	}
	return c.exchangeToken(ctx)
}

func (c *Client) exchangeToken(ctx context.Context) (string, error) {
	// The audience is the API host without the version segment.
	audience := c.cfg.BaseURL
	if idx := strings.LastIndex(audience, "/"); idx > len("https://") {
		audience = audience[:idx]
	}

	req, err := fetch.NewRequest(http.MethodPost, c.cfg.AuthURL).WithJSONBody(map[string]string{
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
		"audience":      audience,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return "", fmt.Errorf("seatgeek: %w", err)
	}

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("seatgeek: token exchange: %w", err)
	}

	doc, err := page.Object()
	if err != nil {
		return "", fmt.Errorf("seatgeek: token exchange: %w", err)
	}
	token, ok := tabular.LookupString(doc, "access_token")
	if !ok || token == "" {
		return "", fmt.Errorf("seatgeek: token exchange returned no access_token")
	}
	return token, nil
}

// cleanRecord normalizes SeatGeek column names and trims transaction
// timestamps to second precision.
func cleanRecord(record tabular.Record) tabular.Record {
	cleaned := make(tabular.Record, len(record))
	for key, val := range record {
		key = strings.TrimPrefix(key, "_")
		key = strings.ReplaceAll(key, `"`, "")
		if key == "transaction_date" {
			if s, ok := val.(string); ok && len(s) > 19 {
				val = s[:19]
			}
		}
		cleaned[key] = val
	}
	return cleaned
}
