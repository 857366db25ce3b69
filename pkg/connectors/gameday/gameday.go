// Package gameday pushes member records into the Gameday rewards API.
//
// Members are posted in batches of at most 100. Each batch settles on its
// own: a rejected batch is recorded in the outcome list and the remaining
// batches still run.
package gameday

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/catnip-data/catnip/pkg/connectors"
	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.dev.flapanthersgameday.com"

// Config holds the connector configuration.
type Config struct {
	// APIKey is sent as the x-api-key header.
	APIKey string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// BatchSize caps members per request. 0 uses the default of 100.
	BatchSize int

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Gameday connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates a Gameday connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gameday: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "gameday",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("gameday: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "gameday").Logger(),
	}, nil
}

// PostMembers uploads the member rows in batches and returns one outcome
// per batch. A failed batch does not stop the batches after it.
func (c *Client) PostMembers(ctx context.Context, members []tabular.Record) ([]connectors.BatchResult, error) {
	batches := tabular.Chunk(members, c.cfg.BatchSize)
	if len(batches) == 0 {
		return nil, fmt.Errorf("gameday: no members to post")
	}

	results := make([]connectors.BatchResult, 0, len(batches))
	for i, batch := range batches {
		results = append(results, c.postBatch(ctx, i+1, batch))
	}

	if failed := connectors.Failed(results); failed > 0 {
		c.logger.Warn().
			Int("batches", len(results)).
			Int("failed", failed).
			Msg("Member upload finished with failed batches")
	} else {
		c.logger.Info().
			Int("batches", len(results)).
			Int("members", len(members)).
			Msg("Members posted")
	}

	return results, nil
}

func (c *Client) postBatch(ctx context.Context, batch int, members []tabular.Record) connectors.BatchResult {
	req, err := fetch.NewRequest(http.MethodPost, c.cfg.BaseURL+"/add-members").
		WithJSONBody(map[string]any{"members": members})
	if err != nil {
		return connectors.BatchResult{Batch: batch, Err: err}
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		result := connectors.BatchResult{Batch: batch, Err: err}
		var apiErr *fetch.APIError
		if errors.As(err, &apiErr) {
			result.StatusCode = apiErr.StatusCode
		}
		return result
	}
	return connectors.BatchResult{Batch: batch, StatusCode: page.StatusCode, Body: page.Body}
}
