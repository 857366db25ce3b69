// Package nhl pulls league reference and game data from the NHL stats API.
//
// The API is public and unauthenticated. Responses are single documents;
// the record list sits under a resource-specific key, or the payload
// itself is the list for the smaller lookup endpoints.
package nhl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://statsapi.web.nhl.com/api/v1"

// Config holds the connector configuration.
type Config struct {
	// BaseURL overrides the API root (for tests).
	BaseURL string

	// Retry overrides the 5 attempt default.
	Retry fetch.RetryConfig

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the NHL stats connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates an NHL stats connector.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fetch.RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    500 * time.Millisecond,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "nhl",
		HTTPClient: cfg.HTTPClient,
		Retry:      cfg.Retry,
	})
	if err != nil {
		return nil, fmt.Errorf("nhl: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "nhl").Logger(),
	}, nil
}

// Teams returns all league teams.
func (c *Client) Teams(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/teams", "teams")
}

// Venues returns all venues.
func (c *Client) Venues(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/venues", "venues")
}

// Seasons returns all seasons.
func (c *Client) Seasons(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/seasons", "seasons")
}

// GameTypes returns the game type lookup. The payload is a bare list.
func (c *Client) GameTypes(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/gameTypes", "")
}

// GameStatuses returns the game status lookup.
func (c *Client) GameStatuses(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/gameStatus", "")
}

// Positions returns the player position lookup.
func (c *Client) Positions(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/positions", "")
}

// Schedule returns the games scheduled on one day. A day with no games
// yields an empty table.
func (c *Client) Schedule(ctx context.Context, day time.Time, gameType string) (*tabular.Table, error) {
	req := c.newRequest(c.cfg.BaseURL + "/schedule")
	req.Query.Set("date", day.Format("2006-01-02"))
	if gameType != "" {
		req.Query.Set("gameType", gameType)
	}

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}

	// Games nest one level down: dates[0].games. An empty dates list
	// means no games that day.
	dates, err := tabular.ExtractRecords(page.Body, "dates")
	if err != nil {
		return nil, fmt.Errorf("nhl: schedule: %w", err)
	}
	if len(dates) == 0 {
		return &tabular.Table{}, nil
	}

	games, ok := dates[0]["games"].([]any)
	if !ok {
		return nil, fmt.Errorf("nhl: schedule day carries no games list")
	}
	records := make([]tabular.Record, 0, len(games))
	for i, game := range games {
		rec, ok := game.(tabular.Record)
		if !ok {
			return nil, fmt.Errorf("nhl: schedule game %d is not an object", i)
		}
		records = append(records, rec)
	}

	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}
	return table, nil
}

// Standings returns the by-league standings document for a season.
func (c *Client) Standings(ctx context.Context, season string) (tabular.Record, error) {
	req := c.newRequest(c.cfg.BaseURL + "/standings")
	req.Query.Set("season", season)
	req.Query.Set("standingsType", "byLeague")

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return page.Object()
}

// Boxscore returns the boxscore document for one game.
func (c *Client) Boxscore(ctx context.Context, gameID string) (tabular.Record, error) {
	return c.fetchOne(ctx, "/game/"+gameID+"/boxscore")
}

// Linescore returns the linescore document for one game.
func (c *Client) Linescore(ctx context.Context, gameID string) (tabular.Record, error) {
	return c.fetchOne(ctx, "/game/"+gameID+"/linescore")
}

// Player returns one player's profile rows.
func (c *Client) Player(ctx context.Context, playerID string) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/people/"+playerID, "people")
}

func (c *Client) fetchTable(ctx context.Context, path, responseKey string) (*tabular.Table, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(c.cfg.BaseURL+path))
	if err != nil {
		return nil, err
	}

	records, err := tabular.ExtractRecords(page.Body, responseKey)
	if err != nil {
		return nil, fmt.Errorf("nhl: %s: %w", path, err)
	}

	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("resource", path).
		Int("rows", table.NumRows()).
		Msg("Resource fetched")

	return table, nil
}

func (c *Client) fetchOne(ctx context.Context, path string) (tabular.Record, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(c.cfg.BaseURL+path))
	if err != nil {
		return nil, err
	}
	return page.Object()
}

func (c *Client) newRequest(url string) *fetch.Request {
	return fetch.NewRequest(http.MethodGet, url)
}
