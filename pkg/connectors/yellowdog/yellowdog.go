// Package yellowdog pulls inventory data from the Yellow Dog Fetch API.
//
// Fetch pages by pageNumber and signals the end of a resource through the
// x-pagination response header: its nextPageLink field is the empty string
// on the final page. Responses are bare record lists. The API allows two
// requests per second.
package yellowdog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/ratelimit"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL = "https://fetch.yellowdogsoftware.com/api/v3"
	defaultAuthURL = "https://auth.yellowdogsoftware.com/token"
)

// Config holds the connector configuration. Either AccessToken or the
// Username/Password/ClientID triple must be set.
type Config struct {
	Username string
	Password string
	ClientID string

	// AccessToken skips the credential login when already known.
	AccessToken string

	// BaseURL and AuthURL override the API endpoints (for tests).
	BaseURL string
	AuthURL string

	// PageSize is the pageSize parameter. 0 uses the default of 500.
	PageSize int

	// MaxPages bounds page walks. 0 uses the default of 5000.
	MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Yellow Dog connector.
type Client struct {
	cfg     Config
	token   string
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a Yellow Dog connector.
func New(cfg Config) (*Client, error) {
	hasToken := cfg.AccessToken != ""
	hasCredentials := cfg.Username != "" && cfg.Password != "" && cfg.ClientID != ""
	if !hasToken && !hasCredentials {
		return nil, fmt.Errorf("yellowdog: either access token or username, password and client id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 500
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 5000
	}

	limiter, err := ratelimit.New(2, time.Second)
	if err != nil {
		return nil, fmt.Errorf("yellowdog: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "yellowdog",
		HTTPClient: cfg.HTTPClient,
		Limiter:    limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("yellowdog: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("yellowdog: %w", err)
	}

	return &Client{
		cfg:     cfg,
		token:   cfg.AccessToken,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "yellowdog").Logger(),
	}, nil
}

// Items returns the item catalog.
func (c *Client) Items(ctx context.Context) (*tabular.Table, error) {
	return c.fetchPaged(ctx, "items")
}

// Recipes returns all recipes.
func (c *Client) Recipes(ctx context.Context) (*tabular.Table, error) {
	return c.fetchPaged(ctx, "recipes")
}

// RecipeTypes returns all recipe types.
func (c *Client) RecipeTypes(ctx context.Context) (*tabular.Table, error) {
	return c.fetchPaged(ctx, "recipetypes")
}

// Dimensions returns all dimensions.
func (c *Client) Dimensions(ctx context.Context) (*tabular.Table, error) {
	return c.fetchPaged(ctx, "dimensions")
}

func (c *Client) fetchPaged(ctx context.Context, resource string) (*tabular.Table, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.driver.FetchWhile(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			req := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+"/"+resource)
			req.Header.Set("Authorization", "Bearer "+token)
			req.Query.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
			req.Query.Set("pageNumber", strconv.Itoa(page))
			return c.fetcher.Do(ctx, req)
		},
		func(p *fetch.Page) (bool, error) {
			header := p.Header.Get("x-pagination")
			if header == "" {
				return false, fmt.Errorf("yellowdog: x-pagination header missing on %s", resource)
			}
			var pagination struct {
				NextPageLink string `json:"nextPageLink"`
			}
			if err := json.Unmarshal([]byte(header), &pagination); err != nil {
				return false, fmt.Errorf("yellowdog: malformed x-pagination header: %w", err)
			}
			return pagination.NextPageLink != "", nil
		},
	)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn().Str("resource", resource).Int("pages", result.PagesFetched).Msg("Page walk truncated")
	}

	table, err := result.Table("")
	if err != nil {
		return nil, err
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("resource", resource).
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Msg("Resource fetched")

	return table, nil
}

// accessToken returns the configured token or logs in with the
// credentials, memoizing the result for the client's lifetime.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	req, err := fetch.NewRequest(http.MethodPost, c.cfg.AuthURL).WithJSONBody(map[string]string{
		"userName": c.cfg.Username,
		"password": c.cfg.Password,
		"clientId": c.cfg.ClientID,
	})
	if err != nil {
		return "", fmt.Errorf("yellowdog: %w", err)
	}

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("yellowdog: login: %w", err)
	}

	doc, err := page.Object()
	if err != nil {
		return "", fmt.Errorf("yellowdog: login: %w", err)
	}
	token, ok := tabular.LookupString(doc, "result.accessToken")
	if !ok || token == "" {
		return "", fmt.Errorf("yellowdog: login returned no access token")
	}

	c.token = token
	return token, nil
}
