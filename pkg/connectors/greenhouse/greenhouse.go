// Package greenhouse pulls recruiting data from the Greenhouse Harvest API.
//
// Harvest paginates through RFC 5988 Link headers: the rel="next" URL of
// each response addresses the following page, and its absence terminates
// the walk. Responses are bare record lists. Requests across all resources
// share one rate limiter.
package greenhouse

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/ratelimit"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://harvest.greenhouse.io/v1"

// Config holds the connector configuration.
type Config struct {
	// APIKey is the Harvest API key, sent as Basic auth with an empty
	// password.
	APIKey string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// RateCeiling and RateWindow bound the request rate. Zero values use
	// the Harvest default of 10 requests per second.
	RateCeiling int
	RateWindow  time.Duration

	// MaxPages bounds Link-header walks. 0 uses the default of 5000.
	MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Greenhouse connector.
type Client struct {
	cfg       Config
	authValue string
	fetcher   *fetch.Fetcher
	driver    *paginate.Driver
	logger    zerolog.Logger
}

// New creates a Greenhouse connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("greenhouse: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.RateCeiling == 0 {
		cfg.RateCeiling = 10
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = time.Second
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 5000
	}

	limiter, err := ratelimit.New(cfg.RateCeiling, cfg.RateWindow)
	if err != nil {
		return nil, fmt.Errorf("greenhouse: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "greenhouse",
		HTTPClient: cfg.HTTPClient,
		Limiter:    limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("greenhouse: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("greenhouse: %w", err)
	}

	return &Client{
		cfg:       cfg,
		authValue: "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":")),
		fetcher:   fetcher,
		driver:    driver,
		logger:    log.With().Str("connector", "greenhouse").Logger(),
	}, nil
}

// Jobs returns all jobs.
func (c *Client) Jobs(ctx context.Context) (*tabular.Table, error) {
	return c.fetchLinked(ctx, "jobs")
}

// Candidates returns all candidates.
func (c *Client) Candidates(ctx context.Context) (*tabular.Table, error) {
	return c.fetchLinked(ctx, "candidates")
}

// Applications returns all applications.
func (c *Client) Applications(ctx context.Context) (*tabular.Table, error) {
	return c.fetchLinked(ctx, "applications")
}

// JobPosts returns all job posts.
func (c *Client) JobPosts(ctx context.Context) (*tabular.Table, error) {
	return c.fetchLinked(ctx, "job_posts")
}

// Job returns one job by id.
func (c *Client) Job(ctx context.Context, jobID int) (tabular.Record, error) {
	return c.fetchOne(ctx, fmt.Sprintf("jobs/%d", jobID))
}

// Candidate returns one candidate by id.
func (c *Client) Candidate(ctx context.Context, candidateID int) (tabular.Record, error) {
	return c.fetchOne(ctx, fmt.Sprintf("candidates/%d", candidateID))
}

// Application returns one application by id.
func (c *Client) Application(ctx context.Context, applicationID int) (tabular.Record, error) {
	return c.fetchOne(ctx, fmt.Sprintf("applications/%d", applicationID))
}

// DownloadAttachment fetches an attachment by its absolute URL.
func (c *Client) DownloadAttachment(ctx context.Context, attachmentURL string) ([]byte, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(attachmentURL))
	if err != nil {
		return nil, err
	}
	return page.Body, nil
}

// fetchLinked walks the Link header chain starting at the resource root.
func (c *Client) fetchLinked(ctx context.Context, resource string) (*tabular.Table, error) {
	start := c.cfg.BaseURL + "/" + resource

	result, err := c.driver.FetchCursor(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page, error) {
			url := cursor
			if url == "" {
				url = start
			}
			return c.fetcher.Do(ctx, c.newRequest(url))
		},
		func(p *fetch.Page) (string, bool, error) {
			next := nextLink(p.Header.Get("Link"))
			return next, next != "", nil
		},
	)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn().Str("resource", resource).Int("pages", result.PagesFetched).Msg("Link walk truncated")
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

func (c *Client) fetchOne(ctx context.Context, path string) (tabular.Record, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(c.cfg.BaseURL+"/"+path))
	if err != nil {
		return nil, err
	}
	return page.Object()
}

func (c *Client) newRequest(url string) *fetch.Request {
	req := fetch.NewRequest(http.MethodGet, url)
	req.Header.Set("Authorization", c.authValue)
	return req
}

// nextLink extracts the rel="next" URL from a Link header, or "" when the
// header carries none.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		url := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return url
			}
		}
	}
	return ""
}
