// Package blinkfire pulls social sponsorship analytics from the Blinkfire
// Developer API.
//
// Most endpoints report one day per request, so date-range pulls fan out
// into one request per day. List endpoints continue through an opaque
// next_page cursor: its presence in the payload addresses the following
// page, its absence ends the walk. Report payloads are deeply nested and
// come back as raw documents for downstream parsing.
package blinkfire

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

const defaultBaseURL = "https://api.blinkfire.com/developer/api/v1"

// streamingMediums are the platforms with a dedicated streaming report.
var streamingMediums = map[string]bool{
	"youtube": true,
	"twitch":  true,
	"huya":    true,
}

// Config holds the connector configuration.
type Config struct {
	// Token is the Blinkfire bearer token.
	Token string

	// EntityID identifies the team or brand being reported on.
	EntityID string

	// EntityGroup scopes the global ranking report.
	EntityGroup string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// Limit is the page size for cursor-paged list endpoints. 0 uses 10.
	Limit int

	// MaxPages bounds cursor walks. 0 uses the default of 1000.
	MaxPages int

	// Schema, when set, validates the column shape of every table result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Blinkfire connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	driver  *paginate.Driver
	logger  zerolog.Logger
}

// New creates a Blinkfire connector.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("blinkfire: token is required")
	}
	if cfg.EntityID == "" {
		return nil, fmt.Errorf("blinkfire: entity id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Limit == 0 {
		cfg.Limit = 10
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 1000
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "blinkfire",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("blinkfire: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("blinkfire: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		driver:  driver,
		logger:  log.With().Str("connector", "blinkfire").Logger(),
	}, nil
}

// Audiences returns the daily audience documents for the given days.
func (c *Client) Audiences(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.perDay(ctx, "/audiences/"+c.cfg.EntityID, days, func(day string) map[string]string {
		return map[string]string{"day": day}
	})
}

// DemographicsChannel returns per-channel demographics for every day and
// social medium.
func (c *Client) DemographicsChannel(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	mediums := []string{"facebook", "twitter", "instagram"}

	var docs []tabular.Record
	for _, day := range days {
		for _, medium := range mediums {
			doc, err := c.getDoc(ctx, "/demographics/channel", map[string]string{
				"entity_id":   c.cfg.EntityID,
				"medium_name": medium,
				"search_date": day.Format("2006-01-02"),
			})
			if err != nil {
				return docs, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// DemographicsEntity returns entity-level demographics per day.
func (c *Client) DemographicsEntity(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.perDay(ctx, "/demographics/entity", days, func(day string) map[string]string {
		return map[string]string{"entity_id": c.cfg.EntityID, "search_date": day}
	})
}

// DemographicsViewers returns viewership demographics per day, broken down
// by channel.
func (c *Client) DemographicsViewers(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.perDay(ctx, "/reports/viewership_demographics/"+c.cfg.EntityID, days, func(day string) map[string]string {
		return map[string]string{"start_date": day, "end_date": day, "breakdown": "channel"}
	})
}

// Teams returns the entity's team document.
func (c *Client) Teams(ctx context.Context) (tabular.Record, error) {
	return c.getDoc(ctx, "/teams/"+c.cfg.EntityID, nil)
}

// Venues returns the venues associated with the entity.
func (c *Client) Venues(ctx context.Context) (*tabular.Table, error) {
	doc, err := c.getDoc(ctx, "/venues", map[string]string{"team": c.cfg.EntityID})
	if err != nil {
		return nil, err
	}
	list, ok := doc["venues"].([]any)
	if !ok {
		return nil, fmt.Errorf("blinkfire: venues payload carries no venues list")
	}
	return c.tableFromList(list)
}

// Brands returns the brands sponsoring the entity.
func (c *Client) Brands(ctx context.Context) (*tabular.Table, error) {
	return c.fetchCursoredTable(ctx, "/brands", map[string]string{"sponsoring": c.cfg.EntityID}, "brands")
}

// People returns the people attached to the entity.
func (c *Client) People(ctx context.Context) (*tabular.Table, error) {
	return c.fetchCursoredTable(ctx, "/people", map[string]string{"team": c.cfg.EntityID}, "people")
}

// DeliveredInsights returns the insights delivered to the account.
func (c *Client) DeliveredInsights(ctx context.Context) (*tabular.Table, error) {
	return c.fetchCursoredTable(ctx, "/user/insights/delivered",
		map[string]string{"entity": c.cfg.EntityID}, "delivered_insights")
}

// GlobalRankingReport returns the entity group ranking per day.
func (c *Client) GlobalRankingReport(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	if c.cfg.EntityGroup == "" {
		return nil, fmt.Errorf("blinkfire: entity group is required for the global ranking report")
	}
	return c.perDay(ctx, "/reports/global_ranking/"+c.cfg.EntityID, days, func(day string) map[string]string {
		return map[string]string{"entity_group": c.cfg.EntityGroup, "start_date": day, "end_date": day}
	})
}

// AssetReport returns the per-asset valuation documents per day.
func (c *Client) AssetReport(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.dateRangeReport(ctx, "/reports/assets/"+c.cfg.EntityID, days)
}

// SponsorshipReport returns the sponsor valuation documents per day.
func (c *Client) SponsorshipReport(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.dateRangeReport(ctx, "/reports/sponsors/"+c.cfg.EntityID, days)
}

// DailyEngagementReport returns the engagement documents per day.
func (c *Client) DailyEngagementReport(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.dateRangeReport(ctx, "/reports/daily_engagement/"+c.cfg.EntityID, days)
}

// StreamingReport returns the streaming report documents per day for one
// of the supported mediums.
func (c *Client) StreamingReport(ctx context.Context, days []time.Time, medium string) ([]tabular.Record, error) {
	if !streamingMediums[medium] {
		return nil, fmt.Errorf("blinkfire: unsupported streaming medium %q", medium)
	}
	return c.dateRangeReport(ctx, fmt.Sprintf("/reports/%s_report/%s", medium, c.cfg.EntityID), days)
}

// SceneValueReport returns the scene valuation documents per day.
func (c *Client) SceneValueReport(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	return c.dateRangeReport(ctx, "/reports/scene_value/"+c.cfg.EntityID, days)
}

// CustomReport returns a custom report's documents per day.
func (c *Client) CustomReport(ctx context.Context, days []time.Time, reportID string) ([]tabular.Record, error) {
	return c.dateRangeReport(ctx, "/reports/custom_reports/"+reportID, days)
}

// Posts returns the entity's post documents per day, following the
// next_page cursor within each day.
func (c *Client) Posts(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	var docs []tabular.Record
	for _, day := range days {
		d := day.Format("2006-01-02")
		dayDocs, err := c.fetchCursoredDocs(ctx, "/posts", map[string]string{
			"entity":     c.cfg.EntityID,
			"start_date": d,
			"end_date":   d,
		}, nil)
		if err != nil {
			return docs, err
		}
		docs = append(docs, dayDocs...)
	}
	return docs, nil
}

// SponsorshipPosts returns the sponsor post documents per day, following
// the next_page cursor within each day.
func (c *Client) SponsorshipPosts(ctx context.Context, days []time.Time) ([]tabular.Record, error) {
	var docs []tabular.Record
	for _, day := range days {
		d := day.Format("2006-01-02")
		dayDocs, err := c.fetchCursoredDocs(ctx, "/reports/sponsors/"+c.cfg.EntityID+"/posts",
			map[string]string{
				"author":     "totals",
				"start_date": d,
				"end_date":   d,
			},
			map[string]string{"author": "totals"},
		)
		if err != nil {
			return docs, err
		}
		docs = append(docs, dayDocs...)
	}
	return docs, nil
}

// perDay fetches one document per day.
func (c *Client) perDay(ctx context.Context, path string, days []time.Time, params func(day string) map[string]string) ([]tabular.Record, error) {
	docs := make([]tabular.Record, 0, len(days))
	for _, day := range days {
		doc, err := c.getDoc(ctx, path, params(day.Format("2006-01-02")))
		if err != nil {
			return docs, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// dateRangeReport fetches a report endpoint once per day with a
// single-day start/end range.
func (c *Client) dateRangeReport(ctx context.Context, path string, days []time.Time) ([]tabular.Record, error) {
	return c.perDay(ctx, path, days, func(day string) map[string]string {
		return map[string]string{"start_date": day, "end_date": day}
	})
}

// fetchCursoredTable walks the next_page cursor and flattens the pages'
// record lists into one table.
func (c *Client) fetchCursoredTable(ctx context.Context, path string, contParams map[string]string, responseKey string) (*tabular.Table, error) {
	result, err := c.fetchCursored(ctx, path, contParams, contParams)
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

// fetchCursoredDocs walks the next_page cursor and returns the raw page
// documents. A nil contParams continues with only cursor and limit.
func (c *Client) fetchCursoredDocs(ctx context.Context, path string, firstParams, contParams map[string]string) ([]tabular.Record, error) {
	result, err := c.fetchCursored(ctx, path, firstParams, contParams)
	if err != nil {
		return nil, err
	}

	docs := make([]tabular.Record, 0, len(result.Pages))
	for _, page := range result.Pages {
		doc, err := page.Object()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Client) fetchCursored(ctx context.Context, path string, firstParams, contParams map[string]string) (*paginate.Result, error) {
	limit := strconv.Itoa(c.cfg.Limit)

	result, err := c.driver.FetchCursor(ctx,
		func(ctx context.Context, cursor string) (*fetch.Page, error) {
			params := make(map[string]string, len(firstParams)+2)
			if cursor == "" {
				for key, val := range firstParams {
					params[key] = val
				}
			} else {
				for key, val := range contParams {
					params[key] = val
				}
				params["cursor"] = cursor
			}
			params["limit"] = limit
			return c.get(ctx, path, params)
		},
		func(p *fetch.Page) (string, bool, error) {
			doc, err := p.Object()
			if err != nil {
				return "", false, err
			}
			cursor, ok := tabular.LookupString(doc, "next_page")
			return cursor, ok, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn().Str("resource", path).Int("pages", result.PagesFetched).Msg("Cursor walk truncated")
	}
	return result, nil
}

func (c *Client) getDoc(ctx context.Context, path string, params map[string]string) (tabular.Record, error) {
	page, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}
	return page.Object()
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (*fetch.Page, error) {
	req := fetch.NewRequest(http.MethodGet, c.cfg.BaseURL+path)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	for key, val := range params {
		req.Query.Set(key, val)
	}
	return c.fetcher.Do(ctx, req)
}

func (c *Client) tableFromList(list []any) (*tabular.Table, error) {
	records := make([]tabular.Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(tabular.Record)
		if !ok {
			return nil, fmt.Errorf("blinkfire: element %d is not an object", i)
		}
		records = append(records, rec)
	}
	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}
	return table, nil
}
