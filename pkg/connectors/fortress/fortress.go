// Package fortress pulls ticketing data from the Fortress GB CRM API.
//
// Fortress paging is request-body driven: every POST carries a Header
// block with the API key plus PageSize and PageNumber, and the first
// response reports statistics.numberOfPages. The API tolerates roughly
// one request every 4.5 seconds, so pages run sequentially behind a
// limiter. Records carry a response_datetime column taken from the Date
// header of the first response.
package fortress

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/ratelimit"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Resource names a Fortress paging endpoint.
type Resource string

const (
	Attendance Resource = "TimeAttendanceInformation_Paging"
	Events     Resource = "EventInformation_PagingStatistics"
	Members    Resource = "MemberInformation_PagingStatistics"
	Tickets    Resource = "TicketInformation_PagingStatistics"
)

// Config holds the connector configuration.
type Config struct {
	// APIKey rides in the payload Header block; Username and Password
	// form the Basic auth credential.
	APIKey   string
	Username string
	Password string

	// AppID and AgencyCode identify the client installation.
	AppID      string
	AgencyCode string

	// BaseURL is the season-specific CRM API root.
	BaseURL string

	// PageSize is the PageSize payload field. 0 uses the default of 1000.
	PageSize int

	// RateWindow is the minimum spacing between requests. 0 uses the
	// default of 4500ms.
	RateWindow time.Duration

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Fortress connector.
type Client struct {
	cfg       Config
	authValue string
	fetcher   *fetch.Fetcher
	driver    *paginate.Driver
	logger    zerolog.Logger
}

// New creates a Fortress connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("fortress: api key, username and password are required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("fortress: base url is required")
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 1000
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = 4500 * time.Millisecond
	}

	limiter, err := ratelimit.New(1, cfg.RateWindow)
	if err != nil {
		return nil, fmt.Errorf("fortress: %w", err)
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "fortress",
		HTTPClient: cfg.HTTPClient,
		Limiter:    limiter,
		Retry: fetch.RetryConfig{
			MaxAttempts:       5,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        32 * time.Second,
			BackoffMultiplier: 2.0,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fortress: %w", err)
	}

	driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxElapsed: 30 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("fortress: %w", err)
	}

	credentials := cfg.Username + ":" + cfg.Password
	return &Client{
		cfg:       cfg,
		authValue: "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		fetcher:   fetcher,
		driver:    driver,
		logger:    log.With().Str("connector", "fortress").Logger(),
	}, nil
}

// Data returns all records of the resource between the two timestamps.
func (c *Client) Data(ctx context.Context, resource Resource, from, to time.Time) (*tabular.Table, error) {
	var responseTime string

	result, err := c.driver.FetchNumbered(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			req, err := fetch.NewRequest(http.MethodPost, c.cfg.BaseURL+"/"+string(resource)+"/").
				WithJSONBody(c.payload(from, to, page))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", c.authValue)
			return c.fetcher.Do(ctx, req)
		},
		func(first *fetch.Page) (int, error) {
			if date := first.Header.Get("Date"); date != "" {
				if parsed, err := http.ParseTime(date); err == nil {
					responseTime = parsed.UTC().Format("2006-01-02T15:04:05")
				}
			}
			doc, err := first.Object()
			if err != nil {
				return 0, err
			}
			pages, ok := tabular.LookupInt(doc, "statistics.numberOfPages")
			if !ok {
				return 0, fmt.Errorf("fortress: numberOfPages missing on %s", resource)
			}
			return pages, nil
		},
	)
	if err != nil {
		return nil, err
	}

	records, err := result.Records("data")
	if err != nil {
		return nil, err
	}
	for i, record := range records {
		records[i] = sanitizeRecord(record, responseTime)
	}

	table := tabular.FromRecords(records)
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("resource", string(resource)).
		Int("pages", result.PagesFetched).
		Int("rows", table.NumRows()).
		Msg("Resource fetched")

	return table, nil
}

func (c *Client) payload(from, to time.Time, page int) map[string]any {
	return map[string]any{
		"Header": map[string]any{
			"Client_AppID":      c.cfg.AppID,
			"Client_APIKey":     c.cfg.APIKey,
			"Client_AgencyCode": c.cfg.AgencyCode,
			"UniqID":            1,
		},
		"PageSize":     c.cfg.PageSize,
		"PageNumber":   page,
		"FromDateTime": from.Format("2006-01-02T15:04:05"),
		"ToDateTime":   to.Format("2006-01-02T15:04:05"),
	}
}

// sanitizeRecord replaces non-numeric identifier values with the 999
// placeholder Fortress exports use, and stamps the response time.
func sanitizeRecord(record tabular.Record, responseTime string) tabular.Record {
	for _, key := range []string{"fbMemberID", "accountID", "seat"} {
		val, ok := record[key]
		if !ok {
			continue
		}
		if !isDigits(fmt.Sprint(val)) {
			record[key] = "999"
		}
	}
	if responseTime != "" {
		record["response_datetime"] = responseTime
	}
	return record
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
