// Package parkhub pulls parking event and transaction data from the
// Parkhub partner API.
//
// Events and lots are plain keyed lists. The transaction report is
// asynchronous: requesting it returns a file identifier whose status is
// polled until the report leaves PENDING, then the finished CSV file is
// downloaded and parsed. Polling is bounded; a report still pending after
// the final poll is an error.
package parkhub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://partners.v2.parkhub.com"

// Config holds the connector configuration.
type Config struct {
	// Username and Password form the Basic auth pair.
	Username string
	Password string

	// APIKey is sent as x-api-key alongside the Basic auth.
	APIKey string

	// OrganizationID scopes every resource path.
	OrganizationID string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// PollInterval and MaxPolls bound the report status loop. Zero values
	// use 2 seconds and 30 polls.
	PollInterval time.Duration
	MaxPolls     int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Parkhub connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates a Parkhub connector.
func New(cfg Config) (*Client, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("parkhub: username and password are required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("parkhub: api key is required")
	}
	if cfg.OrganizationID == "" {
		return nil, fmt.Errorf("parkhub: organization id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 30
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "parkhub",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("parkhub: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "parkhub").Logger(),
	}, nil
}

// Events returns the organization's parking events.
func (c *Client) Events(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/events/"+c.cfg.OrganizationID, "events")
}

// Lots returns the organization's parking lots.
func (c *Client) Lots(ctx context.Context) (*tabular.Table, error) {
	return c.fetchTable(ctx, "/lots/"+c.cfg.OrganizationID, "lots")
}

// SiteStatus returns the partner site status document.
func (c *Client) SiteStatus(ctx context.Context) (tabular.Record, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(c.cfg.BaseURL+"/status"))
	if err != nil {
		return nil, err
	}
	return page.Object()
}

// Reporting requests the transaction report from the given date, waits
// for it to finish and returns the parsed CSV.
func (c *Client) Reporting(ctx context.Context, from time.Time) (*tabular.Table, error) {
	req := c.newRequest(c.cfg.BaseURL + "/report/" + c.cfg.OrganizationID)
	req.Query.Set("dateFrom", from.Format("2006-01-02"))

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("parkhub: request report: %w", err)
	}
	doc, err := page.Object()
	if err != nil {
		return nil, err
	}
	fileID, ok := tabular.LookupString(doc, "fileIdentifier")
	if !ok {
		return nil, fmt.Errorf("parkhub: report request carries no fileIdentifier")
	}

	fileURL, err := c.awaitReport(ctx, fileID)
	if err != nil {
		return nil, err
	}

	file, err := c.fetcher.Do(ctx, c.newRequest(fileURL))
	if err != nil {
		return nil, fmt.Errorf("parkhub: download report: %w", err)
	}

	table, err := parseCSV(file.Body)
	if err != nil {
		return nil, fmt.Errorf("parkhub: %w", err)
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("file_id", fileID).
		Int("rows", table.NumRows()).
		Msg("Report retrieved")

	return table, nil
}

// awaitReport polls the report status until it leaves PENDING and returns
// the finished file URL.
func (c *Client) awaitReport(ctx context.Context, fileID string) (string, error) {
	statusURL := c.cfg.BaseURL + "/report/" + c.cfg.OrganizationID + "/status/" + fileID

	for polls := 0; ; polls++ {
		page, err := c.fetcher.Do(ctx, c.newRequest(statusURL))
		if err != nil {
			return "", fmt.Errorf("parkhub: poll report: %w", err)
		}
		doc, err := page.Object()
		if err != nil {
			return "", err
		}

		status, _ := tabular.LookupString(doc, "status")
		if status != "PENDING" {
			if status != "COMPLETED" {
				return "", fmt.Errorf("parkhub: report %s ended %s", fileID, status)
			}
			fileURL, ok := tabular.LookupString(doc, "url")
			if !ok {
				return "", fmt.Errorf("parkhub: report %s carries no file url", fileID)
			}
			return fileURL, nil
		}

		if polls >= c.cfg.MaxPolls {
			return "", fmt.Errorf("parkhub: report %s still pending after %d polls", fileID, polls)
		}

		c.logger.Debug().Str("file_id", fileID).Msg("Report pending")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) fetchTable(ctx context.Context, path, responseKey string) (*tabular.Table, error) {
	page, err := c.fetcher.Do(ctx, c.newRequest(c.cfg.BaseURL+path))
	if err != nil {
		return nil, err
	}

	records, err := tabular.ExtractRecords(page.Body, responseKey)
	if err != nil {
		return nil, fmt.Errorf("parkhub: %s: %w", path, err)
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

func (c *Client) newRequest(url string) *fetch.Request {
	req := fetch.NewRequest(http.MethodGet, url)
	pair := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
	req.Header.Set("Authorization", "Basic "+pair)
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// parseCSV turns a finished report file into a table. The first row is
// the header; every value stays a string.
func parseCSV(data []byte) (*tabular.Table, error) {
	reader := csv.NewReader(bytes.NewReader(data))

	header, err := reader.Read()
	if err == io.EOF {
		return &tabular.Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse csv header: %w", err)
	}

	var rows []tabular.Record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv row %d: %w", len(rows)+2, err)
		}
		row := make(tabular.Record, len(header))
		for i, column := range header {
			row[column] = fields[i]
		}
		rows = append(rows, row)
	}

	return &tabular.Table{Columns: header, Rows: rows}, nil
}
