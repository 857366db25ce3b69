// Package stripe pulls finance reports from the Stripe Reporting API.
//
// Reporting is asynchronous: a report run is created, polled until it
// leaves the pending state, and its result file is downloaded as CSV and
// parsed into a table. Polling is bounded; a report still pending after
// the final poll is an error.
package stripe

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Config holds the connector configuration.
type Config struct {
	// APIKey is the Stripe secret key.
	APIKey string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// Columns selects the report columns. Empty requests the report
	// type's defaults.
	Columns []string

	// PollInterval and MaxPolls bound the pending loop. Zero values use
	// 5 seconds and 4 polls.
	PollInterval time.Duration
	MaxPolls     int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Stripe connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates a Stripe connector.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stripe: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 4
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "stripe",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "stripe").Logger(),
	}, nil
}

// ReportRun creates a report run for the interval, waits for it to
// finish and returns the parsed result.
func (c *Client) ReportRun(ctx context.Context, reportType string, start, end time.Time) (*tabular.Table, error) {
	if reportType == "" {
		return nil, fmt.Errorf("stripe: report type is required")
	}

	run, err := c.createRun(ctx, reportType, start, end)
	if err != nil {
		return nil, err
	}

	resultURL, err := c.awaitRun(ctx, run)
	if err != nil {
		return nil, err
	}

	page, err := c.fetcher.Do(ctx, c.newRequest(http.MethodGet, resultURL))
	if err != nil {
		return nil, fmt.Errorf("stripe: download result: %w", err)
	}

	table, err := parseCSV(page.Body)
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("report_type", reportType).
		Int("rows", table.NumRows()).
		Msg("Report retrieved")

	return table, nil
}

// createRun posts the report run and returns its id plus the initial
// status and result URL when the run finished synchronously.
func (c *Client) createRun(ctx context.Context, reportType string, start, end time.Time) (tabular.Record, error) {
	form := url.Values{}
	form.Set("report_type", reportType)
	form.Set("parameters[interval_start]", strconv.FormatInt(start.Unix(), 10))
	form.Set("parameters[interval_end]", strconv.FormatInt(end.Unix(), 10))
	for _, column := range c.cfg.Columns {
		form.Add("parameters[columns][]", column)
	}

	req := c.newRequest(http.MethodPost, c.cfg.BaseURL+"/reporting/report_runs")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Body = []byte(form.Encode())

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stripe: create report run: %w", err)
	}
	return page.Object()
}

// awaitRun polls the run until it is no longer pending and returns the
// result file URL.
func (c *Client) awaitRun(ctx context.Context, run tabular.Record) (string, error) {
	runID, ok := tabular.LookupString(run, "id")
	if !ok {
		return "", fmt.Errorf("stripe: report run carries no id")
	}

	status, _ := tabular.LookupString(run, "status")
	for polls := 0; status == "pending"; polls++ {
		if polls >= c.cfg.MaxPolls {
			return "", fmt.Errorf("stripe: report run %s still pending after %d polls", runID, polls)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		page, err := c.fetcher.Do(ctx, c.newRequest(http.MethodGet, c.cfg.BaseURL+"/reporting/report_runs/"+runID))
		if err != nil {
			return "", fmt.Errorf("stripe: poll report run: %w", err)
		}
		if run, err = page.Object(); err != nil {
			return "", err
		}
		status, _ = tabular.LookupString(run, "status")
	}

	if status != "succeeded" {
		return "", fmt.Errorf("stripe: report run %s ended %s", runID, status)
	}
	resultURL, ok := tabular.LookupString(run, "result.url")
	if !ok {
		return "", fmt.Errorf("stripe: report run %s carries no result url", runID)
	}
	return resultURL, nil
}

func (c *Client) newRequest(method, url string) *fetch.Request {
	req := fetch.NewRequest(method, url)
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	return req
}

// parseCSV turns a Stripe result file into a table. The first row is the
// header; every value stays a string.
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
