// Package asana creates tasks in an Asana project. Alert pipelines use it
// to turn data quality findings into tracked work items.
package asana

import (
	"context"
	"fmt"
	"net/http"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://app.asana.com/api/1.0"

// Config holds the connector configuration.
type Config struct {
	// Token is the Asana personal access token.
	Token string

	// ProjectID is the project every task lands in.
	ProjectID string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Task describes one task to create.
type Task struct {
	Name      string
	HTMLNotes string
	DueOn     string // YYYY-MM-DD
}

// Client is the Asana connector.
type Client struct {
	cfg     Config
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates an Asana connector.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("asana: token is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("asana: project id is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "asana",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("asana: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "asana").Logger(),
	}, nil
}

// CreateTask creates a task in the configured project and returns the
// created task document.
func (c *Client) CreateTask(ctx context.Context, task Task) (tabular.Record, error) {
	if task.Name == "" {
		return nil, fmt.Errorf("asana: task name is required")
	}

	req := fetch.NewRequest(http.MethodPost, c.cfg.BaseURL+"/tasks")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	req, err := req.WithJSONBody(map[string]any{
		"data": map[string]any{
			"name":       task.Name,
			"html_notes": task.HTMLNotes,
			"due_on":     task.DueOn,
			"projects":   []string{c.cfg.ProjectID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("asana: %w", err)
	}

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("asana: create task: %w", err)
	}

	doc, err := page.Object()
	if err != nil {
		return nil, err
	}
	created, ok := tabular.Lookup(doc, "data")
	if !ok {
		return nil, fmt.Errorf("asana: create task response carries no data")
	}
	rec, ok := created.(tabular.Record)
	if !ok {
		return nil, fmt.Errorf("asana: create task response data is not an object")
	}

	c.logger.Info().Str("task", task.Name).Msg("Task created")
	return rec, nil
}
