// Package sfmc writes rows into Salesforce Marketing Cloud data
// extensions.
//
// Marketing Cloud endpoints hang off a tenant subdomain. Row inserts run
// through the async REST API: the upload answers with a requestId that is
// polled until the request leaves the Pending state.
package sfmc

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

// Config holds the connector configuration.
type Config struct {
	// Subdomain is the Marketing Cloud tenant subdomain.
	Subdomain string

	// ClientID, ClientSecret and AccountID drive the client-credentials
	// token exchange.
	ClientID     string
	ClientSecret string
	AccountID    string

	// AuthURL and RestURL override the tenant endpoints (for tests).
	AuthURL string
	RestURL string

	// PollInterval and MaxPolls bound the async status loop. Zero values
	// use 2 seconds and 30 polls.
	PollInterval time.Duration
	MaxPolls     int

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Marketing Cloud connector.
type Client struct {
	cfg     Config
	token   string
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates a Marketing Cloud connector.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.AccountID == "" {
		return nil, fmt.Errorf("sfmc: client id, secret and account id are required")
	}
	if cfg.Subdomain == "" && (cfg.AuthURL == "" || cfg.RestURL == "") {
		return nil, fmt.Errorf("sfmc: subdomain is required")
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = fmt.Sprintf("https://%s.auth.marketingcloudapis.com", cfg.Subdomain)
	}
	if cfg.RestURL == "" {
		cfg.RestURL = fmt.Sprintf("https://%s.rest.marketingcloudapis.com", cfg.Subdomain)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 30
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "sfmc",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("sfmc: %w", err)
	}

	return &Client{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  log.With().Str("connector", "sfmc").Logger(),
	}, nil
}

// InsertRows uploads the rows into the data extension addressed by its
// external key and waits for the async request to finish. It returns the
// final request status.
func (c *Client) InsertRows(ctx context.Context, externalKey string, rows []tabular.Record) (string, error) {
	if externalKey == "" {
		return "", fmt.Errorf("sfmc: external key is required")
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("sfmc: no rows to insert")
	}

	token, err := c.bearerToken(ctx)
	if err != nil {
		return "", err
	}

	req, err := fetch.NewRequest(http.MethodPost,
		c.cfg.RestURL+"/data/v1/async/dataextensions/key:"+externalKey+"/rows").
		WithJSONBody(map[string]any{"items": rows})
	if err != nil {
		return "", fmt.Errorf("sfmc: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sfmc: insert rows: %w", err)
	}

	doc, err := page.Object()
	if err != nil {
		return "", err
	}
	requestID, ok := tabular.LookupString(doc, "requestId")
	if !ok {
		return "", fmt.Errorf("sfmc: insert answered without requestId")
	}

	status, err := c.awaitRequest(ctx, token, requestID)
	if err != nil {
		return "", err
	}

	c.logger.Info().
		Str("external_key", externalKey).
		Int("rows", len(rows)).
		Str("status", status).
		Msg("Rows inserted")

	return status, nil
}

// awaitRequest polls the async request until it leaves the Pending state.
func (c *Client) awaitRequest(ctx context.Context, token, requestID string) (string, error) {
	for polls := 0; ; polls++ {
		if polls >= c.cfg.MaxPolls {
			return "", fmt.Errorf("sfmc: request %s still pending after %d polls", requestID, polls)
		}

		req := fetch.NewRequest(http.MethodGet, c.cfg.RestURL+"/data/v1/async/"+requestID+"/status")
		req.Header.Set("Authorization", "Bearer "+token)

		page, err := c.fetcher.Do(ctx, req)
		if err != nil {
			return "", fmt.Errorf("sfmc: poll request status: %w", err)
		}
		doc, err := page.Object()
		if err != nil {
			return "", err
		}
		status, ok := tabular.LookupString(doc, "requestStatus")
		if !ok {
			return "", fmt.Errorf("sfmc: status answered without requestStatus")
		}
		if status != "Pending" {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.token != "" {
		return c.token, nil
	}

	req, err := fetch.NewRequest(http.MethodPost, c.cfg.AuthURL+"/v2/token").
		WithJSONBody(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
			"account_id":    c.cfg.AccountID,
		})
	if err != nil {
		return "", fmt.Errorf("sfmc: %w", err)
	}

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sfmc: token exchange: %w", err)
	}
	doc, err := page.Object()
	if err != nil {
		return "", fmt.Errorf("sfmc: token exchange: %w", err)
	}
	token, ok := tabular.LookupString(doc, "access_token")
	if !ok || token == "" {
		return "", fmt.Errorf("sfmc: token exchange returned no access_token")
	}

	c.token = token
	return token, nil
}
