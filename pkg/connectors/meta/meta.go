// Package meta manages custom audiences through the Meta Graph API.
//
// Every call carries an appsecret_proof, an HMAC-SHA256 of the access
// token keyed with the app secret. Audience membership is written in
// batches of at most 10000 hashed rows; each batch settles on its own, so
// one rejected batch does not stop the ones after it and the caller gets
// a per-batch outcome list.
package meta

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/catnip-data/catnip/pkg/checkpoint"
	"github.com/catnip-data/catnip/pkg/connectors"
	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL   = "https://graph.facebook.com"
	defaultVersion   = "v20.0"
	defaultTokenName = "meta_access_token_long"

	// Graph API ceiling on users per batch.
	maxBatchSize = 10000
)

// Config holds the connector configuration.
type Config struct {
	// AppID and AppSecret identify the Meta app; AccessToken is the user
	// token the appsecret_proof is derived from.
	AppID       string
	AppSecret   string
	AccessToken string

	// AdAccountID owns the audiences, in act_<id> form.
	AdAccountID string

	// Version selects the Graph API version. Empty uses v20.0.
	Version string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// BatchSize caps users per write. 0 uses the Graph limit of 10000.
	BatchSize int

	// Tokens, when set, receives the long-lived token under TokenName.
	Tokens    checkpoint.Store
	TokenName string

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the Meta connector.
type Client struct {
	cfg     Config
	proof   string
	fetcher *fetch.Fetcher
	logger  zerolog.Logger
}

// New creates a Meta connector.
func New(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("meta: app id, app secret and access token are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = defaultVersion
	}
	if cfg.TokenName == "" {
		cfg.TokenName = defaultTokenName
	}
	if cfg.BatchSize == 0 || cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "meta",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("meta: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(cfg.AppSecret))
	mac.Write([]byte(cfg.AccessToken))

	return &Client{
		cfg:     cfg,
		proof:   hex.EncodeToString(mac.Sum(nil)),
		fetcher: fetcher,
		logger:  log.With().Str("connector", "meta").Logger(),
	}, nil
}

// CreateAudience creates a custom audience on the ad account.
func (c *Client) CreateAudience(ctx context.Context, name, description string) (tabular.Record, error) {
	if c.cfg.AdAccountID == "" {
		return nil, fmt.Errorf("meta: ad account id is required")
	}

	form := c.authForm()
	form.Set("name", name)
	form.Set("subtype", "CUSTOM")
	form.Set("description", description)
	form.Set("customer_file_source", "USER_PROVIDED_ONLY")

	page, err := c.fetcher.Do(ctx, c.formRequest(http.MethodPost,
		c.versionURL(c.cfg.AdAccountID+"/customaudiences"), form))
	if err != nil {
		return nil, fmt.Errorf("meta: create audience: %w", err)
	}
	return page.Object()
}

// AudienceInfo returns operation status and approximate size of an
// audience.
func (c *Client) AudienceInfo(ctx context.Context, audienceID string) (tabular.Record, error) {
	req := fetch.NewRequest(http.MethodGet, c.versionURL(audienceID))
	req.Query.Set("fields", "operation_status,time_updated,approximate_count_lower_bound,approximate_count_upper_bound")
	c.authQuery(req)

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("meta: audience info: %w", err)
	}
	return page.Object()
}

// UploadUsers adds the table's rows to the audience. Rows are hashed,
// split into batches and written one batch at a time; a failed batch is
// recorded and the remaining batches still run.
func (c *Client) UploadUsers(ctx context.Context, audienceID string, table *tabular.Table) ([]connectors.BatchResult, error) {
	return c.writeUsers(ctx, http.MethodPost, audienceID, table)
}

// DeleteUsers removes the table's rows from the audience with the same
// per-batch settlement as UploadUsers.
func (c *Client) DeleteUsers(ctx context.Context, audienceID string, table *tabular.Table) ([]connectors.BatchResult, error) {
	return c.writeUsers(ctx, http.MethodDelete, audienceID, table)
}

// ReplaceUsers swaps the audience membership for the table's rows. The
// batches share a replace session; the last batch carries the flag that
// closes it.
func (c *Client) ReplaceUsers(ctx context.Context, audienceID string, table *tabular.Table) ([]connectors.BatchResult, error) {
	batches := tabular.Chunk(table.Rows, c.cfg.BatchSize)
	if len(batches) == 0 {
		return nil, fmt.Errorf("meta: no rows to replace")
	}

	sessionID := time.Now().Unix()
	results := make([]connectors.BatchResult, 0, len(batches))

	for i, batch := range batches {
		session, err := json.Marshal(map[string]any{
			"session_id":      sessionID,
			"batch_seq":       i + 1,
			"last_batch_flag": strconv.FormatBool(i == len(batches)-1),
		})
		if err != nil {
			return results, fmt.Errorf("meta: %w", err)
		}

		form := c.authForm()
		form.Set("payload", c.payload(table.Columns, batch))
		form.Set("session", string(session))

		req := c.formRequest(http.MethodPost, c.versionURL(audienceID+"/usersreplace"), form)
		results = append(results, c.runBatch(ctx, i+1, req))
	}

	return results, nil
}

// CacheLongLivedToken exchanges the short-lived token for a long-lived
// one and stores it in the configured token store.
func (c *Client) CacheLongLivedToken(ctx context.Context) error {
	if c.cfg.Tokens == nil {
		return fmt.Errorf("meta: token store is required to cache the token")
	}

	req := fetch.NewRequest(http.MethodGet, c.versionURL("oauth/access_token"))
	req.Query.Set("grant_type", "fb_exchange_token")
	req.Query.Set("client_id", c.cfg.AppID)
	req.Query.Set("client_secret", c.cfg.AppSecret)
	req.Query.Set("fb_exchange_token", c.cfg.AccessToken)

	page, err := c.fetcher.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("meta: token exchange: %w", err)
	}
	doc, err := page.Object()
	if err != nil {
		return fmt.Errorf("meta: token exchange: %w", err)
	}
	token, ok := tabular.LookupString(doc, "access_token")
	if !ok || token == "" {
		return fmt.Errorf("meta: token exchange returned no access_token")
	}

	if err := c.cfg.Tokens.Save(ctx, c.cfg.TokenName, token); err != nil {
		return fmt.Errorf("meta: save token: %w", err)
	}

	c.logger.Info().Str("name", c.cfg.TokenName).Msg("Long-lived token cached")
	return nil
}

func (c *Client) writeUsers(ctx context.Context, method, audienceID string, table *tabular.Table) ([]connectors.BatchResult, error) {
	batches := tabular.Chunk(table.Rows, c.cfg.BatchSize)
	if len(batches) == 0 {
		return nil, fmt.Errorf("meta: no rows to write")
	}

	results := make([]connectors.BatchResult, 0, len(batches))
	for i, batch := range batches {
		form := c.authForm()
		form.Set("payload", c.payload(table.Columns, batch))

		req := c.formRequest(method, c.versionURL(audienceID+"/users"), form)
		results = append(results, c.runBatch(ctx, i+1, req))
	}

	if failed := connectors.Failed(results); failed > 0 {
		c.logger.Warn().
			Str("audience_id", audienceID).
			Int("batches", len(results)).
			Int("failed", failed).
			Msg("Audience write finished with failed batches")
	}

	return results, nil
}

// runBatch settles one batch and folds the response into a BatchResult.
func (c *Client) runBatch(ctx context.Context, batch int, req *fetch.Request) connectors.BatchResult {
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

// payload builds the schema/data document Graph expects: uppercased
// column names and SHA-256 hashed values in column order.
func (c *Client) payload(columns []string, rows []tabular.Record) string {
	schema := make([]string, len(columns))
	for i, column := range columns {
		schema[i] = strings.ToUpper(column)
	}

	data := make([][]string, len(rows))
	for i, row := range rows {
		hashed := make([]string, len(columns))
		for j, column := range columns {
			hashed[j] = hashValue(row[column])
		}
		data[i] = hashed
	}

	payload, _ := json.Marshal(map[string]any{"schema": schema, "data": data})
	return string(payload)
}

func (c *Client) versionURL(path string) string {
	return c.cfg.BaseURL + "/" + c.cfg.Version + "/" + path
}

func (c *Client) authForm() url.Values {
	form := url.Values{}
	form.Set("access_token", c.cfg.AccessToken)
	form.Set("appsecret_proof", c.proof)
	return form
}

func (c *Client) authQuery(req *fetch.Request) {
	req.Query.Set("access_token", c.cfg.AccessToken)
	req.Query.Set("appsecret_proof", c.proof)
}

func (c *Client) formRequest(method, url string, form url.Values) *fetch.Request {
	req := fetch.NewRequest(method, url)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Body = []byte(form.Encode())
	return req
}

func hashValue(value any) string {
	sum := sha256.Sum256([]byte(fmt.Sprint(value)))
	return hex.EncodeToString(sum[:])
}
