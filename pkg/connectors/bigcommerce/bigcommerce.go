// Package bigcommerce pulls catalog, customer and order data from the
// BigCommerce store API.
//
// The v3 API is count-based (meta.pagination.total_pages, records under
// "data"). The v2 API has no page count: it returns a bare record list
// and an empty page (204) past the end, so v2 resources page flag-style
// under a hard iteration cap.
package bigcommerce

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/catnip-data/catnip/pkg/fetch"
	"github.com/catnip-data/catnip/pkg/paginate"
	"github.com/catnip-data/catnip/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the connector configuration.
type Config struct {
	// StoreHash identifies the store; AuthToken is sent as X-Auth-Token.
	StoreHash string
	AuthToken string

	// BaseURL overrides the API root (for tests).
	BaseURL string

	// PageSize is the limit parameter for v3 requests.
	PageSize int

	// BatchSize is the concurrent fan-out for v3 pages and order lookups.
	BatchSize int

	// V2MaxPages caps the v2 flag loop. 0 uses the default of 25.
	V2MaxPages int

	// Schema, when set, validates the column shape of every result.
	Schema *tabular.Schema

	// HTTPClient overrides the pooled default.
	HTTPClient *http.Client
}

// Client is the BigCommerce connector.
type Client struct {
	cfg      Config
	baseURL  string
	fetcher  *fetch.Fetcher
	v3Driver *paginate.Driver
	v2Driver *paginate.Driver
	logger   zerolog.Logger
}

// New creates a BigCommerce connector.
func New(cfg Config) (*Client, error) {
	if cfg.StoreHash == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("bigcommerce: store hash and auth token are required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.bigcommerce.com/stores/" + cfg.StoreHash
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 50
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
	}
	if cfg.V2MaxPages == 0 {
		cfg.V2MaxPages = 25
	}

	fetcher, err := fetch.New(fetch.Config{
		Connector:  "bigcommerce",
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, fmt.Errorf("bigcommerce: %w", err)
	}

	v3Driver, err := paginate.New(paginate.Config{
		BatchSize:  cfg.BatchSize,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("bigcommerce: %w", err)
	}

	v2Driver, err := paginate.New(paginate.Config{
		BatchSize:  1,
		MaxPages:   cfg.V2MaxPages,
		MaxElapsed: 5 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("bigcommerce: %w", err)
	}

	return &Client{
		cfg:      cfg,
		baseURL:  baseURL,
		fetcher:  fetcher,
		v3Driver: v3Driver,
		v2Driver: v2Driver,
		logger:   log.With().Str("connector", "bigcommerce").Logger(),
	}, nil
}

// Customers returns all customers.
func (c *Client) Customers(ctx context.Context) (*tabular.Table, error) {
	return c.v3Resource(ctx, "customers")
}

// Products returns the product catalog.
func (c *Client) Products(ctx context.Context) (*tabular.Table, error) {
	return c.v3Resource(ctx, "catalog/products")
}

// Brands returns all brands.
func (c *Client) Brands(ctx context.Context) (*tabular.Table, error) {
	return c.v3Resource(ctx, "catalog/brands")
}

// Categories returns all product categories.
func (c *Client) Categories(ctx context.Context) (*tabular.Table, error) {
	return c.v3Resource(ctx, "catalog/categories")
}

// Variants returns all product variants.
func (c *Client) Variants(ctx context.Context) (*tabular.Table, error) {
	return c.v3Resource(ctx, "catalog/variants")
}

// Orders returns orders through the v2 API.
func (c *Client) Orders(ctx context.Context) (*tabular.Table, error) {
	records, err := c.v2List(ctx, "orders")
	if err != nil {
		return nil, err
	}
	return c.finishTable(tabular.FromRecords(records))
}

// CustomerGroups returns customer groups through the v2 API.
func (c *Client) CustomerGroups(ctx context.Context) (*tabular.Table, error) {
	records, err := c.v2List(ctx, "customer_groups")
	if err != nil {
		return nil, err
	}
	return c.finishTable(tabular.FromRecords(records))
}

// OrderProducts returns the line items of the given orders, fanning the
// per-order lookups out in windows of BatchSize.
func (c *Client) OrderProducts(ctx context.Context, orderIDs []int) (*tabular.Table, error) {
	return c.perOrder(ctx, orderIDs, "products")
}

// Transactions returns the transactions of the given orders.
func (c *Client) Transactions(ctx context.Context, orderIDs []int) (*tabular.Table, error) {
	return c.perOrder(ctx, orderIDs, "transactions")
}

func (c *Client) v3Resource(ctx context.Context, endpoint string) (*tabular.Table, error) {
	base := c.newRequest("/v3/" + endpoint)
	base.Query.Set("limit", strconv.Itoa(c.cfg.PageSize))

	result, err := c.v3Driver.FetchNumbered(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			return c.fetcher.Do(ctx, base.WithQuery("page", strconv.Itoa(page)))
		},
		func(first *fetch.Page) (int, error) {
			doc, err := first.Object()
			if err != nil {
				return 0, err
			}
			total, ok := tabular.LookupInt(doc, "meta.pagination.total_pages")
			if !ok {
				return 0, fmt.Errorf("bigcommerce: total_pages missing on %s", endpoint)
			}
			return total, nil
		},
	)
	if err != nil {
		return nil, err
	}

	table, err := result.Table("data")
	if err != nil {
		return nil, err
	}
	return c.finishTable(table)
}

// v2List pages a v2 endpoint until an empty page. The v2 API answers
// 204 with no body past the last page.
func (c *Client) v2List(ctx context.Context, endpoint string) ([]tabular.Record, error) {
	base := c.newRequest("/v2/" + endpoint)
	base.Query.Set("limit", strconv.Itoa(c.cfg.PageSize))

	var records []tabular.Record
	result, err := c.v2Driver.FetchWhile(ctx,
		func(ctx context.Context, page int) (*fetch.Page, error) {
			return c.fetcher.Do(ctx, base.WithQuery("page", strconv.Itoa(page)))
		},
		func(p *fetch.Page) (bool, error) {
			if p.StatusCode == http.StatusNoContent || len(p.Body) == 0 {
				return false, nil
			}
			pageRecords, err := tabular.ExtractRecords(p.Body, "")
			if err != nil {
				return false, err
			}
			records = append(records, pageRecords...)
			return len(pageRecords) > 0, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn().Str("endpoint", endpoint).Msg("v2 iteration cap reached, result truncated")
	}
	return records, nil
}

func (c *Client) perOrder(ctx context.Context, orderIDs []int, resource string) (*tabular.Table, error) {
	var (
		mu      sync.Mutex
		records []tabular.Record
	)

	for start := 0; start < len(orderIDs); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(orderIDs) {
			end = len(orderIDs)
		}

		var wg sync.WaitGroup
		errs := make(chan error, end-start)

		for _, orderID := range orderIDs[start:end] {
			wg.Add(1)
			go func(orderID int) {
				defer wg.Done()
				orderRecords, err := c.v2List(ctx, fmt.Sprintf("orders/%d/%s", orderID, resource))
				if err != nil {
					errs <- fmt.Errorf("order %d: %w", orderID, err)
					return
				}
				mu.Lock()
				records = append(records, orderRecords...)
				mu.Unlock()
			}(orderID)
		}

		wg.Wait()
		close(errs)
		if err := <-errs; err != nil {
			return nil, err
		}
	}

	return c.finishTable(tabular.FromRecords(records))
}

func (c *Client) newRequest(path string) *fetch.Request {
	req := fetch.NewRequest(http.MethodGet, c.baseURL+path)
	req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func (c *Client) finishTable(table *tabular.Table) (*tabular.Table, error) {
	if err := c.cfg.Schema.Validate(table); err != nil {
		return nil, err
	}
	return table, nil
}
