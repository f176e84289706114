// Package supabase provides a readings source backed by a Supabase
// PostgREST endpoint.
package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aqipulse/aqipulse/internal/dataset"
	"github.com/aqipulse/aqipulse/internal/provider/resilience"
	"github.com/aqipulse/aqipulse/internal/readings"
)

const (
	// DefaultTable is the table holding raw AQI readings.
	DefaultTable = "aqi_readings"

	// DefaultPageSize is the number of rows requested per page.
	DefaultPageSize = 1000

	// ProviderName identifies this source.
	ProviderName = "supabase"
)

// ClientConfig holds configuration for the Supabase client.
type ClientConfig struct {
	// BaseURL is the project REST URL, e.g. https://xyz.supabase.co/rest/v1.
	BaseURL string

	// APIKey is the Supabase service or anon key, sent as both the
	// apikey header and bearer token.
	APIKey string

	// Table is the readings table name (defaults to DefaultTable).
	Table string

	// PageSize overrides the per-page row limit (defaults to DefaultPageSize).
	PageSize int

	// HTTPClient is the HTTP client to use (must implement HTTPDoer).
	// If nil, a default resilient client will be created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 10s).
	Timeout time.Duration
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches AQI readings from a Supabase PostgREST endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	table      string
	pageSize   int
	httpClient HTTPDoer
}

var _ readings.Source = (*Client)(nil)

// NewClient creates a new Supabase readings client.
func NewClient(cfg ClientConfig) *Client {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            ProviderName,
			Timeout:         timeout,
			MaxRetries:      3,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		})
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		table:      table,
		pageSize:   pageSize,
		httpClient: httpClient,
	}
}

// FetchAll retrieves every reading from the table, one page at a time.
// On a mid-run failure the pages fetched so far are returned alongside
// the error so callers can decide whether partial data is usable.
func (c *Client) FetchAll(ctx context.Context) ([]dataset.Record, error) {
	return c.fetchPaged(ctx, nil)
}

// FetchByCity retrieves readings for a single city.
func (c *Client) FetchByCity(ctx context.Context, city string) ([]dataset.Record, error) {
	filter := url.Values{"city": []string{"eq." + city}}
	return c.fetchPaged(ctx, filter)
}

// fetchPaged walks the table using limit/offset pagination. A short page
// signals the end of the table.
func (c *Client) fetchPaged(ctx context.Context, filter url.Values) ([]dataset.Record, error) {
	var all []dataset.Record
	offset := 0

	for {
		page, err := c.fetchPage(ctx, filter, offset)
		if err != nil {
			return all, fmt.Errorf("%w: %v", readings.ErrUpstreamUnavailable, err)
		}
		all = append(all, page...)

		if len(page) < c.pageSize {
			return all, nil
		}
		offset += c.pageSize
	}
}

// fetchPage fetches a single page of readings.
func (c *Client) fetchPage(ctx context.Context, filter url.Values, offset int) ([]dataset.Record, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "id.asc")
	q.Set("limit", fmt.Sprintf("%d", c.pageSize))
	q.Set("offset", fmt.Sprintf("%d", offset))
	for key, vals := range filter {
		for _, v := range vals {
			q.Add(key, v)
		}
	}

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, c.table, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch readings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from readings endpoint", resp.StatusCode)
	}

	var page []dataset.Record
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode readings response: %w", err)
	}

	return page, nil
}
