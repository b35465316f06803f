package etsy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/multiorder/shopsync/pkg/config"
)

// Client fetches paged resources from the platform API. It walks the
// limit/offset pagination envelope and returns every page, including
// non-success ones; retry policy is left to the caller.
type Client struct {
	baseURL    string
	apiKey     string
	pageLimit  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new platform API client
func NewClient(cfg *config.EtsyConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageLimit: cfg.PageLimit,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		logger: logger,
	}
}

// GetAllPages fetches every page of the given resource. Query parameters are
// copied before the paging parameters are applied, so the caller's values are
// not mutated. A transport-level failure aborts the fetch; a non-2xx page is
// recorded with its status code and ends the walk, since the paging envelope
// of a failed page cannot be trusted.
func (c *Client) GetAllPages(ctx context.Context, method, resource string, params url.Values) ([]Page, error) {
	var pages []Page

	offset := 0
	for {
		page, err := c.getPage(ctx, method, resource, params, offset)
		if err != nil {
			return pages, err
		}
		pages = append(pages, *page)

		if page.StatusCode != http.StatusOK {
			c.logger.Warn("Received non-success page",
				zap.String("resource", resource),
				zap.Int("status", page.StatusCode),
				zap.Int("offset", offset))
			return pages, nil
		}
		if page.Body.Pagination == nil || page.Body.Pagination.NextOffset == nil {
			return pages, nil
		}
		offset = *page.Body.Pagination.NextOffset
	}
}

func (c *Client) getPage(ctx context.Context, method, resource string, params url.Values, offset int) (*Page, error) {
	query := url.Values{}
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("limit", strconv.Itoa(c.pageLimit))
	query.Set("offset", strconv.Itoa(offset))
	if c.apiKey != "" {
		query.Set("api_key", c.apiKey)
	}

	u := fmt.Sprintf("%s%s?%s", c.baseURL, resource, query.Encode())
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", resource, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", resource, err)
	}
	defer resp.Body.Close()

	page := &Page{StatusCode: resp.StatusCode}
	if resp.StatusCode != http.StatusOK {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, resp.Body)
		return page, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(&page.Body); err != nil {
		return nil, fmt.Errorf("failed to decode page of %s: %w", resource, err)
	}
	return page, nil
}
