// Package marketdata is the HTTP client for the external market data
// provider. The provider's own API semantics are opaque to the rest of the
// system; failures surface as classified HandlerError values and never crash
// a query.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"finsight/internal/fault"
)

// Quote is the current price snapshot for one symbol.
type Quote struct {
	Symbol   string  `json:"symbol"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	AsOf     string  `json:"as_of"`
}

// PricePoint is one bar of historical pricing.
type PricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// NewsItem is one headline for a symbol.
type NewsItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// Client talks to the market data provider.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a market data client. The timeout bounds each call in
// addition to any request context deadline.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Quote fetches the latest price for symbol.
func (c *Client) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	params := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "/v1/quote", params, &q); err != nil {
		return nil, err
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	return &q, nil
}

// History fetches daily closes for symbol between start and end
// (YYYY-MM-DD; either may be empty for the provider default range).
func (c *Client) History(ctx context.Context, symbol, start, end string) ([]PricePoint, error) {
	params := url.Values{"symbol": {symbol}}
	if start != "" {
		params.Set("start", start)
	}
	if end != "" {
		params.Set("end", end)
	}
	var resp struct {
		Points []PricePoint `json:"points"`
	}
	if err := c.get(ctx, "/v1/history", params, &resp); err != nil {
		return nil, err
	}
	return resp.Points, nil
}

// News fetches recent headlines for symbol.
func (c *Client) News(ctx context.Context, symbol string) ([]NewsItem, error) {
	params := url.Values{"symbol": {symbol}}
	var resp struct {
		Items []NewsItem `json:"items"`
	}
	if err := c.get(ctx, "/v1/news", params, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	fullURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
	if _, err := url.Parse(fullURL); err != nil {
		return fault.Wrap(fault.KindHandlerError, "invalid market data URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fault.Wrap(fault.KindHandlerError, "failed to build request", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fault.Wrap(fault.KindTimeout, "market data call cancelled", err)
		}
		return fault.Wrap(fault.KindHandlerError, "market data source unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fault.Wrap(fault.KindHandlerError, "failed to read market data response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fault.New(fault.KindHandlerError,
			fmt.Sprintf("market data source returned status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Wrap(fault.KindHandlerError, "malformed market data response", err)
	}
	return nil
}
