package alpaca

import (
	"net/http"
)

const (
	tradingBaseURL = "https://api.alpaca.markets"
	dataBaseURL    = "https://data.alpaca.markets"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=alpaca_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches quote, calendar and bar data from the Alpaca API.
type Client struct {
	// tradingURL serves the trading API (calendar).
	tradingURL string
	// dataURL serves the market data API (quotes, bars).
	dataURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// pageLimit is the maximum number of quotes requested per page.
	pageLimit int
	// maxPages caps token pagination for one (symbol, date).
	maxPages int
}

// ClientOption is a configuration option for the Alpaca client.
type ClientOption func(*Client)

// WithTradingURL sets the base URL for the trading API.
func WithTradingURL(u string) ClientOption {
	return func(c *Client) {
		c.tradingURL = u
	}
}

// WithDataURL sets the base URL for the market data API.
func WithDataURL(u string) ClientOption {
	return func(c *Client) {
		c.dataURL = u
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithPageLimit sets the per-page quote limit.
func WithPageLimit(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageLimit = n
		}
	}
}

// WithMaxPages caps the number of page requests per (symbol, date).
func WithMaxPages(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxPages = n
		}
	}
}

// NewClient creates a new Alpaca API client authenticated with the
// standard key id / secret key header pair.
func NewClient(keyID, secretKey string, options ...ClientOption) (*Client, error) {
	var client = &Client{
		tradingURL: tradingBaseURL,
		dataURL:    dataBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		pageLimit:  10000,
		maxPages:   200,
	}
	if keyID != "" {
		client.header.Set("APCA-API-KEY-ID", keyID)
	}
	if secretKey != "" {
		client.header.Set("APCA-API-SECRET-KEY", secretKey)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *Client) Name() string { return "Alpaca" }
