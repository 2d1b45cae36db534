package polygon

import (
	"net/http"
	"net/url"

	"etfspread/internal/provider/ratelimit"
)

const baseURL = "https://api.polygon.io"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=polygon_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches historic NBBO ticks from the Polygon API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
	// pageLimit is the maximum number of ticks requested per page.
	pageLimit int
	// maxPages caps cursor pagination for one (symbol, date).
	maxPages int
	// pace, when set, gates each page request.
	pace *ratelimit.TokenBucket
}

// ClientOption is a configuration option for the Polygon client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
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

// WithPageLimit sets the per-page tick limit.
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

// WithPacer gates each page request with a token bucket.
func WithPacer(tb *ratelimit.TokenBucket) ClientOption {
	return func(c *Client) {
		c.pace = tb
	}
}

// NewClient creates a new Polygon API client.
func NewClient(key string, options ...ClientOption) (*Client, error) {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
		pageLimit:  50000,
		maxPages:   200,
	}
	if key != "" {
		// Polygon accepts the key as a query parameter on every request.
		client.query.Add("apiKey", key)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

func (c *Client) Name() string { return "Polygon" }
