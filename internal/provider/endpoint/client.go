package endpoint

import (
	"net/http"
	"time"
)

// AuthPlaceholder is replaced in an endpoint URL template by the credential.
const AuthPlaceholder = "{auth}"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=endpoint_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client issues single GET requests against configured price endpoints.
type Client struct {
	// httpClient is the HTTP client.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// timeout bounds one request, including reading the body.
	timeout time.Duration
	// maxBody caps how much of a response body is decoded.
	maxBody int64
	// now is the clock used for samples without a timestamp.
	now func() time.Time
}

// ClientOption is a configuration option for the endpoint client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client.
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

// WithTimeout bounds each request. Zero leaves only the caller's context.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a new endpoint client.
func NewClient(options ...ClientOption) *Client {
	var client = &Client{
		httpClient: http.DefaultClient,
		header:     http.Header{},
		timeout:    8 * time.Second,
		maxBody:    1 << 20,
		now:        time.Now,
	}
	for _, option := range options {
		option(client)
	}
	return client
}
