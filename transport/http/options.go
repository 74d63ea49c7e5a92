package http

import (
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// DefaultTimeout bounds a single HTTP exchange
const DefaultTimeout = 30 * time.Second

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Clients sharing one cookie
// jar share the anti-forgery cookie.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.http = client }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCSRF overrides the anti-forgery cookie, header and priming path.
// An empty cookie name disables anti-forgery handling.
func WithCSRF(cookie, header, primePath string) Option {
	return func(c *Client) {
		c.csrf = csrfPolicy{cookie: cookie, header: header, primePath: primePath}
	}
}

// WithUserAgent sets the User-Agent header sent on every request
func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

// NewHTTPClient returns an HTTP client with a public-suffix aware cookie jar
func NewHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout, Jar: jar}
}
