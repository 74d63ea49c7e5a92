// Package http is the session transport between the client and the identity
// service: one request pipeline that attaches the bearer and anti-forgery
// tokens and renews the session once when the service rejects the bearer.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// TokenSource supplies bearer tokens to the authenticated pipeline
type TokenSource interface {
	// AccessToken returns the current access token, or "" when there is none
	AccessToken(ctx context.Context) (string, error)
	// Refresh renews the session and returns the new access token
	Refresh(ctx context.Context) (string, error)
}

// Request describes one call to the identity service
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any // JSON encoded; nil sends no body
}

// Client sends requests to the identity service
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    TokenSource // nil for the bootstrap configuration
	csrf      csrfPolicy
	userAgent string
	logger    *zap.Logger
}

// NewClient creates the authenticated pipeline: bearer attachment and a
// single refresh-and-replay on 401.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("%w: token source is required", core.ErrInvalidInput)
	}
	return newClient(baseURL, tokens, opts)
}

// NewBootstrapClient creates the unauthenticated pipeline used before a
// session exists. It never sends a bearer and never refreshes, but still
// carries the anti-forgery token.
func NewBootstrapClient(baseURL string, opts ...Option) (*Client, error) {
	return newClient(baseURL, nil, opts)
}

func newClient(baseURL string, tokens TokenSource, opts []Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: parse base url: %w", core.ErrInvalidInput, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", core.ErrInvalidInput, baseURL)
	}

	c := &Client{
		baseURL: u,
		tokens:  tokens,
		csrf:    defaultCSRF(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPClient(DefaultTimeout)
	}
	return c, nil
}

// Do sends req and decodes a JSON response into out when out is non-nil
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("%w: encode request body: %w", core.ErrInvalidInput, err)
		}
	}

	var token string
	if c.tokens != nil {
		var err error
		if token, err = c.tokens.AccessToken(ctx); err != nil {
			return fmt.Errorf("read access token: %w", err)
		}
	}

	respBody, err := c.send(ctx, req, body, token)

	var statusErr *StatusError
	if c.tokens == nil || !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		return decode(respBody, err, out)
	}

	// One refresh per originating request; the replay is never retried.
	c.logger.Debug("request rejected, refreshing session",
		zap.String("method", req.Method), zap.String("path", req.Path))
	token, refreshErr := c.tokens.Refresh(ctx)
	if refreshErr != nil {
		return fmt.Errorf("%w: %w", err, refreshErr)
	}
	respBody, err = c.send(ctx, req, body, token)
	return decode(respBody, err, out)
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.resolve(req.Path, req.Query), reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", core.ErrInvalidInput, err)
	}
	c.decorate(httpReq)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if !safeMethod(req.Method) {
		if csrf := c.csrfToken(ctx); csrf != "" {
			httpReq.Header.Set(c.csrf.header, csrf)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", core.ErrTransport, req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", core.ErrTransport, err)
	}

	c.logger.Debug("identity service response",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return respBody, newStatusError(req.Method, req.Path, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.csrf.header != "" {
		// The service checks the referer on secure origins.
		req.Header.Set("Referer", c.baseURL.String()+"/")
	}
}

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(c.baseURL.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func decode(body []byte, err error, out any) error {
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %w", core.ErrTransport, err)
	}
	return nil
}
