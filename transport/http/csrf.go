package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// Anti-forgery defaults of the identity service
const (
	DefaultCSRFCookie    = "csrftoken"
	DefaultCSRFHeader    = "X-CSRFToken"
	DefaultCSRFPrimePath = "/auth/csrf/"
)

type csrfPolicy struct {
	cookie    string
	header    string
	primePath string // GET here to obtain the cookie when it is missing
}

func defaultCSRF() csrfPolicy {
	return csrfPolicy{
		cookie:    DefaultCSRFCookie,
		header:    DefaultCSRFHeader,
		primePath: DefaultCSRFPrimePath,
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// token reads the anti-forgery cookie for the service, priming it once if absent
func (c *Client) csrfToken(ctx context.Context) string {
	if c.csrf.cookie == "" || c.http.Jar == nil {
		return ""
	}
	if token := c.cookie(c.csrf.cookie); token != "" {
		return token
	}
	if c.csrf.primePath == "" {
		return ""
	}
	if err := c.primeCSRF(ctx); err != nil {
		c.logger.Debug("failed to obtain anti-forgery cookie", zap.Error(err))
		return ""
	}
	return c.cookie(c.csrf.cookie)
}

func (c *Client) primeCSRF(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(c.csrf.primePath, nil), nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("prime anti-forgery cookie: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) cookie(name string) string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
