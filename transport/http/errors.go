package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/myeganeh2876/MomentumPasskeyTest/core"
)

// StatusError is a non-2xx response from the identity service
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string // Server-provided message, if any
	Body       []byte
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap maps the status class onto the core error taxonomy
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return core.ErrAuthRejected
	case e.StatusCode >= 500:
		return core.ErrTransport
	default:
		return core.ErrRequestRejected
	}
}

func newStatusError(method, path string, status int, body []byte) *StatusError {
	return &StatusError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Message:    serverMessage(body),
		Body:       body,
	}
}

// serverMessage extracts the human readable message from an error body
func serverMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, key := range []string{"message", "detail", "error"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
