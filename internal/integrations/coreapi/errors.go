package coreapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound matches (via errors.Is) any HTTPStatusError carrying a 404.
	ErrNotFound = errors.New("coreapi: resource not found")
	// ErrConversationNotFound matches a 404 for a missing conversation: the
	// detail says "not found", or there is no detail at all. A 404 for an
	// inactive widget key does not match.
	ErrConversationNotFound = errors.New("coreapi: conversation not found")
)

// HTTPStatusError captures non-2xx responses from the core API.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	// Detail is the human readable reason from the response body, if any.
	Detail string
}

func (e *HTTPStatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("coreapi: unexpected status %d from %s", e.StatusCode, e.URL)
	}
	return fmt.Sprintf("coreapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Detail)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Message is the text shown to guests: the server's detail, or a generic
// "Request failed (status)" line.
func (e *HTTPStatusError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("Request failed (%d)", e.StatusCode)
}

func (e *HTTPStatusError) Is(target error) bool {
	if e.StatusCode != http.StatusNotFound {
		return false
	}
	switch target {
	case ErrNotFound:
		return true
	case ErrConversationNotFound:
		return e.Detail == "" || strings.Contains(strings.ToLower(e.Detail), "not found")
	}
	return false
}

// parseDetail extracts the reason from FastAPI style error bodies
// ({"detail": "..."}), also accepting {"error": "..."}. Validation errors
// carry a list under detail; their first msg is used.
func parseDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
			return strings.TrimSpace(items[0].Msg)
		}
	}
	return strings.TrimSpace(payload.Error)
}
