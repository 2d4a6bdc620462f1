package apiclient

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// APIError is a non-success response from the API.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
	Fields     []FieldError
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if len(e.Fields) == 0 {
		return fmt.Sprintf("api: %d %s", e.Status, msg)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Message)
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, msg, strings.Join(parts, "; "))
}

// UserMessage is the text shown to people: field messages for validation
// failures, the server message otherwise, and a wait hint when rate limited.
func (e *APIError) UserMessage() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Message)
		}
		msg = strings.Join(parts, "; ")
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Status == http.StatusTooManyRequests && e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry in %s)", e.RetryAfter)
	}
	return msg
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
