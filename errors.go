package chronicle

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNoCredentials = errors.New("chronicle: no credentials configured")
	ErrNoInstance    = errors.New("chronicle: project and customer IDs are required")

	// ErrInvalidInput matches every error raised by client-side validation,
	// before any request is sent.
	ErrInvalidInput = errors.New("chronicle: invalid input")

	errMalformedJSON = errors.New("body looks like JSON but does not parse")
)

// APIError represents a general Chronicle API error.
type APIError struct {
	StatusCode int    `json:"code"`
	Message    string `json:"message"`
	Status     string `json:"status,omitempty"`
	RequestID  string `json:"-"`
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("chronicle: API error %d: %s (request_id=%s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("chronicle: API error %d: %s", e.StatusCode, e.Message)
}

// AuthenticationError indicates authentication failure (401/403).
type AuthenticationError struct {
	APIError
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("chronicle: authentication failed: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *AuthenticationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// NotFoundError indicates the requested resource was not found (404).
type NotFoundError struct {
	APIError
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	if e.ResourceType != "" && e.ResourceID != "" {
		return fmt.Sprintf("chronicle: %s not found: %s", e.ResourceType, e.ResourceID)
	}
	return fmt.Sprintf("chronicle: resource not found: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *NotFoundError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ValidationError indicates the API rejected the request data (400).
type ValidationError struct {
	APIError
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chronicle: request rejected: %s", e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ValidationError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// RateLimitError indicates the API rate limit was exceeded (429).
type RateLimitError struct {
	APIError
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("chronicle: rate limit exceeded, retry after %s", e.RetryAfter)
	}
	return "chronicle: rate limit exceeded"
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *RateLimitError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ServerError indicates an internal server error (5xx).
type ServerError struct {
	APIError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("chronicle: server error %d: %s", e.StatusCode, e.Message)
}

// As implements error unwrapping for errors.As to match *APIError.
func (e *ServerError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// ParseError indicates a response body that looked structured but could
// not be decoded.
type ParseError struct {
	APIError
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("chronicle: failed to parse response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// As implements error unwrapping for errors.As to match *APIError.
func (e *ParseError) As(target any) bool {
	if t, ok := target.(**APIError); ok {
		*t = &e.APIError
		return true
	}
	return false
}

// OperationError reports a long-running operation that reached the ERROR
// stage.
type OperationError struct {
	Operation string
	Code      int
	Message   string
}

func (e *OperationError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("chronicle: operation %s failed: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("chronicle: operation failed: %s", e.Message)
}

// InputError is returned when arguments fail client-side validation.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("chronicle: invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("chronicle: invalid input: %s", e.Message)
}

// Is reports a match against ErrInvalidInput.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// RowTooLargeError is returned when a single row exceeds the per-request
// byte limit on its own.
type RowTooLargeError struct {
	Index int
	Size  int
	Limit int
	// Preview holds the leading values of the offending row.
	Preview []string
}

func (e *RowTooLargeError) Error() string {
	return fmt.Sprintf("chronicle: row %d is too large to process (%d bytes > %d): %v",
		e.Index, e.Size, e.Limit, e.Preview)
}

// Is reports a match against ErrInvalidInput.
func (e *RowTooLargeError) Is(target error) bool {
	return target == ErrInvalidInput
}

func invalidInput(field, format string, args ...any) error {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// parseError converts an HTTP response into the appropriate error type.
func parseError(statusCode int, body []byte, headers http.Header) error {
	base := APIError{
		StatusCode: statusCode,
		RequestID:  headers.Get("X-Request-ID"),
	}

	// Google APIs wrap errors as {"error": {"code", "message", "status"}}.
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		base.Message = envelope.Error.Message
		base.Status = envelope.Error.Status
	} else {
		base.Message = strings.TrimSpace(string(body))
	}
	if base.Message == "" {
		base.Message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthenticationError{APIError: base}
	case statusCode == http.StatusNotFound:
		return &NotFoundError{APIError: base}
	case statusCode == http.StatusBadRequest:
		return &ValidationError{APIError: base}
	case statusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			APIError:   base,
			RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
		}
	case statusCode >= http.StatusInternalServerError:
		return &ServerError{APIError: base}
	default:
		return &base
	}
}

// transientMarkers are status texts the API uses for conditions that clear
// up on their own.
var transientMarkers = []string{
	"RESOURCE_EXHAUSTED",
	"UNAVAILABLE",
	"not yet ready",
	"not ready",
	"rate limit",
	"quota exceeded",
}

// isTransient reports whether err is a condition worth retrying while
// polling.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	text := strings.ToLower(apiErr.Status + " " + apiErr.Message)
	for _, marker := range transientMarkers {
		if strings.Contains(text, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// retryAfter returns the server-requested delay carried by err, if any.
func retryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// parseRetryAfter parses the Retry-After header value.
// It handles both seconds (integer) and HTTP-date formats.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try parsing as seconds first
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try parsing as HTTP-date (RFC 1123)
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		duration := time.Until(t)
		if duration > 0 {
			return duration
		}
	}

	return 0
}
