package chronicle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-chronicle"
)

func TestAPIError(t *testing.T) {
	t.Run("Error without request ID", func(t *testing.T) {
		err := &chronicle.APIError{
			StatusCode: 500,
			Message:    "internal error",
		}
		assert.Equal(t, "chronicle: API error 500: internal error", err.Error())
	})

	t.Run("Error with request ID", func(t *testing.T) {
		err := &chronicle.APIError{
			StatusCode: 500,
			Message:    "internal error",
			RequestID:  "req-123",
		}
		assert.Equal(t, "chronicle: API error 500: internal error (request_id=req-123)", err.Error())
	})
}

func TestAuthenticationError(t *testing.T) {
	err := &chronicle.AuthenticationError{
		APIError: chronicle.APIError{
			StatusCode: 401,
			Message:    "invalid token",
		},
	}
	assert.Equal(t, "chronicle: authentication failed: invalid token", err.Error())

	var apiErr *chronicle.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.StatusCode)
}

func TestNotFoundError(t *testing.T) {
	t.Run("with resource info", func(t *testing.T) {
		err := &chronicle.NotFoundError{
			APIError:     chronicle.APIError{StatusCode: 404},
			ResourceType: "rule",
			ResourceID:   "ru_123",
		}
		assert.Equal(t, "chronicle: rule not found: ru_123", err.Error())
	})

	t.Run("without resource info", func(t *testing.T) {
		err := &chronicle.NotFoundError{
			APIError: chronicle.APIError{
				StatusCode: 404,
				Message:    "not found",
			},
		}
		assert.Equal(t, "chronicle: resource not found: not found", err.Error())
	})
}

func TestValidationError(t *testing.T) {
	err := &chronicle.ValidationError{
		APIError: chronicle.APIError{
			StatusCode: 400,
			Message:    "bad query",
		},
	}
	assert.Equal(t, "chronicle: request rejected: bad query", err.Error())
	assert.NotErrorIs(t, err, chronicle.ErrInvalidInput)
}

func TestRateLimitError(t *testing.T) {
	t.Run("with retry-after", func(t *testing.T) {
		err := &chronicle.RateLimitError{
			APIError:   chronicle.APIError{StatusCode: 429},
			RetryAfter: 30 * time.Second,
		}
		assert.Equal(t, "chronicle: rate limit exceeded, retry after 30s", err.Error())
	})

	t.Run("without retry-after", func(t *testing.T) {
		err := &chronicle.RateLimitError{
			APIError: chronicle.APIError{StatusCode: 429},
		}
		assert.Equal(t, "chronicle: rate limit exceeded", err.Error())
	})
}

func TestServerError(t *testing.T) {
	err := &chronicle.ServerError{
		APIError: chronicle.APIError{
			StatusCode: 503,
			Message:    "service unavailable",
		},
	}
	assert.Equal(t, "chronicle: server error 503: service unavailable", err.Error())
}

func TestParseErrorUnwraps(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := &chronicle.ParseError{APIError: chronicle.APIError{StatusCode: 200}, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to parse response")
}

func TestOperationError(t *testing.T) {
	assert.Equal(t, "chronicle: operation op/1 failed: boom",
		(&chronicle.OperationError{Operation: "op/1", Message: "boom"}).Error())
	assert.Equal(t, "chronicle: operation failed: boom",
		(&chronicle.OperationError{Message: "boom"}).Error())
}

func TestInputErrors(t *testing.T) {
	t.Run("input error", func(t *testing.T) {
		err := &chronicle.InputError{Field: "query", Message: "cannot be empty"}
		assert.Equal(t, "chronicle: invalid query: cannot be empty", err.Error())
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("row too large", func(t *testing.T) {
		err := &chronicle.RowTooLargeError{Index: 3, Size: 10, Limit: 5, Preview: []string{"a"}}
		assert.Equal(t, "chronicle: row 3 is too large to process (10 bytes > 5): [a]", err.Error())
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})
}

func TestErrorsAs(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"AuthenticationError", &chronicle.AuthenticationError{APIError: chronicle.APIError{StatusCode: 401}}},
		{"NotFoundError", &chronicle.NotFoundError{APIError: chronicle.APIError{StatusCode: 404}}},
		{"ValidationError", &chronicle.ValidationError{APIError: chronicle.APIError{StatusCode: 400}}},
		{"RateLimitError", &chronicle.RateLimitError{APIError: chronicle.APIError{StatusCode: 429}}},
		{"ServerError", &chronicle.ServerError{APIError: chronicle.APIError{StatusCode: 500}}},
		{"ParseError", &chronicle.ParseError{APIError: chronicle.APIError{StatusCode: 200}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr *chronicle.APIError
			require.ErrorAs(t, tt.err, &apiErr, "should be detectable as APIError")
		})
	}
}
