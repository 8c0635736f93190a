package chronicle_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/go-chronicle"
)

const instancePath = "/v1alpha/projects/test-project/locations/us/instances/test-customer"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fastPoll keeps polling tests quick.
var fastPoll = chronicle.PollConfig{
	MaxAttempts: 5,
	Interval:    time.Millisecond,
	MaxInterval: 5 * time.Millisecond,
}

func setupTestServer(t *testing.T, handler http.HandlerFunc, opts ...chronicle.ClientOption) *chronicle.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []chronicle.ClientOption{
		chronicle.WithBaseURL(server.URL + "/v1alpha"),
		chronicle.WithProject("test-project", "test-customer"),
		chronicle.WithToken("test-token"),
		chronicle.WithPollConfig(fastPoll),
	}
	client, err := chronicle.NewClient(append(base, opts...)...)
	require.NoError(t, err)

	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestNewClient(t *testing.T) {
	t.Run("derives endpoint from region", func(t *testing.T) {
		client, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
			chronicle.WithRegion("europe"),
		)
		require.NoError(t, err)
		assert.Equal(t, "https://europe-chronicle.googleapis.com/v1alpha", client.BaseURL())
		assert.Equal(t, "projects/p/locations/europe/instances/c", client.Instance())
		assert.NotNil(t, client.Search)
		assert.NotNil(t, client.Rules)
		assert.NotNil(t, client.DataTables)
	})

	t.Run("defaults to us", func(t *testing.T) {
		client, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
		)
		require.NoError(t, err)
		assert.Equal(t, "https://us-chronicle.googleapis.com/v1alpha", client.BaseURL())
	})

	t.Run("dev region uses sandbox host", func(t *testing.T) {
		client, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
			chronicle.WithRegion("dev"),
		)
		require.NoError(t, err)
		assert.Equal(t, "https://dev-chronicle.sandbox.googleapis.com/v1alpha", client.BaseURL())
		assert.Equal(t, "projects/p/locations/us/instances/c", client.Instance())
	})

	t.Run("error without project", func(t *testing.T) {
		_, err := chronicle.NewClient(chronicle.WithToken("tok"))
		assert.ErrorIs(t, err, chronicle.ErrNoInstance)
	})

	t.Run("error without credentials", func(t *testing.T) {
		_, err := chronicle.NewClient(chronicle.WithProject("p", "c"))
		assert.ErrorIs(t, err, chronicle.ErrNoCredentials)
	})

	t.Run("rejects unbounded polling", func(t *testing.T) {
		_, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
			chronicle.WithPollConfig(chronicle.PollConfig{MaxAttempts: -1}),
		)
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("timeout-only polling", func(t *testing.T) {
		_, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
			chronicle.WithPollConfig(chronicle.PollConfig{MaxAttempts: chronicle.NoAttemptLimit, Timeout: time.Minute}),
		)
		assert.NoError(t, err)
	})

	t.Run("success with all options", func(t *testing.T) {
		client, err := chronicle.NewClient(
			chronicle.WithProject("p", "c"),
			chronicle.WithToken("tok"),
			chronicle.WithBaseURL("https://chronicle.example.com/v1alpha"),
			chronicle.WithUserAgent("test-agent/1.0"),
			chronicle.WithTimeout(90*time.Second),
			chronicle.WithHTTPClient(&http.Client{Timeout: time.Minute}),
			chronicle.WithRateLimit(10, 5),
			chronicle.WithLogTypeValidator(chronicle.NewLogTypeSet("OKTA")),
		)
		require.NoError(t, err)
		assert.Equal(t, "https://chronicle.example.com/v1alpha", client.BaseURL())
	})
}

func TestRequestOptions(t *testing.T) {
	client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "custom-value", r.Header.Get("X-Custom"))
		assert.Equal(t, "trace-1", r.Header.Get("X-Request-ID"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		writeJSON(t, w, map[string]any{"isValid": true})
	})

	_, err := client.Search.ValidateQuery(t.Context(), `metadata.event_type = "NETWORK_DNS"`,
		chronicle.WithHeader("X-Custom", "custom-value"),
		chronicle.WithRequestID("trace-1"))
	require.NoError(t, err)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "google envelope",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"bad query","status":"INVALID_ARGUMENT"}}`,
			check: func(t *testing.T, err error) {
				var vErr *chronicle.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, "bad query", vErr.Message)
				assert.Equal(t, "INVALID_ARGUMENT", vErr.Status)
				assert.NotEmpty(t, vErr.RequestID)
			},
		},
		{
			name:   "plain text body",
			status: http.StatusForbidden,
			body:   "permission denied",
			check: func(t *testing.T, err error) {
				var authErr *chronicle.AuthenticationError
				require.ErrorAs(t, err, &authErr)
				assert.Equal(t, "permission denied", authErr.Message)
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   "",
			check: func(t *testing.T, err error) {
				var sErr *chronicle.ServerError
				require.ErrorAs(t, err, &sErr)
				assert.Equal(t, "Bad Gateway", sErr.Message)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Search.ValidateQuery(t.Context(), "q")
			tt.check(t, err)
		})
	}

	t.Run("malformed success body is a parse error", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"isValid": tru`))
		})
		_, err := client.Search.ValidateQuery(t.Context(), "q")
		var parseErr *chronicle.ParseError
		require.ErrorAs(t, err, &parseErr)
	})
}
