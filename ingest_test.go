package chronicle_test

import (
	"encoding/base64"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-chronicle"
)

func TestExtractForwarderID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"projects/p/locations/us/instances/c/forwarders/fwd-1", "fwd-1", false},
		{"fwd-2", "fwd-2", false},
		{"projects/p/forwarders/fwd-3/", "fwd-3", false},
		{"", "", true},
		{"projects/p/locations/us", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := chronicle.ExtractForwarderID(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogTypeSet(t *testing.T) {
	set := chronicle.NewLogTypeSet("OKTA", "windows")
	assert.True(t, set.IsValid("okta"))
	assert.True(t, set.IsValid("WINDOWS"))
	assert.False(t, set.IsValid("AZURE_AD"))
}

// ingestServer answers forwarder listing with one existing SDK forwarder
// and records import bodies.
func ingestServer(t *testing.T, listCalls, imports *atomic.Int32, onImport func(map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/forwarders") && r.Method == http.MethodGet:
			listCalls.Add(1)
			writeJSON(t, w, map[string]any{"forwarders": []any{
				map[string]any{"name": "projects/p/forwarders/other", "displayName": "Other"},
				map[string]any{"name": "projects/p/forwarders/sdk-1", "displayName": chronicle.DefaultForwarderName},
			}})
		case strings.HasSuffix(r.URL.Path, "/logs:import"):
			imports.Add(1)
			if onImport != nil {
				onImport(decodeBody(t, r))
			}
			writeJSON(t, w, map[string]any{"name": "operations/op1"})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}
}

func TestLogService_Ingest(t *testing.T) {
	t.Run("encodes messages and caches forwarder", func(t *testing.T) {
		var listCalls, imports atomic.Int32
		client := setupTestServer(t, ingestServer(t, &listCalls, &imports, func(body map[string]any) {
			src := body["inline_source"].(map[string]any)
			assert.Equal(t, instancePath[len("/v1alpha/"):]+"/forwarders/sdk-1", src["forwarder"])
			logs := src["logs"].([]any)
			require.Len(t, logs, 1)
			entry := logs[0].(map[string]any)
			data, err := base64.StdEncoding.DecodeString(entry["data"].(string))
			require.NoError(t, err)
			assert.Equal(t, `{"event":"login"}`, string(data))
			assert.Equal(t, map[string]any{"env": map[string]any{"value": "prod"}}, entry["labels"])
		}))

		opts := &chronicle.IngestOptions{Labels: map[string]string{"env": "prod"}}
		for range 2 {
			ops, err := client.Logs.Ingest(t.Context(), "OKTA", []string{`{"event":"login"}`}, opts)
			require.NoError(t, err)
			require.Len(t, ops, 1)
			assert.Equal(t, "operations/op1", ops[0].Name)
		}
		assert.Equal(t, int32(1), listCalls.Load())
		assert.Equal(t, int32(2), imports.Load())
	})

	t.Run("explicit forwarder skips lookup", func(t *testing.T) {
		var listCalls, imports atomic.Int32
		client := setupTestServer(t, ingestServer(t, &listCalls, &imports, func(body map[string]any) {
			src := body["inline_source"].(map[string]any)
			assert.True(t, strings.HasSuffix(src["forwarder"].(string), "/forwarders/mine"))
		}))

		_, err := client.Logs.Ingest(t.Context(), "OKTA", []string{"x"}, &chronicle.IngestOptions{ForwarderID: "mine"})
		require.NoError(t, err)
		assert.Zero(t, listCalls.Load())
	})

	t.Run("creates forwarder when missing", func(t *testing.T) {
		var created atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			switch {
			case r.Method == http.MethodGet:
				writeJSON(t, w, map[string]any{})
			case strings.HasSuffix(r.URL.Path, "/forwarders"):
				created.Add(1)
				assert.Equal(t, chronicle.DefaultForwarderName, decodeBody(t, r)["displayName"])
				writeJSON(t, w, map[string]any{"name": "projects/p/forwarders/new-1", "displayName": chronicle.DefaultForwarderName})
			default:
				writeJSON(t, w, map[string]any{"name": "op"})
			}
		})

		_, err := client.Logs.Ingest(t.Context(), "OKTA", []string{"x"}, nil)
		require.NoError(t, err)
		assert.Equal(t, int32(1), created.Load())
	})

	t.Run("unknown log type rejected unless forced", func(t *testing.T) {
		var listCalls, imports atomic.Int32
		client := setupTestServer(t, ingestServer(t, &listCalls, &imports, nil),
			chronicle.WithLogTypeValidator(chronicle.NewLogTypeSet("OKTA")))

		_, err := client.Logs.Ingest(t.Context(), "CUSTOM_APP", []string{"x"}, nil)
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
		assert.Zero(t, imports.Load())

		_, err = client.Logs.Ingest(t.Context(), "CUSTOM_APP", []string{"x"}, &chronicle.IngestOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, int32(1), imports.Load())
	})

	t.Run("entry time after collection time", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		now := time.Now()
		_, err := client.Logs.Ingest(t.Context(), "OKTA", []string{"x"}, &chronicle.IngestOptions{
			EntryTime:      now,
			CollectionTime: now.Add(-time.Minute),
		})
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("large batch is split", func(t *testing.T) {
		var listCalls, imports atomic.Int32
		client := setupTestServer(t, ingestServer(t, &listCalls, &imports, nil))

		msgs := make([]string, 1500)
		for i := range msgs {
			msgs[i] = "line"
		}
		ops, err := client.Logs.Ingest(t.Context(), "OKTA", msgs, nil)
		require.NoError(t, err)
		assert.Len(t, ops, 2)
		assert.Equal(t, int32(2), imports.Load())
	})
}

func TestLogService_IngestUDM(t *testing.T) {
	t.Run("fills missing ids without touching input", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, instancePath+"/events:import", r.URL.Path)
			events := decodeBody(t, r)["inline_source"].(map[string]any)["events"].([]any)
			require.Len(t, events, 2)
			first := events[0].(map[string]any)["udm"].(map[string]any)["metadata"].(map[string]any)
			assert.NotEmpty(t, first["id"])
			assert.NotEmpty(t, first["event_timestamp"])
			second := events[1].(map[string]any)["udm"].(map[string]any)["metadata"].(map[string]any)
			assert.Equal(t, "keep-me", second["id"])
			writeJSON(t, w, map[string]any{"name": "op"})
		})

		events := []map[string]any{
			{"metadata": map[string]any{"event_type": "NETWORK_CONNECTION"}},
			{"metadata": map[string]any{"id": "keep-me", "event_timestamp": "2024-01-01T00:00:00Z"}},
		}
		_, err := client.Logs.IngestUDM(t.Context(), events)
		require.NoError(t, err)
		assert.NotContains(t, events[0]["metadata"].(map[string]any), "id")
	})

	t.Run("metadata required", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.Logs.IngestUDM(t.Context(), []map[string]any{{"principal": map[string]any{}}})
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})
}
