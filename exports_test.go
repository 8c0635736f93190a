package chronicle_test

import (
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-chronicle"
)

const bucket = "projects/p/buckets/b"

func TestDataExportService_Create(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		tests := []struct {
			name string
			req  chronicle.DataExportRequest
		}{
			{"no bucket", chronicle.DataExportRequest{Range: testRange, LogType: "WINDOWS"}},
			{"bad bucket", chronicle.DataExportRequest{GCSBucket: "gs://b", Range: testRange, LogType: "WINDOWS"}},
			{"reversed range", chronicle.DataExportRequest{GCSBucket: bucket, Range: chronicle.TimeRange{Start: testRange.End, End: testRange.Start}, LogType: "WINDOWS"}},
			{"neither", chronicle.DataExportRequest{GCSBucket: bucket, Range: testRange}},
			{"both", chronicle.DataExportRequest{GCSBucket: bucket, Range: testRange, LogType: "WINDOWS", ExportAllLogs: true}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := client.Exports.Create(t.Context(), tt.req)
				assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
			})
		}
	})

	t.Run("short log type resolved from catalog", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ":fetchavailablelogtypes") {
				writeJSON(t, w, map[string]any{"available_log_types": []any{
					map[string]any{"log_type": "projects/x/logTypes/OKTA", "start_time": "2024-01-01T00:00:00Z", "end_time": "2024-01-02T00:00:00Z"},
					map[string]any{"log_type": "projects/x/logTypes/WINDOWS", "start_time": "2024-01-01T00:00:00Z", "end_time": "2024-01-02T00:00:00Z"},
				}})
				return
			}
			assert.Equal(t, instancePath+"/dataExports", r.URL.Path)
			body := decodeBody(t, r)
			assert.Equal(t, "projects/x/logTypes/WINDOWS", body["log_type"])
			assert.Equal(t, bucket, body["gcs_bucket"])
			assert.Equal(t, "2024-01-01T00:00:00.000000Z", body["start_time"])
			assert.NotContains(t, body, "export_all_logs")
			writeJSON(t, w, map[string]any{"name": "dataExports/e1", "data_export_status": map[string]any{"stage": "IN_QUEUE"}})
		})

		export, err := client.Exports.Create(t.Context(), chronicle.DataExportRequest{GCSBucket: bucket, Range: testRange, LogType: "WINDOWS"})
		require.NoError(t, err)
		assert.Equal(t, "e1", export.ID())
		assert.Equal(t, chronicle.StageQueued, export.Stage())
	})

	t.Run("catalog failure falls back to instance name", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ":fetchavailablelogtypes") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			body := decodeBody(t, r)
			assert.True(t, strings.HasSuffix(body["log_type"].(string), "instances/test-customer/logTypes/OKTA"))
			writeJSON(t, w, map[string]any{"name": "e2"})
		})

		_, err := client.Exports.Create(t.Context(), chronicle.DataExportRequest{GCSBucket: bucket, Range: testRange, LogType: "OKTA"})
		require.NoError(t, err)
	})

	t.Run("export all", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			assert.Equal(t, true, body["export_all_logs"])
			assert.NotContains(t, body, "log_type")
			writeJSON(t, w, map[string]any{"name": "e3"})
		})

		_, err := client.Exports.Create(t.Context(), chronicle.DataExportRequest{GCSBucket: bucket, Range: testRange, ExportAllLogs: true})
		require.NoError(t, err)
	})
}

func TestDataExportService_Lifecycle(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, instancePath+"/dataExports/e1:cancel", r.URL.Path)
			writeJSON(t, w, map[string]any{"name": "e1", "data_export_status": map[string]any{"stage": "CANCELLED"}})
		})
		export, err := client.Exports.Cancel(t.Context(), "e1")
		require.NoError(t, err)
		assert.Equal(t, chronicle.StageCancelled, export.Stage())
	})

	t.Run("wait until finished", func(t *testing.T) {
		stages := []string{"IN_QUEUE", "PROCESSING", "FINISHED_SUCCESS"}
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			i := int(calls.Add(1)) - 1
			writeJSON(t, w, map[string]any{"name": "e1", "data_export_status": map[string]any{"stage": stages[min(i, 2)], "progress_percentage": 50}})
		})
		export, complete, err := client.Exports.Wait(t.Context(), "e1", nil)
		require.NoError(t, err)
		assert.True(t, complete)
		assert.Equal(t, chronicle.StageDone, export.Stage())
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("wait reports failure", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"name": "e1", "data_export_status": map[string]any{"stage": "FINISHED_FAILURE", "error": "bucket denied"}})
		})
		_, _, err := client.Exports.Wait(t.Context(), "e1", nil)
		var opErr *chronicle.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "bucket denied", opErr.Message)
	})

	t.Run("wait returns partial on budget", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, map[string]any{"name": "e1", "data_export_status": map[string]any{"stage": "PROCESSING"}})
		})
		export, complete, err := client.Exports.Wait(t.Context(), "e1", &chronicle.PollConfig{MaxAttempts: 2})
		require.NoError(t, err)
		assert.False(t, complete)
		assert.Equal(t, chronicle.StageRunning, export.Stage())
	})

	t.Run("available log types walk pages", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			if body["page_token"] == nil {
				writeJSON(t, w, map[string]any{
					"available_log_types": []any{map[string]any{"log_type": "a", "display_name": "A", "start_time": "2024-01-01T00:00:00Z", "end_time": "2024-01-02T00:00:00Z"}},
					"next_page_token":     "t2",
				})
				return
			}
			writeJSON(t, w, map[string]any{"available_log_types": []any{map[string]any{"log_type": "b", "start_time": "2024-01-01T00:00:00Z", "end_time": "2024-01-02T00:00:00Z"}}})
		})
		types, err := chronicle.CollectAll(client.Exports.AvailableLogTypes(t.Context(), testRange))
		require.NoError(t, err)
		require.Len(t, types, 2)
		assert.Equal(t, "A", types[0].DisplayName)
		assert.Equal(t, 2024, types[1].StartTime.Year())
	})
}
