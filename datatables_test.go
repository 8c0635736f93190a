package chronicle_test

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-chronicle"
)

func TestDataTableService_Create(t *testing.T) {
	columns := []chronicle.DataTableColumn{
		{Name: "host", Type: chronicle.ColumnTypeString},
		{Name: "net", Type: chronicle.ColumnTypeCIDR},
	}

	t.Run("creates table then rows", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			switch calls.Add(1) {
			case 1:
				assert.Equal(t, instancePath+"/dataTables", r.URL.Path)
				assert.Equal(t, "assets", r.URL.Query().Get("dataTableId"))
				body := decodeBody(t, r)
				assert.Equal(t, "known assets", body["description"])
				info := body["columnInfo"].([]any)
				require.Len(t, info, 2)
				assert.Equal(t, map[string]any{"columnIndex": float64(1), "originalColumn": "net", "columnType": "CIDR"}, info[1])
				assert.Equal(t, map[string]any{"dataAccessScopes": []any{"scope_a"}}, body["scopes"])
				writeJSON(t, w, map[string]any{"name": instancePath + "/dataTables/assets", "dataTableUuid": "u1"})
			case 2:
				assert.Equal(t, instancePath+"/dataTables/assets/dataTableRows:bulkCreate", r.URL.Path)
				reqs := decodeBody(t, r)["requests"].([]any)
				require.Len(t, reqs, 2)
				assert.Equal(t, map[string]any{"data_table_row": map[string]any{"values": []any{"web", "10.0.0.0/8"}}}, reqs[0])
				writeJSON(t, w, map[string]any{"dataTableRows": []any{
					map[string]any{"name": "r1", "values": []any{"web", "10.0.0.0/8"}},
					map[string]any{"name": "r2", "values": []any{"db", "192.168.1.5"}},
				}})
			default:
				t.Error("unexpected request")
			}
		})

		table, err := client.DataTables.Create(t.Context(), "assets", "known assets", columns,
			[][]string{{"web", "10.0.0.0/8"}, {"db", "192.168.1.5"}},
			&chronicle.DataTableCreateOptions{Scopes: []string{"scope_a"}})
		require.NoError(t, err)
		assert.Equal(t, "u1", table.DataTableUUID)
		require.Len(t, table.RowCreationResponses, 1)
		assert.Len(t, table.RowCreationResponses[0].DataTableRows, 2)
		assert.Empty(t, table.RowCreationError)
	})

	t.Run("row failure is reported on the table", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				writeJSON(t, w, map[string]any{"name": "assets"})
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":400,"message":"bad row"}}`))
		})

		table, err := client.DataTables.Create(t.Context(), "assets", "", columns, [][]string{{"web", "10.0.0.0/8"}}, nil)
		require.NoError(t, err)
		assert.Contains(t, table.RowCreationError, "bad row")
	})

	t.Run("local validation", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		tests := []struct {
			name    string
			table   string
			columns []chronicle.DataTableColumn
			rows    [][]string
		}{
			{"name starts with digit", "1assets", columns, nil},
			{"name has dash", "my-table", columns, nil},
			{"name too long", "a" + strings.Repeat("b", 255), columns, nil},
			{"no columns", "assets", nil, nil},
			{"short row", "assets", columns, [][]string{{"web"}}},
			{"bad cidr", "assets", columns, [][]string{{"web", "10.0.0.0/33"}}},
			{"not an address", "assets", columns, [][]string{{"web", "nope"}}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := client.DataTables.Create(t.Context(), tt.table, "", tt.columns, tt.rows, nil)
				assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
			})
		}
	})
}

func TestDataTableService_CreateRows(t *testing.T) {
	t.Run("splits at the row limit", func(t *testing.T) {
		var (
			mu    sync.Mutex
			sizes []int
		)
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			reqs := decodeBody(t, r)["requests"].([]any)
			mu.Lock()
			sizes = append(sizes, len(reqs))
			mu.Unlock()
			writeJSON(t, w, map[string]any{"dataTableRows": []any{}})
		})

		rows := make([][]string, 2500)
		for i := range rows {
			rows[i] = []string{fmt.Sprintf("host-%d", i)}
		}
		responses, err := client.DataTables.CreateRows(t.Context(), "assets", rows)
		require.NoError(t, err)
		assert.Len(t, responses, 3)
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1000, 1000, 500}, sizes)
	})

	t.Run("oversized row fails before any request", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		rows := [][]string{{"small"}, {strings.Repeat("x", 4_000_001)}}
		_, err := client.DataTables.CreateRows(t.Context(), "assets", rows)
		var tooLarge *chronicle.RowTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		assert.Equal(t, 1, tooLarge.Index)
		assert.Len(t, tooLarge.Preview, 1)
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("wide oversized row preview keeps the first hundred values", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})

		wide := make([]string, 150)
		for i := range wide {
			wide[i] = fmt.Sprintf("v%d", i)
		}
		wide[0] = strings.Repeat("x", 4_000_001)
		_, err := client.DataTables.CreateRows(t.Context(), "assets", [][]string{wide})
		var tooLarge *chronicle.RowTooLargeError
		require.ErrorAs(t, err, &tooLarge)
		require.Len(t, tooLarge.Preview, 100)
		assert.Equal(t, "v99", tooLarge.Preview[99])
	})

	t.Run("stops at first failed chunk", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			writeJSON(t, w, map[string]any{"dataTableRows": []any{}})
		})

		rows := make([][]string, 3000)
		for i := range rows {
			rows[i] = []string{"v"}
		}
		responses, err := client.DataTables.CreateRows(t.Context(), "assets", rows)
		var srv *chronicle.ServerError
		require.ErrorAs(t, err, &srv)
		assert.Len(t, responses, 1)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("ragged rows are rejected", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.DataTables.CreateRows(t.Context(), "assets", [][]string{{"a", "b"}, {"c"}})
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})
}

func TestDataTableService_ListAndDelete(t *testing.T) {
	t.Run("list passes order and walks pages", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			assert.Equal(t, "createTime asc", q.Get("orderBy"))
			if q.Get("pageToken") == "" {
				writeJSON(t, w, map[string]any{
					"dataTables":    []any{map[string]any{"name": "t1"}},
					"nextPageToken": "n",
				})
				return
			}
			writeJSON(t, w, map[string]any{"dataTables": []any{map[string]any{"name": "t2"}}})
		})

		tables, err := client.DataTables.List(t.Context(), "createTime asc")
		require.NoError(t, err)
		require.Len(t, tables, 2)
		assert.Equal(t, "t2", tables[1].Name)
	})

	t.Run("list rows", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, instancePath+"/dataTables/assets/dataTableRows", r.URL.Path)
			assert.Empty(t, r.URL.Query().Get("orderBy"))
			writeJSON(t, w, map[string]any{"dataTableRows": []any{
				map[string]any{"name": instancePath + "/dataTables/assets/dataTableRows/row9", "values": []any{"a"}},
			}})
		})

		rows, err := client.DataTables.ListRows(t.Context(), "assets", "")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "row9", rows[0].ID())
	})

	t.Run("delete table", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.Equal(t, "false", r.URL.Query().Get("force"))
			w.WriteHeader(http.StatusNoContent)
		})
		require.NoError(t, client.DataTables.Delete(t.Context(), "assets", false))
	})

	t.Run("delete rows stops at first failure", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/r2") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		n, err := client.DataTables.DeleteRows(t.Context(), "assets", []string{"r1", "r2", "r3"})
		var nf *chronicle.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "r2", nf.ResourceID)
		assert.Equal(t, 1, n)
	})

	t.Run("get not found", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		_, err := client.DataTables.Get(t.Context(), "missing")
		var nf *chronicle.NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "data table", nf.ResourceType)
	})
}
