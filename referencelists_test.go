package chronicle_test

import (
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/go-chronicle"
)

func TestParseReferenceListSyntax(t *testing.T) {
	tests := []struct {
		in   string
		want chronicle.ReferenceListSyntax
	}{
		{"STRING", chronicle.SyntaxString},
		{"regex", chronicle.SyntaxRegex},
		{"REFERENCE_LIST_SYNTAX_TYPE_CIDR", chronicle.SyntaxCIDR},
	}
	for _, tt := range tests {
		got, err := chronicle.ParseReferenceListSyntax(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := chronicle.ParseReferenceListSyntax("glob")
	assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
}

func TestReferenceListService(t *testing.T) {
	t.Run("create sends entries and syntax", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, instancePath+"/referenceLists", r.URL.Path)
			assert.Equal(t, "bad_nets", r.URL.Query().Get("referenceListId"))
			body := decodeBody(t, r)
			assert.Equal(t, string(chronicle.SyntaxCIDR), body["syntaxType"])
			assert.Equal(t, []any{map[string]any{"value": "10.0.0.0/8"}, map[string]any{"value": "::1"}}, body["entries"])
			writeJSON(t, w, body)
		})

		list, err := client.ReferenceLists.Create(t.Context(), "bad_nets", "", []string{"10.0.0.0/8", "::1"}, chronicle.SyntaxCIDR)
		require.NoError(t, err)
		assert.Equal(t, []string{"10.0.0.0/8", "::1"}, list.Values())
	})

	t.Run("create defaults to string syntax", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, string(chronicle.SyntaxString), decodeBody(t, r)["syntaxType"])
			writeJSON(t, w, map[string]any{"name": "l"})
		})
		_, err := client.ReferenceLists.Create(t.Context(), "admins", "", []string{"not-a-cidr"}, "")
		require.NoError(t, err)
	})

	t.Run("invalid cidr sends nothing", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.ReferenceLists.Create(t.Context(), "bad_nets", "", []string{"10.0.0.0/8", "300.1.1.1"}, chronicle.SyntaxCIDR)
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("get defaults to full view", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, instancePath+"/referenceLists/admins", r.URL.Path)
			assert.Equal(t, string(chronicle.ViewFull), r.URL.Query().Get("view"))
			writeJSON(t, w, map[string]any{"name": "admins", "entries": []any{map[string]any{"value": "root"}}})
		})
		list, err := client.ReferenceLists.Get(t.Context(), "admins", "")
		require.NoError(t, err)
		assert.Equal(t, []string{"root"}, list.Values())
	})

	t.Run("list defaults to basic view", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, string(chronicle.ViewBasic), r.URL.Query().Get("view"))
			writeJSON(t, w, map[string]any{"referenceLists": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}})
		})
		lists, err := client.ReferenceLists.List(t.Context(), "")
		require.NoError(t, err)
		assert.Len(t, lists, 2)
	})

	t.Run("update requires a field", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			t.Error("no request expected")
		})
		_, err := client.ReferenceLists.Update(t.Context(), "admins", chronicle.ReferenceListUpdate{})
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
	})

	t.Run("update description only", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPatch, r.Method)
			assert.Equal(t, "description", r.URL.Query().Get("updateMask"))
			writeJSON(t, w, decodeBody(t, r))
		})
		desc := "admins"
		list, err := client.ReferenceLists.Update(t.Context(), "admins", chronicle.ReferenceListUpdate{Description: &desc})
		require.NoError(t, err)
		assert.Equal(t, "admins", list.Description)
	})

	t.Run("update entries checks stored syntax", func(t *testing.T) {
		var calls atomic.Int32
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, http.MethodGet, r.Method)
			writeJSON(t, w, map[string]any{"name": "nets", "syntaxType": string(chronicle.SyntaxCIDR)})
		})
		_, err := client.ReferenceLists.Update(t.Context(), "nets", chronicle.ReferenceListUpdate{Entries: []string{"bogus"}})
		assert.ErrorIs(t, err, chronicle.ErrInvalidInput)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("update entries", func(t *testing.T) {
		client := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				writeJSON(t, w, map[string]any{"name": "nets", "syntaxType": string(chronicle.SyntaxString)})
				return
			}
			assert.Equal(t, "entries", r.URL.Query().Get("updateMask"))
			writeJSON(t, w, decodeBody(t, r))
		})
		list, err := client.ReferenceLists.Update(t.Context(), "nets", chronicle.ReferenceListUpdate{Entries: []string{"a", "b"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, list.Values())
	})
}
