package chronicle

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
)

// resourceNamePattern constrains data table and reference list names.
var resourceNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,254}$`)

// rowPreviewLen caps the values quoted when a row is rejected.
const rowPreviewLen = 100

func validateResourceName(field, name string) error {
	if !resourceNamePattern.MatchString(name) {
		return invalidInput(field, "%q must start with a letter, contain only letters, numbers and underscores, and be under 256 characters", name)
	}
	return nil
}

// validateCIDR accepts a network in CIDR form or a bare address. Host
// bits may be set.
func validateCIDR(entry string) error {
	if _, err := netip.ParsePrefix(entry); err == nil {
		return nil
	}
	if addr, err := netip.ParseAddr(entry); err == nil && addr.Zone() == "" {
		return nil
	}
	return invalidInput("cidr", "invalid CIDR entry: %q", entry)
}

// DataTableColumnType is the type a rule sees for a column.
type DataTableColumnType string

const (
	ColumnTypeUnspecified DataTableColumnType = "DATA_TABLE_COLUMN_TYPE_UNSPECIFIED"
	ColumnTypeString      DataTableColumnType = "STRING"
	ColumnTypeRegex       DataTableColumnType = "REGEX"
	ColumnTypeCIDR        DataTableColumnType = "CIDR"
)

// ParseColumnType maps a case-sensitive type name to a column type.
func ParseColumnType(s string) (DataTableColumnType, error) {
	switch t := DataTableColumnType(s); t {
	case ColumnTypeString, ColumnTypeRegex, ColumnTypeCIDR, ColumnTypeUnspecified:
		return t, nil
	default:
		return "", invalidInput("column_type", "unknown column type %q", s)
	}
}

// DataTableColumn declares one column of a new table, in order.
type DataTableColumn struct {
	Name string
	Type DataTableColumnType
}

// DataTableColumnInfo is a column as stored by the API.
type DataTableColumnInfo struct {
	ColumnIndex    int                 `json:"columnIndex"`
	OriginalColumn string              `json:"originalColumn"`
	ColumnType     DataTableColumnType `json:"columnType,omitempty"`
}

// DataTable is a named, typed table referenced by rules.
type DataTable struct {
	Name          string                `json:"name"`
	DisplayName   string                `json:"displayName,omitempty"`
	Description   string                `json:"description,omitempty"`
	CreateTime    string                `json:"createTime,omitempty"`
	UpdateTime    string                `json:"updateTime,omitempty"`
	ColumnInfo    []DataTableColumnInfo `json:"columnInfo,omitempty"`
	DataTableUUID string                `json:"dataTableUuid,omitempty"`

	// RowCreationResponses holds the bulk responses for rows passed to
	// Create.
	RowCreationResponses []*DataTableRowsResponse `json:"rowCreationResponses,omitempty"`
	// RowCreationError is set when the table was created but its rows
	// were not.
	RowCreationError string `json:"rowCreationError,omitempty"`
}

// DataTableRow is one stored row.
type DataTableRow struct {
	Name       string   `json:"name"`
	Values     []string `json:"values"`
	CreateTime string   `json:"createTime,omitempty"`
	UpdateTime string   `json:"updateTime,omitempty"`
}

// ID is the row's short identifier.
func (r *DataTableRow) ID() string { return lastSegment(r.Name) }

// DataTableRowsResponse is the result of one bulk row request.
type DataTableRowsResponse struct {
	DataTableRows []DataTableRow `json:"dataTableRows"`
}

// DataTableCreateOptions tunes table creation.
type DataTableCreateOptions struct {
	// Scopes restricts the table to data access scopes.
	Scopes []string
}

// DataTableService manages data tables.
type DataTableService interface {
	// Create creates a table and, when rows are given, its rows. Row
	// failures after the table exists are reported on the result rather
	// than as an error.
	Create(ctx context.Context, name, description string, columns []DataTableColumn, rows [][]string, opts *DataTableCreateOptions, reqOpts ...RequestOption) (*DataTable, error)
	Get(ctx context.Context, name string, reqOpts ...RequestOption) (*DataTable, error)
	// All iterates over every table. orderBy is passed through unchanged.
	All(ctx context.Context, orderBy string, reqOpts ...RequestOption) iter.Seq2[*DataTable, error]
	List(ctx context.Context, orderBy string, reqOpts ...RequestOption) ([]*DataTable, error)
	// Delete removes a table. Force also removes its rows.
	Delete(ctx context.Context, name string, force bool, reqOpts ...RequestOption) error

	// CreateRows adds rows in as few bulk requests as the size limits
	// allow. An oversized row fails the call before any request.
	CreateRows(ctx context.Context, name string, rows [][]string, reqOpts ...RequestOption) ([]*DataTableRowsResponse, error)
	Rows(ctx context.Context, name, orderBy string, reqOpts ...RequestOption) iter.Seq2[*DataTableRow, error]
	ListRows(ctx context.Context, name, orderBy string, reqOpts ...RequestOption) ([]*DataTableRow, error)
	// DeleteRows removes rows one by one, stopping at the first failure.
	// It returns the number removed.
	DeleteRows(ctx context.Context, name string, rowIDs []string, reqOpts ...RequestOption) (int, error)
}

type dataTableService struct {
	*service
}

func newDataTableService(s *service) *dataTableService {
	return &dataTableService{service: s}
}

func (s *dataTableService) Create(ctx context.Context, name, description string, columns []DataTableColumn, rows [][]string, opts *DataTableCreateOptions, reqOpts ...RequestOption) (*DataTable, error) {
	if err := validateResourceName("data_table_name", name); err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, invalidInput("header", "at least one column is required")
	}
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, invalidInput("rows", "row %d has %d values, header has %d columns", i, len(row), len(columns))
		}
	}
	for c, col := range columns {
		if col.Type != ColumnTypeCIDR {
			continue
		}
		for _, row := range rows {
			if err := validateCIDR(row[c]); err != nil {
				return nil, err
			}
		}
	}

	info := make([]DataTableColumnInfo, len(columns))
	for i, col := range columns {
		colType := col.Type
		if colType == "" {
			colType = ColumnTypeString
		}
		info[i] = DataTableColumnInfo{ColumnIndex: i, OriginalColumn: col.Name, ColumnType: colType}
	}
	body := map[string]any{
		"description": description,
		"columnInfo":  info,
	}
	if opts != nil && len(opts.Scopes) > 0 {
		body["scopes"] = map[string]any{"dataAccessScopes": opts.Scopes}
	}

	var table DataTable
	q := url.Values{"dataTableId": {name}}
	if err := s.call(ctx, http.MethodPost, s.path("dataTables"), q, body, &table, reqOpts); err != nil {
		return nil, err
	}

	if len(rows) > 0 {
		responses, err := s.CreateRows(ctx, name, rows, reqOpts...)
		if err != nil {
			table.RowCreationError = err.Error()
		}
		table.RowCreationResponses = responses
	}
	return &table, nil
}

func (s *dataTableService) Get(ctx context.Context, name string, reqOpts ...RequestOption) (*DataTable, error) {
	if err := validateID("data_table", name); err != nil {
		return nil, err
	}
	var table DataTable
	if err := s.call(ctx, http.MethodGet, s.path("dataTables", name), nil, nil, &table, reqOpts); err != nil {
		return nil, notFound(err, "data table", name)
	}
	return &table, nil
}

func orderQuery(orderBy string) url.Values {
	if orderBy == "" {
		return nil
	}
	return url.Values{"orderBy": {orderBy}}
}

func (s *dataTableService) All(ctx context.Context, orderBy string, reqOpts ...RequestOption) iter.Seq2[*DataTable, error] {
	return listPages[*DataTable](ctx, s.service, s.path("dataTables"), "dataTables", orderQuery(orderBy), reqOpts)
}

func (s *dataTableService) List(ctx context.Context, orderBy string, reqOpts ...RequestOption) ([]*DataTable, error) {
	return CollectAll(s.All(ctx, orderBy, reqOpts...))
}

func (s *dataTableService) Delete(ctx context.Context, name string, force bool, reqOpts ...RequestOption) error {
	if err := validateID("data_table", name); err != nil {
		return err
	}
	q := url.Values{"force": {strconv.FormatBool(force)}}
	return notFound(s.call(ctx, http.MethodDelete, s.path("dataTables", name), q, nil, nil, reqOpts), "data table", name)
}

// bulkRow is the wire form of one row in a bulk create request.
type bulkRow struct {
	DataTableRow struct {
		Values []string `json:"values"`
	} `json:"data_table_row"`
}

func newBulkRow(values []string) bulkRow {
	var r bulkRow
	r.DataTableRow.Values = values
	return r
}

// rowSize is the serialized size a row adds to a bulk request.
func rowSize(values []string) int {
	data, err := json.Marshal(newBulkRow(values))
	if err != nil {
		return 0
	}
	return len(data)
}

func (s *dataTableService) CreateRows(ctx context.Context, name string, rows [][]string, reqOpts ...RequestOption) ([]*DataTableRowsResponse, error) {
	if err := validateID("data_table", name); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) == 0 {
			return nil, invalidInput("rows", "row %d is empty", i)
		}
		if len(row) != len(rows[0]) {
			return nil, invalidInput("rows", "row %d has %d values, expected %d", i, len(row), len(rows[0]))
		}
	}

	chunks, err := chunkBatch(rows, rowSize, defaultChunkLimits)
	if err != nil {
		var tooLarge *RowTooLargeError
		if errors.As(err, &tooLarge) {
			row := rows[tooLarge.Index]
			tooLarge.Preview = row[:min(len(row), rowPreviewLen)]
		}
		return nil, err
	}

	path := s.path("dataTables", name, "dataTableRows:bulkCreate")
	responses := make([]*DataTableRowsResponse, 0, len(chunks))
	for _, chunk := range chunks {
		reqs := make([]bulkRow, len(chunk))
		for i, row := range chunk {
			reqs[i] = newBulkRow(row)
		}
		var out DataTableRowsResponse
		if err := s.call(ctx, http.MethodPost, path, nil, map[string]any{"requests": reqs}, &out, reqOpts); err != nil {
			return responses, notFound(err, "data table", name)
		}
		responses = append(responses, &out)
	}
	return responses, nil
}

func (s *dataTableService) Rows(ctx context.Context, name, orderBy string, reqOpts ...RequestOption) iter.Seq2[*DataTableRow, error] {
	if err := validateID("data_table", name); err != nil {
		return failed[*DataTableRow](err)
	}
	return listPages[*DataTableRow](ctx, s.service, s.path("dataTables", name, "dataTableRows"), "dataTableRows", orderQuery(orderBy), reqOpts)
}

func (s *dataTableService) ListRows(ctx context.Context, name, orderBy string, reqOpts ...RequestOption) ([]*DataTableRow, error) {
	return CollectAll(s.Rows(ctx, name, orderBy, reqOpts...))
}

func (s *dataTableService) DeleteRows(ctx context.Context, name string, rowIDs []string, reqOpts ...RequestOption) (int, error) {
	if err := validateID("data_table", name); err != nil {
		return 0, err
	}
	for _, id := range rowIDs {
		if err := validateID("row", id); err != nil {
			return 0, err
		}
	}
	for i, id := range rowIDs {
		if err := s.call(ctx, http.MethodDelete, s.path("dataTables", name, "dataTableRows", id), nil, nil, nil, reqOpts); err != nil {
			return i, notFound(err, "data table row", id)
		}
	}
	return len(rowIDs), nil
}
