package chronicle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// StatsValueKind identifies which variant a StatsValue holds.
type StatsValueKind int

const (
	StatsNull StatsValueKind = iota
	StatsInt
	StatsFloat
	StatsString
)

// StatsValue is a single cell of a statistics table: null, an integer, a
// float or a string.
type StatsValue struct {
	kind StatsValueKind
	i    int64
	f    float64
	s    string
}

// NullValue returns the null cell.
func NullValue() StatsValue { return StatsValue{} }

// IntValue returns an integer cell.
func IntValue(v int64) StatsValue { return StatsValue{kind: StatsInt, i: v} }

// FloatValue returns a float cell.
func FloatValue(v float64) StatsValue { return StatsValue{kind: StatsFloat, f: v} }

// StringValue returns a string cell.
func StringValue(v string) StatsValue { return StatsValue{kind: StatsString, s: v} }

// Kind reports the variant held.
func (v StatsValue) Kind() StatsValueKind { return v.kind }

// IsNull reports whether the cell is empty.
func (v StatsValue) IsNull() bool { return v.kind == StatsNull }

// Int returns the integer value and whether the cell holds one.
func (v StatsValue) Int() (int64, bool) { return v.i, v.kind == StatsInt }

// Float returns the float value and whether the cell holds one.
func (v StatsValue) Float() (float64, bool) { return v.f, v.kind == StatsFloat }

// Str returns the string value and whether the cell holds one.
func (v StatsValue) Str() (string, bool) { return v.s, v.kind == StatsString }

// Any returns the cell as nil, int64, float64 or string.
func (v StatsValue) Any() any {
	switch v.kind {
	case StatsInt:
		return v.i
	case StatsFloat:
		return v.f
	case StatsString:
		return v.s
	default:
		return nil
	}
}

func (v StatsValue) String() string {
	switch v.kind {
	case StatsInt:
		return strconv.FormatInt(v.i, 10)
	case StatsFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case StatsString:
		return v.s
	default:
		return ""
	}
}

// MarshalJSON implements json.Marshaler. Non-finite floats encode as null.
func (v StatsValue) MarshalJSON() ([]byte, error) {
	if v.kind == StatsFloat && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return []byte("null"), nil
	}
	return json.Marshal(v.Any())
}

// StatsRow maps column names to cells.
type StatsRow map[string]StatsValue

// StatsResult is a column-major statistics response pivoted into rows.
type StatsResult struct {
	Columns   []string   `json:"columns"`
	Rows      []StatsRow `json:"rows"`
	TotalRows int        `json:"total_rows"`
	// Complete is false when polling stopped before the query finished.
	Complete bool `json:"complete"`
}

// statsPayload is the column-major wire form.
type statsPayload struct {
	Results []statsColumn `json:"results"`
}

type statsColumn struct {
	Column string      `json:"column"`
	Values []statsCell `json:"values"`
}

type statsCell struct {
	Value *statsTypedValue `json:"value"`
}

type statsTypedValue struct {
	Int64Val  json.RawMessage `json:"int64Val"`
	DoubleVal json.RawMessage `json:"doubleVal"`
	StringVal *string         `json:"stringVal"`
}

// decode converts a typed wire value. Integers arrive as strings or
// numbers.
func (tv *statsTypedValue) decode() (StatsValue, error) {
	switch {
	case tv == nil:
		return NullValue(), nil
	case len(tv.Int64Val) > 0:
		n, err := strconv.ParseInt(unquoteNumber(tv.Int64Val), 10, 64)
		if err != nil {
			return NullValue(), fmt.Errorf("int64Val %s: %w", tv.Int64Val, err)
		}
		return IntValue(n), nil
	case len(tv.DoubleVal) > 0:
		f, err := strconv.ParseFloat(unquoteNumber(tv.DoubleVal), 64)
		if err != nil {
			return NullValue(), fmt.Errorf("doubleVal %s: %w", tv.DoubleVal, err)
		}
		return FloatValue(f), nil
	case tv.StringVal != nil:
		return StringValue(*tv.StringVal), nil
	default:
		return NullValue(), nil
	}
}

func unquoteNumber(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}

// assembleStats pivots column-major data into rows. Shorter columns are
// padded with nulls up to the longest column.
func assembleStats(p *statsPayload) (*StatsResult, error) {
	res := &StatsResult{Columns: []string{}, Rows: []StatsRow{}, Complete: true}
	if p == nil {
		return res, nil
	}

	data := make(map[string][]StatsValue, len(p.Results))
	longest := 0
	for _, col := range p.Results {
		if _, dup := data[col.Column]; !dup {
			res.Columns = append(res.Columns, col.Column)
		}
		values := make([]StatsValue, 0, len(col.Values))
		for i, cell := range col.Values {
			v, err := cell.Value.decode()
			if err != nil {
				return nil, &ParseError{
					APIError: APIError{Message: "invalid stats value"},
					Err:      fmt.Errorf("column %q row %d: %w", col.Column, i, err),
				}
			}
			values = append(values, v)
		}
		data[col.Column] = values
		longest = max(longest, len(values))
	}

	for i := range longest {
		row := make(StatsRow, len(res.Columns))
		for _, name := range res.Columns {
			if i < len(data[name]) {
				row[name] = data[name][i]
			} else {
				row[name] = NullValue()
			}
		}
		res.Rows = append(res.Rows, row)
	}
	res.TotalRows = len(res.Rows)
	return res, nil
}
