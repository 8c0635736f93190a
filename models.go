package chronicle

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// timeLayout is the RFC 3339 form the API expects, always in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in the API's timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// TimeRange is a half-open query window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate checks that both ends are set and End is after Start.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return invalidInput("time_range", "start and end times are required")
	}
	if !r.End.After(r.Start) {
		return invalidInput("time_range", "end time must be after start time")
	}
	return nil
}

// wire renders the range as {"startTime","endTime"}.
func (r TimeRange) wire() map[string]string {
	return map[string]string{
		"startTime": FormatTime(r.Start),
		"endTime":   FormatTime(r.End),
	}
}

// LastHours returns the range ending now and starting h hours earlier.
func LastHours(h int) TimeRange {
	end := time.Now().UTC()
	return TimeRange{Start: end.Add(-time.Duration(h) * time.Hour), End: end}
}

// OperationStatusError carries the failure detail of an operation.
type OperationStatusError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Operation is the status envelope shared by long-running responses.
// Synchronous responses carry none of these fields.
type Operation struct {
	Name            string                `json:"name,omitempty"`
	Stage           OperationStage        `json:"stage,omitempty"`
	Done            bool                  `json:"done,omitempty"`
	Complete        *bool                 `json:"complete,omitempty"`
	ProgressPercent *float64              `json:"progressPercent,omitempty"`
	Progress        *float64              `json:"progress,omitempty"`
	Error           *OperationStatusError `json:"error,omitempty"`
}

// CurrentStage derives the stage from whichever status fields are present.
func (o *Operation) CurrentStage() OperationStage {
	switch {
	case o == nil:
		return StageDone
	case o.Stage != "":
		return normalizeStage(o.Stage)
	case o.Error != nil:
		return StageError
	case o.Done:
		return StageDone
	case o.Complete != nil:
		if *o.Complete {
			return StageDone
		}
		return StageRunning
	case o.Name != "":
		return StageRunning
	default:
		return StageDone
	}
}

// Percent returns progress as a percentage, or -1 if unknown.
func (o *Operation) Percent() float64 {
	switch {
	case o == nil:
		return -1
	case o.ProgressPercent != nil:
		return *o.ProgressPercent
	case o.Progress != nil:
		// Fractional progress in [0,1].
		return *o.Progress * 100
	default:
		return -1
	}
}

// Err converts an ERROR stage into an OperationError.
func (o *Operation) Err(op string) error {
	if o.CurrentStage() != StageError {
		return nil
	}
	e := &OperationError{Operation: op}
	if o.Name != "" {
		e.Operation = o.Name
	}
	if o.Error != nil {
		e.Code = o.Error.Code
		e.Message = o.Error.Message
	}
	if e.Message == "" {
		e.Message = "operation reported an error"
	}
	return e
}

// normalizeStage maps the stage spellings used across endpoints onto
// OperationStage.
func normalizeStage(s OperationStage) OperationStage {
	switch strings.ToUpper(string(s)) {
	case "QUEUED", "IN_QUEUE", "PENDING", "STATE_UNSPECIFIED", "STAGE_UNSPECIFIED":
		return StageQueued
	case "RUNNING", "PROCESSING", "IN_PROGRESS":
		return StageRunning
	case "DONE", "FINISHED_SUCCESS", "SUCCEEDED", "COMPLETED":
		return StageDone
	case "ERROR", "FAILED", "FINISHED_FAILURE":
		return StageError
	case "CANCELLED", "CANCELED":
		return StageCancelled
	default:
		return StageRunning
	}
}

// messageText renders a field that may hold a string or a JSON object.
func messageText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Int64 decodes from a JSON number or a quoted number, the form the API
// uses for 64-bit integers.
type Int64 int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int64) UnmarshalJSON(data []byte) error {
	s := unquoteNumber(data)
	if s == "null" || s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = Int64(v)
	return nil
}
