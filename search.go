package chronicle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
)

// Search defaults.
const (
	defaultMaxEvents     = 10000
	defaultStatsMaxValue = 60
)

// SearchService runs UDM queries.
type SearchService interface {
	// UDM runs a UDM search and polls until the result set is complete or
	// the polling budget runs out.
	UDM(ctx context.Context, query string, tr TimeRange, opts *SearchOptions, reqOpts ...RequestOption) (*SearchResult, error)

	// Stats runs a statistics query and pivots the columns into rows.
	Stats(ctx context.Context, query string, tr TimeRange, opts *StatsOptions, reqOpts ...RequestOption) (*StatsResult, error)

	// FetchCSV returns search results rendered as CSV text.
	FetchCSV(ctx context.Context, query string, fields []string, tr TimeRange, opts *SearchOptions, reqOpts ...RequestOption) (string, error)

	// ValidateQuery checks query syntax without running it.
	ValidateQuery(ctx context.Context, query string, reqOpts ...RequestOption) (*QueryValidation, error)
}

// SearchOptions tunes a UDM search.
type SearchOptions struct {
	// MaxEvents caps the events returned. Defaults to 10000.
	MaxEvents int
	// CaseSensitive disables the default case-insensitive matching.
	CaseSensitive bool
	// Poll overrides the client polling budget.
	Poll *PollConfig
}

// StatsOptions tunes a statistics query.
type StatsOptions struct {
	// MaxValues caps the values returned per column. Defaults to 60.
	MaxValues int
	// MaxEvents caps the events scanned. Defaults to 10000.
	MaxEvents     int
	CaseSensitive bool
	Poll          *PollConfig
}

// Event is one UDM event returned by a search.
type Event struct {
	Name string         `json:"name"`
	UDM  map[string]any `json:"udm"`
}

// SearchResult holds the events of a UDM search.
type SearchResult struct {
	Events            []Event `json:"events"`
	TotalEvents       int     `json:"total_events"`
	MoreDataAvailable bool    `json:"more_data_available"`
	// Complete is false when polling stopped before the search finished.
	Complete bool `json:"complete"`
}

// QueryValidation is the verdict on a query.
type QueryValidation struct {
	QueryType         string `json:"queryType,omitempty"`
	IsValid           bool   `json:"isValid"`
	ValidationMessage string `json:"validationMessage,omitempty"`
}

type searchService struct {
	*service
}

func newSearchService(s *service) *searchService {
	return &searchService{service: s}
}

// searchChunk is one element of the streamed search view.
type searchChunk struct {
	Operation string                `json:"operation,omitempty"`
	Complete  *bool                 `json:"complete,omitempty"`
	Progress  *float64              `json:"progress,omitempty"`
	Error     *OperationStatusError `json:"error,omitempty"`
	Events    *struct {
		Events            []Event `json:"events"`
		MoreDataAvailable bool    `json:"moreDataAvailable"`
	} `json:"events,omitempty"`
}

// searchView is the merged state of every chunk received so far.
type searchView struct {
	op     Operation
	result SearchResult
	// hasEvents is set once a chunk carried an events section.
	hasEvents bool
}

// carryEvents keeps the events of last when v brought none, so a status
// poll without results does not drop earlier progress.
func (v *searchView) carryEvents(last *searchView) {
	if v.hasEvents || last == nil {
		return
	}
	v.result = last.result
	v.hasEvents = last.hasEvents
}

// decodeStream accepts a single JSON object or an array of them.
// Trailing commas left by truncated streams are tolerated.
func decodeStream[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		var one T
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	}
	var many []T
	err := json.Unmarshal(body, &many)
	if err != nil {
		if retryErr := json.Unmarshal(fixTrailingCommas(body), &many); retryErr == nil {
			return many, nil
		}
	}
	return many, err
}

var (
	closeObject = []byte("}")
	closeArray  = []byte("]")
)

// fixTrailingCommas drops a comma that directly precedes a closing
// bracket, ignoring whitespace.
func fixTrailingCommas(body []byte) []byte {
	out := make([]byte, 0, len(body))
	inString, escaped := false, false
	for i := 0; i < len(body); i++ {
		c := body[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(body) && (body[j] == ' ' || body[j] == '\n' || body[j] == '\t' || body[j] == '\r') {
				j++
			}
			if j < len(body) && (bytes.HasPrefix(body[j:], closeObject) || bytes.HasPrefix(body[j:], closeArray)) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// merge folds chunks into the view: events accumulate, status comes from
// the latest chunk that reports one.
func (v *searchView) merge(chunks []searchChunk) {
	for _, c := range chunks {
		if c.Operation != "" {
			v.op.Name = c.Operation
		}
		if c.Complete != nil {
			v.op.Complete = c.Complete
		}
		if c.Progress != nil {
			v.op.Progress = c.Progress
		}
		if c.Error != nil {
			v.op.Error = c.Error
		}
		if c.Events != nil {
			v.result.Events = append(v.result.Events, c.Events.Events...)
			v.result.MoreDataAvailable = c.Events.MoreDataAvailable
			v.hasEvents = true
		}
	}
}

func (s *searchService) UDM(ctx context.Context, query string, tr TimeRange, opts *SearchOptions, reqOpts ...RequestOption) (*SearchResult, error) {
	if query == "" {
		return nil, invalidInput("query", "cannot be empty")
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &SearchOptions{}
	}
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	p, err := s.poller(opts.Poll)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"baselineQuery":         query,
		"baselineTimeRange":     tr.wire(),
		"caseInsensitive":       !opts.CaseSensitive,
		"returnOperationIdOnly": false,
		"eventList":             map[string]any{"maxReturnedEvents": maxEvents},
	}

	fetch := func(ctx context.Context) (*searchView, OperationStage, error) {
		resp, err := s.callRaw(ctx, http.MethodPost, s.path("legacy:legacyFetchUdmSearchView"), nil, body, nil, reqOpts)
		if err != nil {
			return nil, "", err
		}
		chunks, err := decodeStream[searchChunk](resp.Body)
		if err != nil {
			return nil, "", &ParseError{APIError: APIError{StatusCode: resp.StatusCode, RequestID: resp.RequestID}, Err: err}
		}
		view := &searchView{}
		view.merge(chunks)
		return view, view.op.CurrentStage(), nil
	}

	check := func(ctx context.Context, last *searchView) (*searchView, OperationStage, error) {
		if last.op.Name == "" {
			view, stage, err := fetch(ctx)
			if err != nil {
				return nil, "", err
			}
			view.carryEvents(last)
			return view, stage, nil
		}
		var chunks []searchChunk
		op, err := s.getOperation(ctx, last.op.Name, func(raw json.RawMessage) error {
			var derr error
			chunks, derr = decodeStream[searchChunk](raw)
			return derr
		}, reqOpts)
		if err != nil {
			return nil, "", err
		}
		view := &searchView{op: *op}
		view.merge(chunks)
		view.carryEvents(last)
		return view, op.CurrentStage(), nil
	}

	res, err := pollUntilDone(ctx, p, "udm search", fetch, check)
	if res == nil {
		return nil, err
	}
	view := res.Value
	if opErr := view.op.Err("udm search"); opErr != nil {
		return nil, opErr
	}
	out := view.result
	if out.Events == nil {
		out.Events = []Event{}
	}
	out.TotalEvents = len(out.Events)
	out.Complete = res.Complete
	return &out, err
}

// statsResponse is the body of a statistics query.
type statsResponse struct {
	Operation
	Stats *statsPayload `json:"stats,omitempty"`
}

func (s *searchService) Stats(ctx context.Context, query string, tr TimeRange, opts *StatsOptions, reqOpts ...RequestOption) (*StatsResult, error) {
	if query == "" {
		return nil, invalidInput("query", "cannot be empty")
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &StatsOptions{}
	}
	maxValues := opts.MaxValues
	if maxValues <= 0 {
		maxValues = defaultStatsMaxValue
	}
	maxEvents := opts.MaxEvents
	if maxEvents <= 0 {
		maxEvents = defaultMaxEvents
	}

	p, err := s.poller(opts.Poll)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", query)
	q.Set("timeRange.start_time", FormatTime(tr.Start))
	q.Set("timeRange.end_time", FormatTime(tr.End))
	q.Set("limit", strconv.Itoa(maxValues))
	q.Set("maxEvents", strconv.Itoa(maxEvents))
	q.Set("caseInsensitive", strconv.FormatBool(!opts.CaseSensitive))

	fetch := func(ctx context.Context) (*statsResponse, OperationStage, error) {
		var out statsResponse
		if err := s.call(ctx, http.MethodGet, s.verb("udmSearch"), q, nil, &out, reqOpts); err != nil {
			return nil, "", err
		}
		return &out, out.CurrentStage(), nil
	}

	check := func(ctx context.Context, last *statsResponse) (*statsResponse, OperationStage, error) {
		if last.Name == "" {
			out, stage, err := fetch(ctx)
			if err != nil {
				return nil, "", err
			}
			if out.Stats == nil {
				out.Stats = last.Stats
			}
			return out, stage, nil
		}
		out := &statsResponse{}
		op, err := s.getOperation(ctx, last.Name, func(raw json.RawMessage) error {
			return json.Unmarshal(raw, out)
		}, reqOpts)
		if err != nil {
			return nil, "", err
		}
		out.Operation = *op
		// A status without results keeps the earlier partial stats.
		if out.Stats == nil {
			out.Stats = last.Stats
		}
		return out, op.CurrentStage(), nil
	}

	res, err := pollUntilDone(ctx, p, "stats", fetch, check)
	if res == nil {
		return nil, err
	}
	if opErr := res.Value.Err("stats"); opErr != nil {
		return nil, opErr
	}
	out, aerr := assembleStats(res.Value.Stats)
	if aerr != nil {
		return nil, aerr
	}
	out.Complete = res.Complete
	return out, err
}

func (s *searchService) FetchCSV(ctx context.Context, query string, fields []string, tr TimeRange, opts *SearchOptions, reqOpts ...RequestOption) (string, error) {
	if query == "" {
		return "", invalidInput("query", "cannot be empty")
	}
	if len(fields) == 0 {
		return "", invalidInput("fields", "at least one field is required")
	}
	if err := tr.Validate(); err != nil {
		return "", err
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	body := map[string]any{
		"baselineQuery":     query,
		"baselineTimeRange": tr.wire(),
		"fields":            map[string]any{"fields": fields},
		"caseInsensitive":   !opts.CaseSensitive,
	}
	reqOpts = append([]RequestOption{WithHeader("Accept", "*/*")}, reqOpts...)

	resp, err := s.callRaw(ctx, http.MethodPost, s.path("legacy:legacyFetchUdmSearchCsv"), nil, body, nil, reqOpts)
	if err != nil {
		return "", err
	}
	if looksLikeJSON(resp.Body) && !json.Valid(resp.Body) {
		return "", &ParseError{
			APIError: APIError{StatusCode: resp.StatusCode, Message: "malformed CSV response", RequestID: resp.RequestID},
			Err:      errMalformedJSON,
		}
	}
	return string(resp.Body), nil
}

func (s *searchService) ValidateQuery(ctx context.Context, query string, reqOpts ...RequestOption) (*QueryValidation, error) {
	if query == "" {
		return nil, invalidInput("query", "cannot be empty")
	}
	q := url.Values{}
	q.Set("rawQuery", query)
	q.Set("dialect", "DIALECT_UDM_SEARCH")
	q.Set("allowUnreplacedPlaceholders", "false")

	var out QueryValidation
	if err := s.call(ctx, http.MethodGet, s.verb("validateQuery"), q, nil, &out, reqOpts); err != nil {
		return nil, err
	}
	if out.ValidationMessage == "" {
		out.IsValid = true
	}
	return &out, nil
}

// getOperation fetches a named long-running operation. When it is done,
// decode receives the embedded response.
func (s *service) getOperation(ctx context.Context, name string, decode func(json.RawMessage) error, reqOpts []RequestOption) (*Operation, error) {
	var lro struct {
		Operation
		Response json.RawMessage `json:"response,omitempty"`
	}
	resp, err := s.callRaw(ctx, http.MethodGet, name, nil, nil, &lro, reqOpts)
	if err != nil {
		return nil, err
	}
	// Keep the full resource name; some endpoints echo a short id.
	lro.Name = name
	if lro.Done && len(lro.Response) > 0 && decode != nil {
		if err := decode(lro.Response); err != nil {
			return nil, &ParseError{APIError: APIError{StatusCode: resp.StatusCode, RequestID: resp.RequestID}, Err: err}
		}
	}
	return &lro.Operation, nil
}

// looksLikeJSON reports whether body opens like a JSON document.
func looksLikeJSON(body []byte) bool {
	body = bytes.TrimSpace(body)
	return len(body) > 0 && (body[0] == '{' || body[0] == '[')
}
