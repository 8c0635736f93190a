package chronicle

import (
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"time"
)

// Rule test limits.
const (
	defaultRuleTestResults = 100
	maxRuleTestResults     = 10000
	defaultRuleTestTimeout = 5 * time.Minute
)

// ruleTestTimeLayout is the second-precision form the rule test endpoint
// expects.
const ruleTestTimeLayout = "2006-01-02T15:04:05Z"

// Rule is a detection rule.
type Rule struct {
	Name               string            `json:"name"`
	RevisionID         string            `json:"revisionId,omitempty"`
	DisplayName        string            `json:"displayName,omitempty"`
	Text               string            `json:"text"`
	Author             string            `json:"author,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreateTime         string            `json:"createTime,omitempty"`
	RevisionCreateTime string            `json:"revisionCreateTime,omitempty"`
	CompilationState   string            `json:"compilationState,omitempty"`
	Type               string            `json:"type,omitempty"`
}

// ID is the rule's short identifier, e.g. "ru_<uuid>".
func (r *Rule) ID() string { return lastSegment(r.Name) }

// RuleDeployment is the live state of a rule.
type RuleDeployment struct {
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	Alerting     bool   `json:"alerting,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
	RunFrequency string `json:"runFrequency,omitempty"`
}

// RuleTestEventType classifies an item of a rule test stream.
type RuleTestEventType string

const (
	RuleTestDetection RuleTestEventType = "detection"
	RuleTestProgress  RuleTestEventType = "progress"
	RuleTestError     RuleTestEventType = "error"
	RuleTestInfo      RuleTestEventType = "info"
	RuleTestUnknown   RuleTestEventType = "unknown"
)

// RuleTestEvent is one classified item of a rule test response.
type RuleTestEvent struct {
	Type               RuleTestEventType `json:"type"`
	Detection          map[string]any    `json:"detection,omitempty"`
	PercentDone        *float64          `json:"percentDone,omitempty"`
	Message            string            `json:"message,omitempty"`
	IsCompilationError bool              `json:"isCompilationError,omitempty"`
	// Raw holds unrecognised items verbatim.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// ruleTestItem is the wire form of one stream element.
type ruleTestItem struct {
	Detection            map[string]any  `json:"detection"`
	ProgressPercent      *float64        `json:"progressPercent"`
	RuleCompilationError json.RawMessage `json:"ruleCompilationError"`
	RuleError            json.RawMessage `json:"ruleError"`
	TooManyDetections    *bool           `json:"tooManyDetections"`
}

// classifyRuleTestItem maps a stream element to an event. Earlier checks
// take precedence when an item carries several keys.
func classifyRuleTestItem(raw json.RawMessage) (RuleTestEvent, error) {
	var item ruleTestItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return RuleTestEvent{}, err
	}
	switch {
	case item.Detection != nil:
		return RuleTestEvent{Type: RuleTestDetection, Detection: item.Detection}, nil
	case item.ProgressPercent != nil:
		return RuleTestEvent{Type: RuleTestProgress, PercentDone: item.ProgressPercent}, nil
	case item.RuleCompilationError != nil:
		return RuleTestEvent{Type: RuleTestError, Message: messageText(item.RuleCompilationError), IsCompilationError: true}, nil
	case item.RuleError != nil:
		return RuleTestEvent{Type: RuleTestError, Message: messageText(item.RuleError)}, nil
	case item.TooManyDetections != nil && *item.TooManyDetections:
		return RuleTestEvent{Type: RuleTestInfo, Message: "Too many detections found, results may be incomplete"}, nil
	default:
		return RuleTestEvent{Type: RuleTestUnknown, Raw: raw}, nil
	}
}

// DetectionEvents extracts the UDM events behind the detections of a rule
// test, in stream order.
func DetectionEvents(events []RuleTestEvent) []map[string]any {
	var out []map[string]any
	for _, ev := range events {
		if ev.Type != RuleTestDetection {
			continue
		}
		results, _ := ev.Detection["resultEvents"].(map[string]any)
		for _, v := range results {
			group, _ := v.(map[string]any)
			samples, _ := group["eventSamples"].([]any)
			for _, s := range samples {
				sample, _ := s.(map[string]any)
				if udm, ok := sample["event"].(map[string]any); ok {
					out = append(out, udm)
				}
			}
		}
	}
	return out
}

// RuleTestOptions tunes a rule test.
type RuleTestOptions struct {
	// MaxResults caps detections, between 1 and 10000. Defaults to 100.
	MaxResults int
	// Timeout bounds the request. Defaults to five minutes.
	Timeout time.Duration
}

// RetrohuntOperation is the handle returned when a retrohunt starts.
type RetrohuntOperation struct {
	Name     string         `json:"name"`
	Done     bool           `json:"done,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ID is the operation's short identifier.
func (o *RetrohuntOperation) ID() string { return lastSegment(o.Name) }

// Retrohunt is a rule run over historical data.
type Retrohunt struct {
	Name               string    `json:"name"`
	State              string    `json:"state,omitempty"`
	ProgressPercentage float64   `json:"progressPercentage,omitempty"`
	ProcessInterval    *Interval `json:"processInterval,omitempty"`
	ExecutionInterval  *Interval `json:"executionInterval,omitempty"`
	// Complete is false when waiting stopped before the retrohunt finished.
	Complete bool `json:"-"`
}

// Stage maps the retrohunt state onto an operation stage.
func (r *Retrohunt) Stage() OperationStage {
	if r.State == "" {
		return StageRunning
	}
	return normalizeStage(OperationStage(r.State))
}

// RulePosition locates a compiler diagnostic in rule text.
type RulePosition struct {
	StartLine   int `json:"startLine"`
	StartColumn int `json:"startColumn"`
	EndLine     int `json:"endLine"`
	EndColumn   int `json:"endColumn"`
}

// RuleValidation is the compiler verdict on rule text. Message and
// Position describe the first diagnostic of an invalid rule.
type RuleValidation struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message,omitempty"`
	Position *RulePosition `json:"position,omitempty"`
}

// RuleAlerts groups the alerts one rule raised.
type RuleAlerts struct {
	RuleMetadata map[string]any   `json:"ruleMetadata,omitempty"`
	Alerts       []map[string]any `json:"alerts"`
}

// RuleAlertsResult is the outcome of a rule alert search.
type RuleAlertsResult struct {
	RuleAlerts    []RuleAlerts `json:"ruleAlerts"`
	TooManyAlerts bool         `json:"tooManyAlerts,omitempty"`
}

// Detection alert states accepted by Detections.
var detectionAlertStates = []string{"UNSPECIFIED", "NOT_ALERTING", "ALERTING"}

// RuleService manages detection rules.
type RuleService interface {
	Create(ctx context.Context, text string, reqOpts ...RequestOption) (*Rule, error)
	Get(ctx context.Context, id string, reqOpts ...RequestOption) (*Rule, error)

	// All iterates over every rule, fetching pages on demand.
	All(ctx context.Context, reqOpts ...RequestOption) iter.Seq2[*Rule, error]
	// List returns every rule, or nothing if any page fails.
	List(ctx context.Context, reqOpts ...RequestOption) ([]*Rule, error)

	// Update replaces the rule text.
	Update(ctx context.Context, id, text string, reqOpts ...RequestOption) (*Rule, error)
	// Delete removes a rule. Force also removes its retrohunts.
	Delete(ctx context.Context, id string, force bool, reqOpts ...RequestOption) error
	// SetEnabled enables or disables live evaluation of a rule.
	SetEnabled(ctx context.Context, id string, enabled bool, reqOpts ...RequestOption) (*RuleDeployment, error)

	// Search returns rules whose text matches the regular expression.
	Search(ctx context.Context, pattern string, reqOpts ...RequestOption) ([]*Rule, error)

	// Test runs rule text against historical data.
	Test(ctx context.Context, text string, tr TimeRange, opts *RuleTestOptions, reqOpts ...RequestOption) ([]RuleTestEvent, error)
	// Validate compiles rule text without saving it.
	Validate(ctx context.Context, text string, reqOpts ...RequestOption) (*RuleValidation, error)
	// SearchAlerts returns the alerts raised by rules in the time range.
	// A positive maxAlerts caps how many are returned.
	SearchAlerts(ctx context.Context, tr TimeRange, maxAlerts int, reqOpts ...RequestOption) (*RuleAlertsResult, error)

	// Detections iterates over a rule's detections, optionally filtered
	// by alert state.
	Detections(ctx context.Context, id, alertState string, reqOpts ...RequestOption) iter.Seq2[map[string]any, error]
	// Errors iterates over a rule's execution errors.
	Errors(ctx context.Context, id string, reqOpts ...RequestOption) iter.Seq2[map[string]any, error]

	CreateRetrohunt(ctx context.Context, id string, tr TimeRange, reqOpts ...RequestOption) (*RetrohuntOperation, error)
	GetRetrohunt(ctx context.Context, id, operationID string, reqOpts ...RequestOption) (*Retrohunt, error)
	// WaitRetrohunt polls a retrohunt until it finishes or the budget runs
	// out.
	WaitRetrohunt(ctx context.Context, id, operationID string, poll *PollConfig, reqOpts ...RequestOption) (*Retrohunt, error)
}

type ruleService struct {
	*service
}

func newRuleService(s *service) *ruleService {
	return &ruleService{service: s}
}

func (s *ruleService) Create(ctx context.Context, text string, reqOpts ...RequestOption) (*Rule, error) {
	if text == "" {
		return nil, invalidInput("rule_text", "cannot be empty")
	}
	var rule Rule
	if err := s.call(ctx, http.MethodPost, s.path("rules"), nil, map[string]string{"text": text}, &rule, reqOpts); err != nil {
		return nil, err
	}
	return &rule, nil
}

func (s *ruleService) Get(ctx context.Context, id string, reqOpts ...RequestOption) (*Rule, error) {
	if err := validateID("rule", id); err != nil {
		return nil, err
	}
	var rule Rule
	if err := s.call(ctx, http.MethodGet, s.path("rules", id), nil, nil, &rule, reqOpts); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (s *ruleService) All(ctx context.Context, reqOpts ...RequestOption) iter.Seq2[*Rule, error] {
	return listPages[*Rule](ctx, s.service, s.path("rules"), "rules", url.Values{"view": {"FULL"}}, reqOpts)
}

func (s *ruleService) List(ctx context.Context, reqOpts ...RequestOption) ([]*Rule, error) {
	return CollectAll(s.All(ctx, reqOpts...))
}

func (s *ruleService) Update(ctx context.Context, id, text string, reqOpts ...RequestOption) (*Rule, error) {
	if err := validateID("rule", id); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, invalidInput("rule_text", "cannot be empty")
	}
	var rule Rule
	q := url.Values{"update_mask": {"text"}}
	if err := s.call(ctx, http.MethodPatch, s.path("rules", id), q, map[string]string{"text": text}, &rule, reqOpts); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &rule, nil
}

func (s *ruleService) Delete(ctx context.Context, id string, force bool, reqOpts ...RequestOption) error {
	if err := validateID("rule", id); err != nil {
		return err
	}
	var q url.Values
	if force {
		q = url.Values{"force": {"true"}}
	}
	return notFound(s.call(ctx, http.MethodDelete, s.path("rules", id), q, nil, nil, reqOpts), "rule", id)
}

func (s *ruleService) SetEnabled(ctx context.Context, id string, enabled bool, reqOpts ...RequestOption) (*RuleDeployment, error) {
	if err := validateID("rule", id); err != nil {
		return nil, err
	}
	var dep RuleDeployment
	q := url.Values{"update_mask": {"enabled"}}
	if err := s.call(ctx, http.MethodPatch, s.path("rules", id, "deployment"), q, map[string]bool{"enabled": enabled}, &dep, reqOpts); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &dep, nil
}

func (s *ruleService) Search(ctx context.Context, pattern string, reqOpts ...RequestOption) ([]*Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, invalidInput("query", "invalid regular expression %q: %v", pattern, err)
	}
	return CollectAll(Filter(s.All(ctx, reqOpts...), func(r *Rule) bool {
		return re.MatchString(r.Text)
	}))
}

func (s *ruleService) Test(ctx context.Context, text string, tr TimeRange, opts *RuleTestOptions, reqOpts ...RequestOption) ([]RuleTestEvent, error) {
	if text == "" {
		return nil, invalidInput("rule_text", "cannot be empty")
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &RuleTestOptions{}
	}
	maxResults := opts.MaxResults
	if maxResults == 0 {
		maxResults = defaultRuleTestResults
	}
	if maxResults < 1 || maxResults > maxRuleTestResults {
		return nil, invalidInput("max_results", "must be between 1 and %d, got %d", maxRuleTestResults, maxResults)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRuleTestTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body := map[string]any{
		"ruleText": text,
		"timeRange": map[string]string{
			"startTime": tr.Start.UTC().Format(ruleTestTimeLayout),
			"endTime":   tr.End.UTC().Format(ruleTestTimeLayout),
		},
		"maxResults": maxResults,
		"scope":      "",
	}
	resp, err := s.callRaw(ctx, http.MethodPost, s.path("legacy:legacyRunTestRule"), nil, body, nil, reqOpts)
	if err != nil {
		return nil, err
	}

	items, err := decodeStream[json.RawMessage](resp.Body)
	if err != nil {
		return nil, &ParseError{APIError: APIError{StatusCode: resp.StatusCode, RequestID: resp.RequestID}, Err: err}
	}
	events := make([]RuleTestEvent, 0, len(items))
	for _, raw := range items {
		ev, err := classifyRuleTestItem(raw)
		if err != nil {
			return nil, &ParseError{APIError: APIError{StatusCode: resp.StatusCode, RequestID: resp.RequestID}, Err: err}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *ruleService) Detections(ctx context.Context, id, alertState string, reqOpts ...RequestOption) iter.Seq2[map[string]any, error] {
	if err := validateID("rule", id); err != nil {
		return failed[map[string]any](err)
	}
	q := url.Values{"rule_id": {id}}
	if alertState != "" {
		if !slices.Contains(detectionAlertStates, alertState) {
			return failed[map[string]any](invalidInput("alert_state", "%q is not one of %v", alertState, detectionAlertStates))
		}
		q.Set("alertState", alertState)
	}
	return listPages[map[string]any](ctx, s.service, s.path("legacy:legacySearchDetections"), "detections", q, reqOpts)
}

func (s *ruleService) Errors(ctx context.Context, id string, reqOpts ...RequestOption) iter.Seq2[map[string]any, error] {
	if err := validateID("rule", id); err != nil {
		return failed[map[string]any](err)
	}
	q := url.Values{"filter": {`rule = "` + s.path("rules", id) + `"`}}
	return listPages[map[string]any](ctx, s.service, s.path("ruleExecutionErrors"), "ruleExecutionErrors", q, reqOpts)
}

func (s *ruleService) Validate(ctx context.Context, text string, reqOpts ...RequestOption) (*RuleValidation, error) {
	if text == "" {
		return nil, invalidInput("rule_text", "cannot be empty")
	}
	var out struct {
		Success     bool `json:"success"`
		Diagnostics []struct {
			Message  string        `json:"message"`
			Position *RulePosition `json:"position"`
		} `json:"compilationDiagnostics"`
	}
	if err := s.call(ctx, http.MethodPost, s.verb("verifyRuleText"), nil, map[string]string{"ruleText": text}, &out, reqOpts); err != nil {
		return nil, err
	}
	switch {
	case out.Success:
		return &RuleValidation{Success: true}, nil
	case len(out.Diagnostics) == 0:
		return &RuleValidation{Message: "no error details provided"}, nil
	}
	d := out.Diagnostics[0]
	return &RuleValidation{Message: d.Message, Position: d.Position}, nil
}

func (s *ruleService) SearchAlerts(ctx context.Context, tr TimeRange, maxAlerts int, reqOpts ...RequestOption) (*RuleAlertsResult, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if maxAlerts < 0 {
		return nil, invalidInput("max_alerts", "must not be negative, got %d", maxAlerts)
	}
	q := url.Values{}
	q.Set("timeRange.start_time", FormatTime(tr.Start))
	q.Set("timeRange.end_time", FormatTime(tr.End))
	if maxAlerts > 0 {
		q.Set("maxNumAlertsToReturn", strconv.Itoa(maxAlerts))
	}
	out := &RuleAlertsResult{}
	if err := s.call(ctx, http.MethodGet, s.path("legacy:legacySearchRulesAlerts"), q, nil, out, reqOpts); err != nil {
		return nil, err
	}
	if out.RuleAlerts == nil {
		out.RuleAlerts = []RuleAlerts{}
	}
	return out, nil
}

func (s *ruleService) CreateRetrohunt(ctx context.Context, id string, tr TimeRange, reqOpts ...RequestOption) (*RetrohuntOperation, error) {
	if err := validateID("rule", id); err != nil {
		return nil, err
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"process_interval": map[string]string{
			"start_time": FormatTime(tr.Start),
			"end_time":   FormatTime(tr.End),
		},
	}
	var op RetrohuntOperation
	if err := s.call(ctx, http.MethodPost, s.path("rules", id, "retrohunts"), nil, body, &op, reqOpts); err != nil {
		return nil, notFound(err, "rule", id)
	}
	return &op, nil
}

func (s *ruleService) GetRetrohunt(ctx context.Context, id, operationID string, reqOpts ...RequestOption) (*Retrohunt, error) {
	if err := validateID("rule", id); err != nil {
		return nil, err
	}
	if err := validateID("operation", operationID); err != nil {
		return nil, err
	}
	var rh Retrohunt
	if err := s.call(ctx, http.MethodGet, s.path("rules", id, "retrohunts", operationID), nil, nil, &rh, reqOpts); err != nil {
		return nil, notFound(err, "retrohunt", operationID)
	}
	return &rh, nil
}

func (s *ruleService) WaitRetrohunt(ctx context.Context, id, operationID string, poll *PollConfig, reqOpts ...RequestOption) (*Retrohunt, error) {
	p, err := s.poller(poll)
	if err != nil {
		return nil, err
	}
	step := func(ctx context.Context) (*Retrohunt, OperationStage, error) {
		rh, err := s.GetRetrohunt(ctx, id, operationID, reqOpts...)
		if err != nil {
			return nil, "", err
		}
		return rh, rh.Stage(), nil
	}
	res, err := pollUntilDone(ctx, p, "retrohunt", step, func(ctx context.Context, _ *Retrohunt) (*Retrohunt, OperationStage, error) {
		return step(ctx)
	})
	if res == nil {
		return nil, err
	}
	if res.Stage == StageError {
		return nil, &OperationError{Operation: res.Value.Name, Message: "retrohunt failed"}
	}
	res.Value.Complete = res.Complete
	return res.Value, err
}

// failed returns an iterator that yields err once.
func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
