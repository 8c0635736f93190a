package chronicle

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"go.uber.org/zap"
)

// Alert defaults.
const (
	defaultMaxAlerts     = 1000
	defaultSnapshotQuery = `feedback_summary.status != "CLOSED"`
)

// AlertRecord is an alert as returned by the API. Alerts carry many
// optional, version-dependent fields, so they stay a map keyed by the
// API's field names.
type AlertRecord map[string]any

// ID returns the alert's "id" field.
func (a AlertRecord) ID() string {
	id, _ := a["id"].(string)
	return id
}

// MergeAlertUpdates applies updates to the alerts with matching ids.
// Top-level fields are replaced, except that when both sides hold an
// object the update's keys are merged into it one level deep. Updates
// without an id or for unknown ids are ignored. It returns the number of
// updates applied.
func MergeAlertUpdates(alerts []AlertRecord, updates []AlertRecord) int {
	byID := make(map[string]AlertRecord, len(alerts))
	for _, a := range alerts {
		if id := a.ID(); id != "" {
			byID[id] = a
		}
	}

	applied := 0
	for _, u := range updates {
		target, ok := byID[u.ID()]
		if !ok {
			continue
		}
		for field, value := range u {
			if field == "id" {
				continue
			}
			src, srcIsMap := value.(map[string]any)
			dst, dstIsMap := target[field].(map[string]any)
			if srcIsMap && dstIsMap {
				maps.Copy(dst, src)
				continue
			}
			target[field] = value
		}
		applied++
	}
	return applied
}

// AlertList is the assembled result of an alert query.
type AlertList struct {
	Alerts        []AlertRecord `json:"alerts"`
	TooManyAlerts bool          `json:"too_many_alerts"`
	// Complete is false when polling stopped before the view finished.
	Complete bool `json:"complete"`
}

// AlertListOptions filters an alert query.
type AlertListOptions struct {
	// SnapshotQuery filters alerts by current state. Defaults to open alerts.
	SnapshotQuery string
	BaselineQuery string
	// MaxAlerts caps the alerts returned. Defaults to 1000.
	MaxAlerts    int
	DisableCache bool
	Poll         *PollConfig
}

// Feedback enumerations accepted by Update.
var (
	alertStatuses   = []string{"STATUS_UNSPECIFIED", "NEW", "REVIEWED", "CLOSED", "OPEN"}
	alertVerdicts   = []string{"VERDICT_UNSPECIFIED", "TRUE_POSITIVE", "FALSE_POSITIVE"}
	alertPriorities = []string{"PRIORITY_UNSPECIFIED", "PRIORITY_INFO", "PRIORITY_LOW", "PRIORITY_MEDIUM", "PRIORITY_HIGH", "PRIORITY_CRITICAL"}
	alertReasons    = []string{"REASON_UNSPECIFIED", "REASON_NOT_MALICIOUS", "REASON_MALICIOUS", "REASON_MAINTENANCE"}
	alertReputation = []string{"REPUTATION_UNSPECIFIED", "USEFUL", "NOT_USEFUL"}
)

// AlertUpdate is analyst feedback for an alert. Nil fields are left
// unchanged; an empty Comment or RootCause clears the field.
type AlertUpdate struct {
	ConfidenceScore *int
	Reason          *string
	Reputation      *string
	Priority        *string
	Status          *string
	Verdict         *string
	RiskScore       *int
	Disregarded     *bool
	Severity        *int
	Comment         *string
	RootCause       *string
}

// Validate checks enumerations and score ranges.
func (u *AlertUpdate) Validate() error {
	if u == nil || u.feedback() == nil {
		return invalidInput("update", "at least one field must be set")
	}
	enums := []struct {
		field string
		value *string
		valid []string
	}{
		{"status", u.Status, alertStatuses},
		{"verdict", u.Verdict, alertVerdicts},
		{"priority", u.Priority, alertPriorities},
		{"reason", u.Reason, alertReasons},
		{"reputation", u.Reputation, alertReputation},
	}
	for _, e := range enums {
		if e.value != nil && !slices.Contains(e.valid, *e.value) {
			return invalidInput(e.field, "%q is not one of %v", *e.value, e.valid)
		}
	}
	scores := []struct {
		field string
		value *int
	}{
		{"confidence_score", u.ConfidenceScore},
		{"risk_score", u.RiskScore},
		{"severity", u.Severity},
	}
	for _, s := range scores {
		if s.value != nil && (*s.value < 0 || *s.value > 100) {
			return invalidInput(s.field, "must be between 0 and 100, got %d", *s.value)
		}
	}
	return nil
}

// feedback renders the set fields in wire form, or nil if none are set.
func (u *AlertUpdate) feedback() map[string]any {
	fb := map[string]any{}
	for key, v := range map[string]*int{
		"confidenceScore": u.ConfidenceScore,
		"riskScore":       u.RiskScore,
		"severity":        u.Severity,
	} {
		if v != nil {
			fb[key] = *v
		}
	}
	for key, v := range map[string]*string{
		"reason":     u.Reason,
		"reputation": u.Reputation,
		"priority":   u.Priority,
		"status":     u.Status,
		"verdict":    u.Verdict,
		"comment":    u.Comment,
		"rootCause":  u.RootCause,
	} {
		if v != nil {
			fb[key] = *v
		}
	}
	if u.Disregarded != nil {
		fb["disregarded"] = *u.Disregarded
	}
	if len(fb) == 0 {
		return nil
	}
	return fb
}

// Record renders the update as an alert record for id, suitable for
// MergeAlertUpdates against a previously fetched list.
func (u *AlertUpdate) Record(id string) AlertRecord {
	return AlertRecord{"id": id, "feedbackSummary": u.feedback()}
}

// AlertService fetches and updates alerts.
type AlertService interface {
	// List fetches alerts in the time range, polling until the view is
	// complete or the budget runs out.
	List(ctx context.Context, tr TimeRange, opts *AlertListOptions, reqOpts ...RequestOption) (*AlertList, error)

	// Get fetches one alert.
	Get(ctx context.Context, id string, includeDetections bool, reqOpts ...RequestOption) (AlertRecord, error)

	// Update applies analyst feedback to one alert.
	Update(ctx context.Context, id string, update *AlertUpdate, reqOpts ...RequestOption) (AlertRecord, error)

	// BulkUpdate applies the same feedback to each alert in order. It stops
	// at the first failure and returns the results gathered so far.
	BulkUpdate(ctx context.Context, ids []string, update *AlertUpdate, reqOpts ...RequestOption) ([]AlertRecord, error)
}

type alertService struct {
	*service
}

func newAlertService(s *service) *alertService {
	return &alertService{service: s}
}

// alertChunk is one element of the streamed alerts view.
type alertChunk struct {
	Complete      *bool    `json:"complete,omitempty"`
	Progress      *float64 `json:"progress,omitempty"`
	TooManyAlerts bool     `json:"tooManyAlerts,omitempty"`
	Alerts        *struct {
		Alerts []AlertRecord `json:"alerts"`
	} `json:"alerts,omitempty"`
}

// assembleAlerts folds a streamed alert view: the first chunk carrying
// alerts sets the list, later chunks carry updates to it.
func assembleAlerts(chunks []alertChunk) (*AlertList, Operation) {
	list := &AlertList{Alerts: []AlertRecord{}}
	var op Operation
	seeded := false
	for _, c := range chunks {
		if c.Complete != nil {
			op.Complete = c.Complete
		}
		if c.Progress != nil {
			op.Progress = c.Progress
		}
		list.TooManyAlerts = list.TooManyAlerts || c.TooManyAlerts
		if c.Alerts == nil {
			continue
		}
		if !seeded {
			list.Alerts = append(list.Alerts, c.Alerts.Alerts...)
			seeded = true
			continue
		}
		MergeAlertUpdates(list.Alerts, c.Alerts.Alerts)
	}
	return list, op
}

func (s *alertService) List(ctx context.Context, tr TimeRange, opts *AlertListOptions, reqOpts ...RequestOption) (*AlertList, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &AlertListOptions{}
	}
	snapshot := opts.SnapshotQuery
	if snapshot == "" {
		snapshot = defaultSnapshotQuery
	}
	maxAlerts := opts.MaxAlerts
	if maxAlerts <= 0 {
		maxAlerts = defaultMaxAlerts
	}

	p, err := s.poller(opts.Poll)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("timeRange.startTime", FormatTime(tr.Start))
	q.Set("timeRange.endTime", FormatTime(tr.End))
	q.Set("snapshotQuery", snapshot)
	if opts.BaselineQuery != "" {
		q.Set("baselineQuery", opts.BaselineQuery)
	}
	q.Set("alertListOptions.maxReturnedAlerts", strconv.Itoa(maxAlerts))
	q.Set("enableCache", cacheMode(!opts.DisableCache))

	type view struct {
		list *AlertList
		op   Operation
	}
	fetch := func(ctx context.Context) (*view, OperationStage, error) {
		resp, err := s.callRaw(ctx, http.MethodGet, s.path("legacy:legacyFetchAlertsView"), q, nil, nil, reqOpts)
		if err != nil {
			return nil, "", err
		}
		chunks, err := decodeStream[alertChunk](resp.Body)
		if err != nil {
			return nil, "", &ParseError{APIError: APIError{StatusCode: resp.StatusCode, RequestID: resp.RequestID}, Err: err}
		}
		list, op := assembleAlerts(chunks)
		s.logger.Debug("alerts view",
			zap.Int("alerts", len(list.Alerts)),
			zap.Float64("progress", op.Percent()))
		return &view{list: list, op: op}, op.CurrentStage(), nil
	}
	check := func(ctx context.Context, _ *view) (*view, OperationStage, error) {
		return fetch(ctx)
	}

	res, err := pollUntilDone(ctx, p, "alerts", fetch, check)
	if res == nil {
		return nil, err
	}
	out := res.Value.list
	out.Complete = res.Complete
	return out, err
}

func cacheMode(enabled bool) string {
	if enabled {
		return "ALERTS_FEATURE_PREFERENCE_ENABLED"
	}
	return "ALERTS_FEATURE_PREFERENCE_DISABLED"
}

func (s *alertService) Get(ctx context.Context, id string, includeDetections bool, reqOpts ...RequestOption) (AlertRecord, error) {
	if err := validateID("alert", id); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("alertId", id)
	if includeDetections {
		q.Set("includeDetections", "true")
	}

	var out AlertRecord
	if err := s.call(ctx, http.MethodGet, s.path("legacy:legacyGetAlert"), q, nil, &out, reqOpts); err != nil {
		return nil, notFound(err, "alert", id)
	}
	return out, nil
}

func (s *alertService) Update(ctx context.Context, id string, update *AlertUpdate, reqOpts ...RequestOption) (AlertRecord, error) {
	if err := validateID("alert", id); err != nil {
		return nil, err
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"alertId":  id,
		"feedback": update.feedback(),
	}
	var out AlertRecord
	if err := s.call(ctx, http.MethodPost, s.path("legacy:legacyUpdateAlert"), nil, body, &out, reqOpts); err != nil {
		return nil, notFound(err, "alert", id)
	}
	return out, nil
}

func (s *alertService) BulkUpdate(ctx context.Context, ids []string, update *AlertUpdate, reqOpts ...RequestOption) ([]AlertRecord, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := validateID("alert", id); err != nil {
			return nil, err
		}
	}

	results := make([]AlertRecord, 0, len(ids))
	for _, id := range ids {
		out, err := s.Update(ctx, id, update, reqOpts...)
		if err != nil {
			return results, err
		}
		results = append(results, out)
	}
	return results, nil
}
