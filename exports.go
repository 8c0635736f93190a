package chronicle

import (
	"context"
	"iter"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DataExportStatus reports where an export job is.
type DataExportStatus struct {
	Stage              OperationStage `json:"stage,omitempty"`
	ProgressPercentage float64        `json:"progress_percentage,omitempty"`
	Error              string         `json:"error,omitempty"`
}

// DataExport is a job copying raw logs into a Cloud Storage bucket.
type DataExport struct {
	Name          string           `json:"name"`
	StartTime     string           `json:"start_time,omitempty"`
	EndTime       string           `json:"end_time,omitempty"`
	GCSBucket     string           `json:"gcs_bucket,omitempty"`
	LogType       string           `json:"log_type,omitempty"`
	ExportAllLogs bool             `json:"export_all_logs,omitempty"`
	Status        DataExportStatus `json:"data_export_status"`
}

// ID is the export's short identifier.
func (e *DataExport) ID() string { return lastSegment(e.Name) }

// Stage normalizes the reported stage.
func (e *DataExport) Stage() OperationStage {
	if e.Status.Stage == "" {
		return StageQueued
	}
	return normalizeStage(e.Status.Stage)
}

// AvailableLogType is a log type with data in the requested window.
type AvailableLogType struct {
	LogType     string    `json:"log_type"`
	DisplayName string    `json:"display_name,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// AvailableLogTypePage is one page of available log types.
type AvailableLogTypePage struct {
	LogTypes      []*AvailableLogType `json:"available_log_types"`
	NextPageToken string              `json:"next_page_token,omitempty"`
}

// DataExportRequest describes a new export. Exactly one of LogType and
// ExportAllLogs must be set.
type DataExportRequest struct {
	// GCSBucket has the form projects/{project}/buckets/{bucket}.
	GCSBucket string
	Range     TimeRange
	// LogType is a short id such as "WINDOWS" or a full resource name.
	LogType       string
	ExportAllLogs bool
}

func (r *DataExportRequest) validate() error {
	if r.GCSBucket == "" {
		return invalidInput("gcs_bucket", "bucket must be provided")
	}
	if !strings.HasPrefix(r.GCSBucket, "projects/") {
		return invalidInput("gcs_bucket", "must be in format projects/{project}/buckets/{bucket}")
	}
	if err := r.Range.Validate(); err != nil {
		return err
	}
	switch {
	case !r.ExportAllLogs && r.LogType == "":
		return invalidInput("log_type", "either a log type or export all logs must be given")
	case r.ExportAllLogs && r.LogType != "":
		return invalidInput("log_type", "cannot combine a log type with export all logs")
	}
	return nil
}

// DataExportService manages data export jobs.
type DataExportService interface {
	Create(ctx context.Context, req DataExportRequest, reqOpts ...RequestOption) (*DataExport, error)
	Get(ctx context.Context, id string, reqOpts ...RequestOption) (*DataExport, error)
	Cancel(ctx context.Context, id string, reqOpts ...RequestOption) (*DataExport, error)
	// Wait polls an export until it finishes or the budget runs out. A
	// failed export returns an OperationError.
	Wait(ctx context.Context, id string, poll *PollConfig, reqOpts ...RequestOption) (*DataExport, bool, error)
	// FetchAvailableLogTypes returns one page of exportable log types.
	FetchAvailableLogTypes(ctx context.Context, tr TimeRange, pageSize int, pageToken string, reqOpts ...RequestOption) (*AvailableLogTypePage, error)
	// AvailableLogTypes iterates over every exportable log type.
	AvailableLogTypes(ctx context.Context, tr TimeRange, reqOpts ...RequestOption) iter.Seq2[*AvailableLogType, error]
}

type dataExportService struct {
	*service
}

func newDataExportService(s *service) *dataExportService {
	return &dataExportService{service: s}
}

func (s *dataExportService) Create(ctx context.Context, req DataExportRequest, reqOpts ...RequestOption) (*DataExport, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	body := map[string]any{
		"start_time": FormatTime(req.Range.Start),
		"end_time":   FormatTime(req.Range.End),
		"gcs_bucket": req.GCSBucket,
	}
	if req.LogType != "" {
		body["log_type"] = s.resolveLogType(ctx, req.LogType, req.Range, reqOpts)
	}
	if req.ExportAllLogs {
		body["export_all_logs"] = true
	}

	var export DataExport
	if err := s.call(ctx, http.MethodPost, s.path("dataExports"), nil, body, &export, reqOpts); err != nil {
		return nil, err
	}
	return &export, nil
}

// resolveLogType expands a short log type id into the resource name the
// catalog uses, falling back to the instance-scoped name.
func (s *dataExportService) resolveLogType(ctx context.Context, logType string, tr TimeRange, reqOpts []RequestOption) string {
	if strings.Contains(logType, "/") {
		return logType
	}
	fallback := s.path("logTypes", logType)
	for lt, err := range s.AvailableLogTypes(ctx, tr, reqOpts...) {
		if err != nil {
			s.logger.Warn("could not list available log types", zap.Error(err))
			return fallback
		}
		if strings.HasSuffix(lt.LogType, "/"+logType) {
			return lt.LogType
		}
	}
	return fallback
}

func (s *dataExportService) Get(ctx context.Context, id string, reqOpts ...RequestOption) (*DataExport, error) {
	if err := validateID("data_export", id); err != nil {
		return nil, err
	}
	var export DataExport
	if err := s.call(ctx, http.MethodGet, s.path("dataExports", id), nil, nil, &export, reqOpts); err != nil {
		return nil, notFound(err, "data export", id)
	}
	return &export, nil
}

func (s *dataExportService) Cancel(ctx context.Context, id string, reqOpts ...RequestOption) (*DataExport, error) {
	if err := validateID("data_export", id); err != nil {
		return nil, err
	}
	var export DataExport
	if err := s.call(ctx, http.MethodPost, s.path("dataExports", id+":cancel"), nil, nil, &export, reqOpts); err != nil {
		return nil, notFound(err, "data export", id)
	}
	return &export, nil
}

func (s *dataExportService) Wait(ctx context.Context, id string, poll *PollConfig, reqOpts ...RequestOption) (*DataExport, bool, error) {
	p, err := s.poller(poll)
	if err != nil {
		return nil, false, err
	}
	step := func(ctx context.Context) (*DataExport, OperationStage, error) {
		export, err := s.Get(ctx, id, reqOpts...)
		if err != nil {
			return nil, "", err
		}
		return export, export.Stage(), nil
	}
	res, err := pollUntilDone(ctx, p, "data export", step, func(ctx context.Context, _ *DataExport) (*DataExport, OperationStage, error) {
		return step(ctx)
	})
	if res == nil {
		return nil, false, err
	}
	if res.Stage == StageError {
		msg := res.Value.Status.Error
		if msg == "" {
			msg = "export failed"
		}
		return res.Value, true, &OperationError{Operation: res.Value.Name, Message: msg}
	}
	return res.Value, res.Complete, err
}

func (s *dataExportService) FetchAvailableLogTypes(ctx context.Context, tr TimeRange, pageSize int, pageToken string, reqOpts ...RequestOption) (*AvailableLogTypePage, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	body := map[string]any{
		"start_time": FormatTime(tr.Start),
		"end_time":   FormatTime(tr.End),
	}
	if pageSize > 0 {
		body["page_size"] = pageSize
	}
	if pageToken != "" {
		body["page_token"] = pageToken
	}
	var page AvailableLogTypePage
	if err := s.call(ctx, http.MethodPost, s.path("dataExports:fetchavailablelogtypes"), nil, body, &page, reqOpts); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *dataExportService) AvailableLogTypes(ctx context.Context, tr TimeRange, reqOpts ...RequestOption) iter.Seq2[*AvailableLogType, error] {
	if err := tr.Validate(); err != nil {
		return failed[*AvailableLogType](err)
	}
	return paginate(ctx, func(ctx context.Context, token string) ([]*AvailableLogType, string, error) {
		page, err := s.FetchAvailableLogTypes(ctx, tr, defaultPageSize, token, reqOpts...)
		if err != nil {
			return nil, "", err
		}
		return page.LogTypes, page.NextPageToken, nil
	})
}
