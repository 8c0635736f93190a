package chronicle

import (
	"context"
	"encoding/base64"
	"maps"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultForwarderName is the display name of the forwarder created for
// SDK ingestion when none is given.
const DefaultForwarderName = "Wrapper-SDK-Forwarder"

// ingestEntryOverhead approximates the JSON wrapping around each log's
// encoded data.
const ingestEntryOverhead = 128

// LogTypeValidator reports whether a log type is known to the catalog.
type LogTypeValidator interface {
	IsValid(logType string) bool
}

// LogTypeSet is a static catalog of log type ids.
type LogTypeSet map[string]struct{}

// NewLogTypeSet builds a catalog from ids. Lookups ignore case.
func NewLogTypeSet(ids ...string) LogTypeSet {
	set := make(LogTypeSet, len(ids))
	for _, id := range ids {
		set[strings.ToUpper(id)] = struct{}{}
	}
	return set
}

// IsValid implements LogTypeValidator.
func (s LogTypeSet) IsValid(logType string) bool {
	_, ok := s[strings.ToUpper(logType)]
	return ok
}

// Forwarder groups ingested logs on the API side.
type Forwarder struct {
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Config      map[string]any `json:"config,omitempty"`
}

// ID is the forwarder's short identifier.
func (f *Forwarder) ID() string { return lastSegment(f.Name) }

// ExtractForwarderID returns the id from a forwarder resource name. A bare
// id is returned unchanged.
func ExtractForwarderID(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), "/")
	if name == "" {
		return "", invalidInput("forwarder", "name cannot be empty")
	}
	if !strings.Contains(name, "/") {
		return name, nil
	}
	parts := strings.Split(name, "/")
	for i := len(parts) - 2; i >= 0; i-- {
		if parts[i] == "forwarders" {
			return parts[i+1], nil
		}
	}
	return "", invalidInput("forwarder", "%q is not a forwarder resource name", name)
}

// IngestOptions tunes raw log ingestion.
type IngestOptions struct {
	// EntryTime is when the logs were produced. Defaults to now.
	EntryTime time.Time
	// CollectionTime is when the logs were collected. Defaults to now and
	// must not precede EntryTime.
	CollectionTime time.Time
	// ForwarderID overrides the default SDK forwarder.
	ForwarderID string
	// Force skips the log type catalog check.
	Force     bool
	Namespace string
	Labels    map[string]string
}

// LogService ingests raw logs and UDM events.
type LogService interface {
	// Ingest imports messages under logType. Large batches are split into
	// several requests; one operation is returned per request.
	Ingest(ctx context.Context, logType string, messages []string, opts *IngestOptions, reqOpts ...RequestOption) ([]*Operation, error)
	// IngestUDM imports already-normalized events. Each event needs a
	// metadata object; a missing metadata.id is generated.
	IngestUDM(ctx context.Context, events []map[string]any, reqOpts ...RequestOption) (*Operation, error)
	// Forwarder finds a forwarder by display name, creating it if absent.
	Forwarder(ctx context.Context, displayName string, reqOpts ...RequestOption) (*Forwarder, error)
}

type logService struct {
	*service
	logTypes LogTypeValidator

	mu        sync.Mutex
	forwarder string
}

func newLogService(s *service, logTypes LogTypeValidator) *logService {
	return &logService{service: s, logTypes: logTypes}
}

type ingestEntry struct {
	Data           string                       `json:"data"`
	LogEntryTime   string                       `json:"log_entry_time"`
	CollectionTime string                       `json:"collection_time"`
	Namespace      string                       `json:"environment_namespace,omitempty"`
	Labels         map[string]map[string]string `json:"labels,omitempty"`
}

func (s *logService) Ingest(ctx context.Context, logType string, messages []string, opts *IngestOptions, reqOpts ...RequestOption) ([]*Operation, error) {
	if opts == nil {
		opts = &IngestOptions{}
	}
	if strings.TrimSpace(logType) == "" {
		return nil, invalidInput("log_type", "log type cannot be empty")
	}
	if !opts.Force && s.logTypes != nil && !s.logTypes.IsValid(logType) {
		return nil, invalidInput("log_type", "unknown log type %q; use force to send it anyway", logType)
	}
	if len(messages) == 0 {
		return nil, invalidInput("messages", "at least one log message is required")
	}

	now := time.Now()
	entryTime, collectionTime := opts.EntryTime, opts.CollectionTime
	if entryTime.IsZero() {
		entryTime = now
	}
	if collectionTime.IsZero() {
		collectionTime = now
	}
	if entryTime.After(collectionTime) {
		return nil, invalidInput("log_entry_time", "entry time cannot be after collection time")
	}

	var labels map[string]map[string]string
	if len(opts.Labels) > 0 {
		labels = make(map[string]map[string]string, len(opts.Labels))
		for k, v := range opts.Labels {
			labels[k] = map[string]string{"value": v}
		}
	}
	entries := make([]ingestEntry, len(messages))
	for i, msg := range messages {
		entries[i] = ingestEntry{
			Data:           base64.StdEncoding.EncodeToString([]byte(msg)),
			LogEntryTime:   FormatTime(entryTime),
			CollectionTime: FormatTime(collectionTime),
			Namespace:      opts.Namespace,
			Labels:         labels,
		}
	}

	batches, err := chunkBatch(entries, func(e ingestEntry) int {
		return len(e.Data) + ingestEntryOverhead
	}, defaultChunkLimits)
	if err != nil {
		return nil, err
	}

	forwarderID := opts.ForwarderID
	if forwarderID == "" {
		if forwarderID, err = s.defaultForwarder(ctx, reqOpts); err != nil {
			return nil, err
		}
	}
	forwarder := s.path("forwarders", forwarderID)

	path := s.path("logTypes", logType, "logs:import")
	ops := make([]*Operation, 0, len(batches))
	for i, batch := range batches {
		body := map[string]any{
			"inline_source": map[string]any{
				"logs":      batch,
				"forwarder": forwarder,
			},
		}
		var op Operation
		if err := s.call(ctx, http.MethodPost, path, nil, body, &op, reqOpts); err != nil {
			return ops, err
		}
		s.logger.Debug("ingested batch",
			zap.String("log_type", logType),
			zap.Int("batch", i),
			zap.Int("logs", len(batch)))
		ops = append(ops, &op)
	}
	return ops, nil
}

// defaultForwarder resolves the SDK forwarder once per client.
func (s *logService) defaultForwarder(ctx context.Context, reqOpts []RequestOption) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forwarder != "" {
		return s.forwarder, nil
	}
	fwd, err := s.Forwarder(ctx, DefaultForwarderName, reqOpts...)
	if err != nil {
		return "", err
	}
	id, err := ExtractForwarderID(fwd.Name)
	if err != nil {
		return "", err
	}
	s.forwarder = id
	return id, nil
}

func (s *logService) Forwarder(ctx context.Context, displayName string, reqOpts ...RequestOption) (*Forwarder, error) {
	if displayName == "" {
		displayName = DefaultForwarderName
	}
	for fwd, err := range listPages[*Forwarder](ctx, s.service, s.path("forwarders"), "forwarders", nil, reqOpts) {
		if err != nil {
			return nil, err
		}
		if fwd.DisplayName == displayName {
			return fwd, nil
		}
	}

	body := map[string]any{
		"displayName": displayName,
		"config": map[string]any{
			"uploadCompression": false,
			"metadata":          map[string]any{},
			"serverSettings": map[string]any{
				"enabled":      false,
				"httpSettings": map[string]any{"routeSettings": map[string]any{}},
			},
		},
	}
	var fwd Forwarder
	if err := s.call(ctx, http.MethodPost, s.path("forwarders"), nil, body, &fwd, reqOpts); err != nil {
		return nil, err
	}
	s.logger.Info("created forwarder", zap.String("name", fwd.Name), zap.String("display_name", displayName))
	return &fwd, nil
}

func (s *logService) IngestUDM(ctx context.Context, events []map[string]any, reqOpts ...RequestOption) (*Operation, error) {
	if len(events) == 0 {
		return nil, invalidInput("events", "at least one UDM event is required")
	}

	now := FormatTime(time.Now())
	wrapped := make([]map[string]any, len(events))
	for i, event := range events {
		meta, ok := event["metadata"].(map[string]any)
		if !ok {
			return nil, invalidInput("events", "event %d has no metadata object", i)
		}
		// Copies keep the caller's events untouched.
		meta = maps.Clone(meta)
		if id, _ := meta["id"].(string); id == "" {
			meta["id"] = uuid.NewString()
		}
		if _, ok := meta["event_timestamp"]; !ok {
			meta["event_timestamp"] = now
		}
		event = maps.Clone(event)
		event["metadata"] = meta
		wrapped[i] = map[string]any{"udm": event}
	}

	body := map[string]any{"inline_source": map[string]any{"events": wrapped}}
	var op Operation
	if err := s.call(ctx, http.MethodPost, s.path("events:import"), nil, body, &op, reqOpts); err != nil {
		return nil, err
	}
	return &op, nil
}
