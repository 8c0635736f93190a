package chronicle

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// ValueType classifies a free-text value that has no direct UDM field.
type ValueType string

const (
	ValueTypeDomain   ValueType = "DOMAIN_NAME"
	ValueTypeEmail    ValueType = "EMAIL"
	ValueTypeMAC      ValueType = "MAC"
	ValueTypeHostname ValueType = "HOSTNAME"
)

// Entity types used to pick the primary entity of a summary.
const (
	EntityTypeAsset  = "ASSET"
	EntityTypeFile   = "FILE"
	EntityTypeDomain = "DOMAIN_NAME"
	EntityTypeUser   = "USER"
	EntityTypeIP     = "IP_ADDRESS"
)

var (
	md5Pattern      = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Pattern     = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Pattern   = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	domainPattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9](?:\.[a-zA-Z]{2,})+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	macPattern      = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
)

// DetectValueType classifies value. It returns a UDM field path when the
// value maps directly onto one, a value type otherwise, or neither when
// nothing matches. Checks run from most to least specific.
func DetectValueType(value string) (fieldPath string, valueType ValueType) {
	if _, err := netip.ParseAddr(value); err == nil {
		return "principal.ip", ""
	}
	switch {
	case md5Pattern.MatchString(value):
		return "target.file.md5", ""
	case sha1Pattern.MatchString(value):
		return "target.file.sha1", ""
	case sha256Pattern.MatchString(value):
		return "target.file.sha256", ""
	case domainPattern.MatchString(value):
		return "", ValueTypeDomain
	case emailPattern.MatchString(value):
		return "", ValueTypeEmail
	case macPattern.MatchString(value):
		return "", ValueTypeMAC
	case hostnamePattern.MatchString(value):
		return "", ValueTypeHostname
	default:
		return "", ""
	}
}

// valueTypeFields are the search keys for value types without a field path.
var valueTypeFields = map[ValueType]string{
	ValueTypeDomain:   "domain",
	ValueTypeEmail:    "email",
	ValueTypeMAC:      "mac",
	ValueTypeHostname: "hostname",
}

// entityQuery derives the broad lookup query for value and the entity type
// a matching primary entity should have.
func entityQuery(value string) (query, preferred string, err error) {
	path, vt := DetectValueType(value)
	literal := strconv.Quote(value)
	switch {
	case path == "principal.ip":
		return path + " = " + literal, EntityTypeAsset, nil
	case strings.HasPrefix(path, "target.file."):
		return path + " = " + literal, EntityTypeFile, nil
	case vt == ValueTypeDomain:
		return valueTypeFields[vt] + " = " + literal, EntityTypeDomain, nil
	case vt == ValueTypeEmail:
		return valueTypeFields[vt] + " = " + literal, EntityTypeUser, nil
	case vt == ValueTypeMAC, vt == ValueTypeHostname:
		return valueTypeFields[vt] + " = " + literal, EntityTypeAsset, nil
	default:
		return "", "", invalidInput("value", "cannot determine entity type for %q", value)
	}
}

// EntityService summarizes what is known about an indicator.
type EntityService interface {
	// Summarize resolves value to its entities and gathers alert counts,
	// timeline and prevalence for the primary one.
	Summarize(ctx context.Context, value string, tr TimeRange, opts *EntityOptions, reqOpts ...RequestOption) (*EntitySummary, error)
}

// EntityOptions tunes an entity summary.
type EntityOptions struct {
	// PreferredType overrides the detected primary entity type, e.g. "FILE".
	PreferredType string
	// PrimaryUDMTypesOnly restricts first/last seen to the primary UDM
	// event types.
	PrimaryUDMTypesOnly bool
	// PageSize caps alert counts returned. Defaults to 1000.
	PageSize  int
	PageToken string
}

// Interval is a time span as returned by the API.
type Interval struct {
	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

// EntityMetadata describes an entity's type and validity.
type EntityMetadata struct {
	EntityType string    `json:"entityType"`
	Interval   *Interval `json:"interval,omitempty"`
}

// EntityMetric carries first and last sighting times.
type EntityMetric struct {
	FirstSeen string `json:"firstSeen,omitempty"`
	LastSeen  string `json:"lastSeen,omitempty"`
}

// Entity is one resolved entity.
type Entity struct {
	Name     string         `json:"name"`
	Metadata EntityMetadata `json:"metadata"`
	Metric   *EntityMetric  `json:"metric,omitempty"`
	Entity   map[string]any `json:"entity,omitempty"`
}

// ID is the final component of the entity name.
func (e *Entity) ID() string { return lastSegment(e.Name) }

// AlertCount is the number of alerts a rule raised for an entity.
type AlertCount struct {
	Rule  string `json:"rule"`
	Count Int64  `json:"count"`
}

// TimelineBucket is one slot of an entity's activity timeline.
type TimelineBucket struct {
	AlertCount Int64 `json:"alertCount,omitempty"`
	EventCount Int64 `json:"eventCount,omitempty"`
}

// Timeline is an entity's activity over time.
type Timeline struct {
	Buckets    []TimelineBucket `json:"buckets"`
	BucketSize string           `json:"bucketSize,omitempty"`
}

// PrevalenceSample is one point of an entity's prevalence series.
type PrevalenceSample struct {
	PrevalenceTime string `json:"prevalenceTime"`
	Count          Int64  `json:"count,omitempty"`
}

// EntitySummary combines the broad lookup with per-entity details.
type EntitySummary struct {
	PrimaryEntity   *Entity            `json:"primary_entity,omitempty"`
	RelatedEntities []Entity           `json:"related_entities"`
	AlertCounts     []AlertCount       `json:"alert_counts,omitempty"`
	HasMoreAlerts   bool               `json:"has_more_alerts"`
	NextPageToken   string             `json:"next_page_token,omitempty"`
	Timeline        *Timeline          `json:"timeline,omitempty"`
	Prevalence      []PrevalenceSample `json:"prevalence,omitempty"`
}

type entityService struct {
	*service
}

func newEntityService(s *service) *entityService {
	return &entityService{service: s}
}

func (s *entityService) Summarize(ctx context.Context, value string, tr TimeRange, opts *EntityOptions, reqOpts ...RequestOption) (*EntitySummary, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, invalidInput("value", "cannot be empty")
	}
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	query, preferred, err := entityQuery(value)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &EntityOptions{}
	}
	if opts.PreferredType != "" {
		preferred = strings.ToUpper(opts.PreferredType)
	}

	entities, err := s.fromQuery(ctx, query, tr, reqOpts)
	if err != nil {
		return nil, err
	}

	summary := &EntitySummary{RelatedEntities: []Entity{}}
	primary := selectPrimary(entities, preferred)
	for i := range entities {
		if i == primary {
			summary.PrimaryEntity = &entities[i]
			continue
		}
		summary.RelatedEntities = append(summary.RelatedEntities, entities[i])
	}
	if summary.PrimaryEntity == nil {
		return summary, nil
	}

	s.details(ctx, summary, tr, opts, reqOpts)
	return summary, nil
}

// fromQuery runs the broad lookup and flattens every summary's entities.
func (s *entityService) fromQuery(ctx context.Context, query string, tr TimeRange, reqOpts []RequestOption) ([]Entity, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("timeRange.startTime", FormatTime(tr.Start))
	q.Set("timeRange.endTime", FormatTime(tr.End))

	var out struct {
		EntitySummaries []struct {
			Entity []Entity `json:"entity"`
		} `json:"entitySummaries"`
	}
	if err := s.call(ctx, http.MethodGet, s.verb("summarizeEntitiesFromQuery"), q, nil, &out, reqOpts); err != nil {
		return nil, err
	}

	var entities []Entity
	for _, es := range out.EntitySummaries {
		entities = append(entities, es.Entity...)
	}
	return entities, nil
}

// selectPrimary returns the index of the first entity of the preferred
// type, or -1 when none has it.
func selectPrimary(entities []Entity, preferred string) int {
	for i, e := range entities {
		if e.Metadata.EntityType == preferred {
			return i
		}
	}
	return -1
}

// details fills alert counts, timeline and prevalence. Each is optional:
// a failed call is logged and leaves its part empty.
func (s *entityService) details(ctx context.Context, summary *EntitySummary, tr TimeRange, opts *EntityOptions, reqOpts []RequestOption) {
	id := summary.PrimaryEntity.ID()
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	base := url.Values{}
	base.Set("entityId", id)
	base.Set("timeRange.startTime", FormatTime(tr.Start))
	base.Set("timeRange.endTime", FormatTime(tr.End))
	base.Set("includeAllUdmEventTypesForFirstLastSeen", strconv.FormatBool(!opts.PrimaryUDMTypesOnly))

	alertsQ := pageQuery(pageSize, opts.PageToken, base)
	alertsQ.Set("returnAlerts", "true")
	var alerts struct {
		AlertCounts   []AlertCount `json:"alertCounts"`
		HasMoreAlerts bool         `json:"hasMoreAlerts"`
		NextPageToken string       `json:"nextPageToken"`
		Timeline      *Timeline    `json:"timeline"`
	}
	if err := s.summarizeEntity(ctx, alertsQ, &alerts, reqOpts); err != nil {
		s.skipDetail("alerts", id, err)
	} else {
		summary.AlertCounts = alerts.AlertCounts
		summary.HasMoreAlerts = alerts.HasMoreAlerts
		summary.NextPageToken = alerts.NextPageToken
		summary.Timeline = alerts.Timeline
	}

	prevQ := pageQuery(0, "", base)
	prevQ.Set("returnPrevalence", "true")
	var prevalence struct {
		PrevalenceResult []PrevalenceSample `json:"prevalenceResult"`
	}
	if err := s.summarizeEntity(ctx, prevQ, &prevalence, reqOpts); err != nil {
		s.skipDetail("prevalence", id, err)
	} else {
		summary.Prevalence = prevalence.PrevalenceResult
	}
}

func (s *entityService) summarizeEntity(ctx context.Context, q url.Values, out any, reqOpts []RequestOption) error {
	return s.call(ctx, http.MethodGet, s.verb("summarizeEntity"), q, nil, out, reqOpts)
}

func (s *entityService) skipDetail(part, id string, err error) {
	s.logger.Warn("entity detail unavailable",
		zap.String("part", part),
		zap.String("entity_id", id),
		zap.Error(err))
}
