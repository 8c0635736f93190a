package chronicle

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

const defaultMaxIoCMatches = 1000

// IoCAssociation links an indicator to an actor or campaign.
type IoCAssociation struct {
	Name            string `json:"name"`
	AssociationType string `json:"associationType"`
	RegionCode      string `json:"regionCode,omitempty"`
}

// IoCMatch is an indicator seen in the customer's telemetry.
type IoCMatch struct {
	// ArtifactIndicator holds the raw indicator, keyed by its kind, e.g.
	// {"domain": "evil.example"}.
	ArtifactIndicator map[string]string `json:"artifactIndicator,omitempty"`
	// IndicatorType and IndicatorValue flatten ArtifactIndicator.
	IndicatorType  string `json:"indicatorType,omitempty"`
	IndicatorValue string `json:"indicatorValue,omitempty"`

	Sources               []string         `json:"sources,omitempty"`
	Categories            []string         `json:"categories,omitempty"`
	IoCIngestTimestamp    string           `json:"iocIngestTimestamp,omitempty"`
	FirstSeenTimestamp    string           `json:"firstSeenTimestamp,omitempty"`
	LastSeenTimestamp     string           `json:"lastSeenTimestamp,omitempty"`
	AssociationIdentifier []IoCAssociation `json:"associationIdentifier,omitempty"`
	FilterProperties      map[string]any   `json:"filterProperties,omitempty"`
}

// IoCList is the result of an IoC query.
type IoCList struct {
	Matches           []IoCMatch `json:"matches"`
	MoreDataAvailable bool       `json:"moreDataAvailable"`
}

// IoCOptions tunes an IoC query.
type IoCOptions struct {
	// MaxMatches caps the matches returned. Defaults to 1000.
	MaxMatches             int
	SkipMandiantAttributes bool
	PrioritizedOnly        bool
}

// IoCService lists indicator-of-compromise matches.
type IoCService interface {
	List(ctx context.Context, tr TimeRange, opts *IoCOptions, reqOpts ...RequestOption) (*IoCList, error)
}

type iocService struct {
	*service
}

func newIoCService(s *service) *iocService {
	return &iocService{service: s}
}

func (s *iocService) List(ctx context.Context, tr TimeRange, opts *IoCOptions, reqOpts ...RequestOption) (*IoCList, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &IoCOptions{}
	}
	maxMatches := opts.MaxMatches
	if maxMatches <= 0 {
		maxMatches = defaultMaxIoCMatches
	}

	q := url.Values{}
	q.Set("timestampRange.startTime", FormatTime(tr.Start))
	q.Set("timestampRange.endTime", FormatTime(tr.End))
	q.Set("maxMatchesToReturn", strconv.Itoa(maxMatches))
	q.Set("addMandiantAttributes", strconv.FormatBool(!opts.SkipMandiantAttributes))
	q.Set("fetchPrioritizedIocsOnly", strconv.FormatBool(opts.PrioritizedOnly))

	var out IoCList
	if err := s.call(ctx, http.MethodGet, s.path("legacy:legacySearchEnterpriseWideIoCs"), q, nil, &out, reqOpts); err != nil {
		return nil, err
	}
	if out.Matches == nil {
		out.Matches = []IoCMatch{}
	}
	for i := range out.Matches {
		normalizeIoC(&out.Matches[i])
	}
	return &out, nil
}

// normalizeIoC flattens the artifact indicator and drops associations that
// repeat a (name, type) pair, keeping the first.
func normalizeIoC(m *IoCMatch) {
	if m.IndicatorType == "" && len(m.ArtifactIndicator) > 0 {
		keys := make([]string, 0, len(m.ArtifactIndicator))
		for k := range m.ArtifactIndicator {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m.IndicatorType = keys[0]
		m.IndicatorValue = m.ArtifactIndicator[keys[0]]
	}

	if len(m.AssociationIdentifier) == 0 {
		return
	}
	type key struct{ name, kind string }
	seen := make(map[key]bool, len(m.AssociationIdentifier))
	unique := m.AssociationIdentifier[:0]
	for _, a := range m.AssociationIdentifier {
		k := key{a.Name, a.AssociationType}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, a)
	}
	m.AssociationIdentifier = unique
}
