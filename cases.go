package chronicle

import (
	"context"
	"net/http"
	"net/url"
)

// maxCaseIDs is the most cases one batch lookup accepts.
const maxCaseIDs = 1000

// SOARPlatformInfo links a case to its response platform.
type SOARPlatformInfo struct {
	CaseID       string `json:"caseId"`
	PlatformType string `json:"responsePlatformType,omitempty"`
}

// Case is an investigation grouping related alerts.
type Case struct {
	ID               string            `json:"id"`
	DisplayName      string            `json:"displayName,omitempty"`
	Stage            string            `json:"stage,omitempty"`
	Priority         string            `json:"priority,omitempty"`
	Status           string            `json:"status,omitempty"`
	SOARPlatformInfo *SOARPlatformInfo `json:"soarPlatformInfo,omitempty"`
	AlertIDs         []string          `json:"alertIds,omitempty"`
}

// CaseList is the result of a batch case lookup.
type CaseList struct {
	Cases []Case `json:"cases"`
}

// ByID returns the case with the given id, or nil.
func (l *CaseList) ByID(id string) *Case {
	for i := range l.Cases {
		if l.Cases[i].ID == id {
			return &l.Cases[i]
		}
	}
	return nil
}

// Where returns the cases for which keep reports true.
func (l *CaseList) Where(keep func(Case) bool) []Case {
	out := []Case{}
	for _, c := range l.Cases {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// CaseService reads cases.
type CaseService interface {
	// Get fetches up to 1000 cases in one call. Unknown ids are omitted
	// from the result.
	Get(ctx context.Context, ids []string, reqOpts ...RequestOption) (*CaseList, error)
}

type caseService struct {
	*service
}

func newCaseService(s *service) *caseService {
	return &caseService{service: s}
}

func (s *caseService) Get(ctx context.Context, ids []string, reqOpts ...RequestOption) (*CaseList, error) {
	switch {
	case len(ids) == 0:
		return nil, invalidInput("case_ids", "cannot be empty")
	case len(ids) > maxCaseIDs:
		return nil, invalidInput("case_ids", "at most %d per call, got %d", maxCaseIDs, len(ids))
	}
	for _, id := range ids {
		if err := validateID("case", id); err != nil {
			return nil, err
		}
	}

	out := &CaseList{}
	if err := s.call(ctx, http.MethodGet, s.path("legacy:legacyBatchGetCases"), url.Values{"names": ids}, nil, out, reqOpts); err != nil {
		return nil, err
	}
	if out.Cases == nil {
		out.Cases = []Case{}
	}
	return out, nil
}
