package chronicle

import (
	"context"
	"iter"
	"net/http"
	"net/url"
	"strings"
)

// ReferenceListSyntax controls how a rule interprets list entries.
type ReferenceListSyntax string

const (
	SyntaxString ReferenceListSyntax = "REFERENCE_LIST_SYNTAX_TYPE_PLAIN_TEXT_STRING"
	SyntaxRegex  ReferenceListSyntax = "REFERENCE_LIST_SYNTAX_TYPE_REGEX"
	SyntaxCIDR   ReferenceListSyntax = "REFERENCE_LIST_SYNTAX_TYPE_CIDR"
)

// ParseReferenceListSyntax accepts STRING, REGEX or CIDR, or a full
// syntax type name.
func ParseReferenceListSyntax(s string) (ReferenceListSyntax, error) {
	switch strings.ToUpper(s) {
	case "STRING", string(SyntaxString):
		return SyntaxString, nil
	case "REGEX", string(SyntaxRegex):
		return SyntaxRegex, nil
	case "CIDR", string(SyntaxCIDR):
		return SyntaxCIDR, nil
	default:
		return "", invalidInput("syntax_type", "unknown syntax type %q", s)
	}
}

// ReferenceListView selects how much of a list is returned.
type ReferenceListView string

const (
	ViewBasic ReferenceListView = "REFERENCE_LIST_VIEW_BASIC"
	ViewFull  ReferenceListView = "REFERENCE_LIST_VIEW_FULL"
)

// ReferenceListEntry is one value of a list.
type ReferenceListEntry struct {
	Value string `json:"value"`
}

// ReferenceList is a named list of values matched by rules.
type ReferenceList struct {
	Name                  string               `json:"name"`
	DisplayName           string               `json:"displayName,omitempty"`
	Description           string               `json:"description,omitempty"`
	Entries               []ReferenceListEntry `json:"entries,omitempty"`
	SyntaxType            ReferenceListSyntax  `json:"syntaxType,omitempty"`
	RevisionCreateTime    string               `json:"revisionCreateTime,omitempty"`
	RuleAssociationsCount int                  `json:"ruleAssociationsCount,omitempty"`
}

// Values returns the entry values in order.
func (l *ReferenceList) Values() []string {
	out := make([]string, len(l.Entries))
	for i, e := range l.Entries {
		out[i] = e.Value
	}
	return out
}

// ReferenceListUpdate names the fields to change. Nil fields are left as
// they are.
type ReferenceListUpdate struct {
	Description *string
	Entries     []string
}

// ReferenceListService manages reference lists.
type ReferenceListService interface {
	Create(ctx context.Context, name, description string, entries []string, syntax ReferenceListSyntax, reqOpts ...RequestOption) (*ReferenceList, error)
	// Get fetches a list. An empty view means FULL.
	Get(ctx context.Context, name string, view ReferenceListView, reqOpts ...RequestOption) (*ReferenceList, error)
	// All iterates over every list. An empty view means BASIC.
	All(ctx context.Context, view ReferenceListView, reqOpts ...RequestOption) iter.Seq2[*ReferenceList, error]
	List(ctx context.Context, view ReferenceListView, reqOpts ...RequestOption) ([]*ReferenceList, error)
	// Update replaces the description, the entries, or both.
	Update(ctx context.Context, name string, update ReferenceListUpdate, reqOpts ...RequestOption) (*ReferenceList, error)
}

type referenceListService struct {
	*service
}

func newReferenceListService(s *service) *referenceListService {
	return &referenceListService{service: s}
}

func toEntries(values []string) []ReferenceListEntry {
	entries := make([]ReferenceListEntry, len(values))
	for i, v := range values {
		entries[i] = ReferenceListEntry{Value: v}
	}
	return entries
}

func validateEntries(syntax ReferenceListSyntax, values []string) error {
	if syntax != SyntaxCIDR {
		return nil
	}
	for _, v := range values {
		if err := validateCIDR(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *referenceListService) Create(ctx context.Context, name, description string, entries []string, syntax ReferenceListSyntax, reqOpts ...RequestOption) (*ReferenceList, error) {
	if err := validateResourceName("reference_list_name", name); err != nil {
		return nil, err
	}
	if syntax == "" {
		syntax = SyntaxString
	}
	if err := validateEntries(syntax, entries); err != nil {
		return nil, err
	}

	body := map[string]any{
		"description": description,
		"entries":     toEntries(entries),
		"syntaxType":  syntax,
	}
	var list ReferenceList
	q := url.Values{"referenceListId": {name}}
	if err := s.call(ctx, http.MethodPost, s.path("referenceLists"), q, body, &list, reqOpts); err != nil {
		return nil, err
	}
	return &list, nil
}

func (s *referenceListService) Get(ctx context.Context, name string, view ReferenceListView, reqOpts ...RequestOption) (*ReferenceList, error) {
	if err := validateID("reference_list", name); err != nil {
		return nil, err
	}
	if view == "" {
		view = ViewFull
	}
	var list ReferenceList
	q := url.Values{"view": {string(view)}}
	if err := s.call(ctx, http.MethodGet, s.path("referenceLists", name), q, nil, &list, reqOpts); err != nil {
		return nil, notFound(err, "reference list", name)
	}
	return &list, nil
}

func (s *referenceListService) All(ctx context.Context, view ReferenceListView, reqOpts ...RequestOption) iter.Seq2[*ReferenceList, error] {
	if view == "" {
		view = ViewBasic
	}
	q := url.Values{"view": {string(view)}}
	return listPages[*ReferenceList](ctx, s.service, s.path("referenceLists"), "referenceLists", q, reqOpts)
}

func (s *referenceListService) List(ctx context.Context, view ReferenceListView, reqOpts ...RequestOption) ([]*ReferenceList, error) {
	return CollectAll(s.All(ctx, view, reqOpts...))
}

func (s *referenceListService) Update(ctx context.Context, name string, update ReferenceListUpdate, reqOpts ...RequestOption) (*ReferenceList, error) {
	if err := validateID("reference_list", name); err != nil {
		return nil, err
	}
	if update.Description == nil && update.Entries == nil {
		return nil, invalidInput("update", "description or entries must be provided")
	}

	body := map[string]any{}
	var mask []string
	if update.Description != nil {
		body["description"] = *update.Description
		mask = append(mask, "description")
	}
	if update.Entries != nil {
		// Entries are checked against the stored syntax type.
		current, err := s.Get(ctx, name, ViewBasic, reqOpts...)
		if err != nil {
			return nil, err
		}
		if err := validateEntries(current.SyntaxType, update.Entries); err != nil {
			return nil, err
		}
		body["entries"] = toEntries(update.Entries)
		mask = append(mask, "entries")
	}

	var list ReferenceList
	q := url.Values{"updateMask": {strings.Join(mask, ",")}}
	if err := s.call(ctx, http.MethodPatch, s.path("referenceLists", name), q, body, &list, reqOpts); err != nil {
		return nil, notFound(err, "reference list", name)
	}
	return &list, nil
}
