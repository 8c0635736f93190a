package chronicle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
)

// ErrEmptyIterator is returned by First when the iterator yields no items.
var ErrEmptyIterator = errors.New("iterator is empty")

// Page size used when walking paginated collections.
const defaultPageSize = 1000

// Collect gathers all items from an iterator into a slice.
// It stops on the first error and returns all items collected so far along with the error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	result := make([]T, 0)
	for item, err := range seq {
		if err != nil {
			return result, err
		}
		result = append(result, item)
	}
	return result, nil
}

// CollectAll gathers every item, or nothing if any page fails.
func CollectAll[T any](seq iter.Seq2[T, error]) ([]T, error) {
	result, err := Collect(seq)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// First returns the first item from an iterator, or an error if the iterator is empty or fails.
func First[T any](seq iter.Seq2[T, error]) (T, error) {
	for item, err := range seq {
		return item, err
	}
	var zero T
	return zero, ErrEmptyIterator
}

// Take returns an iterator that yields at most n items from the source iterator.
func Take[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		count := 0
		for item, err := range seq {
			if !yield(item, err) || err != nil {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}

// Filter returns an iterator that yields only items matching the predicate.
func Filter[T any](seq iter.Seq2[T, error], pred func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for item, err := range seq {
			if err != nil {
				yield(item, err)
				return
			}
			if pred(item) {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// pageFunc fetches one page for a continuation token. An empty next token
// ends the walk.
type pageFunc[T any] func(ctx context.Context, pageToken string) (items []T, next string, err error)

// paginate walks a cursor-paginated collection, yielding items in page order.
// The first page is requested without a token. A failing page yields its
// error once and stops.
func paginate[T any](ctx context.Context, fetch pageFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		token := ""
		seen := map[string]bool{}
		for {
			if err := ctx.Err(); err != nil {
				yield(zero, err)
				return
			}
			items, next, err := fetch(ctx, token)
			if err != nil {
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
			if next == "" {
				return
			}
			if seen[next] {
				yield(zero, fmt.Errorf("chronicle: page token %q repeated", next))
				return
			}
			seen[next] = true
			token = next
		}
	}
}

// pageQuery builds the query for one page request. Extra parameters such
// as orderBy or view are passed through unchanged.
func pageQuery(pageSize int, pageToken string, extra url.Values) url.Values {
	q := url.Values{}
	for k, v := range extra {
		q[k] = append([]string(nil), v...)
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	return q
}

// listPages returns an iterator over the items stored under key in each
// page of a list endpoint.
func listPages[T any](ctx context.Context, s *service, path, key string, extra url.Values, opts []RequestOption) iter.Seq2[T, error] {
	return paginate(ctx, func(ctx context.Context, token string) ([]T, string, error) {
		var page map[string]json.RawMessage
		if err := s.call(ctx, http.MethodGet, path, pageQuery(defaultPageSize, token, extra), nil, &page, opts); err != nil {
			return nil, "", err
		}

		var items []T
		if raw, ok := page[key]; ok {
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, "", &ParseError{APIError: APIError{Message: "invalid " + key}, Err: err}
			}
		}
		return items, nextToken(page), nil
	})
}

// nextToken reads the continuation token, which some endpoints spell in
// snake case.
func nextToken(page map[string]json.RawMessage) string {
	for _, key := range []string{"nextPageToken", "next_page_token"} {
		raw, ok := page[key]
		if !ok {
			continue
		}
		var token string
		if err := json.Unmarshal(raw, &token); err == nil && token != "" {
			return token
		}
	}
	return ""
}
