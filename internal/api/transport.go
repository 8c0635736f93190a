// Package api sends JSON requests to the Chronicle REST endpoints.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tphakala/go-chronicle/internal/auth"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultUserAgent   = "go-chronicle"

	// MaxResponseSize caps how much of a response body is read.
	MaxResponseSize = 10 << 20

	// RequestIDHeader carries the per-request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// ErrResponseTooLarge is returned when a body exceeds MaxResponseSize.
var ErrResponseTooLarge = errors.New("api: response body exceeds size limit")

// Transport performs authenticated calls against one API root.
type Transport struct {
	// BaseURL is the versioned API root, e.g.
	// https://us-chronicle.googleapis.com/v1alpha.
	BaseURL     *url.URL
	HTTPClient  *http.Client
	Credentials *auth.Credentials
	UserAgent   string

	// Limiter throttles outgoing requests when set.
	Limiter *rate.Limiter
	Logger  *zap.Logger
}

// NewTransport validates baseURL and returns a Transport using httpClient,
// or a client with a 30s timeout when nil.
func NewTransport(baseURL string, creds *auth.Credentials, httpClient *http.Client) (*Transport, error) {
	if !creds.Valid() {
		return nil, errors.New("api: a bearer token is required")
	}
	root, err := parseRoot(baseURL)
	if err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Transport{
		BaseURL:     root,
		HTTPClient:  httpClient,
		Credentials: creds,
		UserAgent:   defaultUserAgent,
		Logger:      zap.NewNop(),
	}, nil
}

// parseRoot accepts only absolute roots and drops trailing slashes.
func parseRoot(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	switch {
	case err != nil:
		return nil, fmt.Errorf("api: base URL %q: %w", raw, err)
	case u.Scheme == "" || u.Host == "":
		return nil, fmt.Errorf("api: base URL %q is not absolute", raw)
	}
	return u, nil
}

// Request describes one call. Path is relative to BaseURL and may end in
// a custom method, as in "projects/p/.../instances/c:udmSearch".
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers http.Header
}

// Response is a fully read reply. A non-2xx status is not an error at
// this layer.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
	// RequestID is the correlation id sent with the request.
	RequestID string
	Elapsed   time.Duration
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Do sends req after waiting on the limiter and reads the whole body.
func (t *Transport) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := t.throttle(ctx); err != nil {
		return nil, err
	}
	httpReq, err := t.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	id := httpReq.Header.Get(RequestIDHeader)
	log := t.log().With(
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.String("request_id", id))

	began := time.Now()
	httpResp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		log.Debug("api call failed", zap.Error(err))
		return nil, fmt.Errorf("api: %s %s: %w", req.Method, req.Path, err)
	}
	body, err := readLimited(httpResp.Body)
	_ = httpResp.Body.Close()
	if err != nil {
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Headers:    httpResp.Header,
		RequestID:  id,
		Elapsed:    time.Since(began),
	}
	log.Debug("api call", zap.Int("status", resp.StatusCode), zap.Duration("elapsed", resp.Elapsed))
	return resp, nil
}

// DoJSON is Do followed by decoding a non-empty 2xx body into result.
// Error bodies are left for the caller to classify. A decode failure
// returns the response along with an error wrapping the json error.
func (t *Transport) DoJSON(ctx context.Context, req *Request, result any) (*Response, error) {
	resp, err := t.Do(ctx, req)
	if err != nil || result == nil || !resp.OK() || len(bytes.TrimSpace(resp.Body)) == 0 {
		return resp, err
	}
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return resp, fmt.Errorf("api: decoding %s response: %w", req.Path, err)
	}
	return resp, nil
}

func (t *Transport) throttle(ctx context.Context) error {
	if t.Limiter == nil {
		return nil
	}
	if err := t.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("api: waiting for rate limiter: %w", err)
	}
	return nil
}

func (t *Transport) log() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}

// readLimited reads at most MaxResponseSize bytes and fails on more.
func readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("api: reading response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, MaxResponseSize)
	}
	return body, nil
}

func (t *Transport) newHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target := t.BaseURL.JoinPath(req.Path)
	target.RawQuery = req.Query.Encode()

	var payload io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("api: encoding %s body: %w", req.Path, err)
		}
		payload = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), payload)
	if err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}

	h := httpReq.Header
	h.Set("Accept", "application/json")
	h.Set("User-Agent", t.UserAgent)
	h.Set(RequestIDHeader, uuid.NewString())
	if payload != nil {
		h.Set("Content-Type", "application/json")
	}
	t.Credentials.Apply(httpReq)

	// Caller headers override the defaults, the request id included.
	for k, v := range req.Headers {
		h[k] = v
	}
	return httpReq, nil
}
