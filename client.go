package chronicle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tphakala/go-chronicle/internal/api"
	"github.com/tphakala/go-chronicle/internal/auth"
)

// Default configuration values.
const (
	defaultTimeout = 60 * time.Second
	defaultRegion  = "us"
)

// Client is the Chronicle API client.
type Client struct {
	// Search runs UDM searches and statistics queries.
	Search SearchService
	// Rules manages detection rules, rule tests and retrohunts.
	Rules RuleService
	// Alerts fetches and updates alerts.
	Alerts AlertService
	// Entities resolves free-text values into entity summaries.
	Entities EntityService
	// IoCs lists indicator-of-compromise matches.
	IoCs IoCService
	// Cases reads cases in batches.
	Cases CaseService
	// DataTables manages data tables and their rows.
	DataTables DataTableService
	// ReferenceLists manages reference lists.
	ReferenceLists ReferenceListService
	// Exports manages data export jobs.
	Exports DataExportService
	// Logs ingests raw logs and UDM events.
	Logs LogService

	transport *api.Transport
	instance  string
}

// NewClient creates a new Chronicle client with the given options.
func NewClient(opts ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		region:  defaultRegion,
		timeout: defaultTimeout,
		poll:    DefaultPollConfig(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.projectID == "" || cfg.customerID == "" {
		return nil, ErrNoInstance
	}

	creds := &auth.Credentials{Token: cfg.token}
	if !creds.Valid() {
		return nil, ErrNoCredentials
	}

	if err := cfg.poll.validate(); err != nil {
		return nil, err
	}

	baseURL, location := regionEndpoint(cfg.region)
	if cfg.baseURL != "" {
		baseURL = cfg.baseURL
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.timeout,
		}
	}

	transport, err := api.NewTransport(baseURL, creds, httpClient)
	if err != nil {
		return nil, err
	}

	if cfg.userAgent != "" {
		transport.UserAgent = cfg.userAgent
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport.Logger = logger.Named("transport")
	if cfg.rateLimit > 0 {
		burst := max(cfg.rateBurst, 1)
		transport.Limiter = rate.NewLimiter(rate.Limit(cfg.rateLimit), burst)
	}

	base := &service{
		transport: transport,
		instance:  fmt.Sprintf("projects/%s/locations/%s/instances/%s", cfg.projectID, location, cfg.customerID),
		logger:    logger,
		poll:      cfg.poll,
	}

	client := &Client{
		transport: transport,
		instance:  base.instance,
	}

	// Initialize services
	client.Search = newSearchService(base)
	client.Rules = newRuleService(base)
	client.Alerts = newAlertService(base)
	client.Entities = newEntityService(base)
	client.IoCs = newIoCService(base)
	client.Cases = newCaseService(base)
	client.DataTables = newDataTableService(base)
	client.ReferenceLists = newReferenceListService(base)
	client.Exports = newDataExportService(base)
	client.Logs = newLogService(base, cfg.logTypes)

	return client, nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.transport.BaseURL.String()
}

// Instance returns the instance resource name requests are scoped to.
func (c *Client) Instance() string {
	return c.instance
}

// regionEndpoint maps a region to its API base URL and resource location.
func regionEndpoint(region string) (baseURL, location string) {
	switch region {
	case "dev":
		return "https://dev-chronicle.sandbox.googleapis.com/v1alpha", "us"
	case "staging":
		return "https://staging-chronicle.sandbox.googleapis.com/v1alpha", "us"
	default:
		return fmt.Sprintf("https://%s-chronicle.googleapis.com/v1alpha", region), region
	}
}

// service carries what every endpoint family needs.
type service struct {
	transport *api.Transport
	instance  string
	logger    *zap.Logger
	poll      PollConfig
}

// path joins parts under the instance resource name.
func (s *service) path(parts ...string) string {
	if len(parts) == 0 {
		return s.instance
	}
	return s.instance + "/" + strings.Join(parts, "/")
}

// verb addresses a custom method on the instance, e.g. "instance:udmSearch".
func (s *service) verb(name string) string {
	return s.instance + ":" + name
}

// call performs a request, maps non-2xx statuses to typed errors and
// decodes a JSON body into result when result is non-nil.
func (s *service) call(ctx context.Context, method, path string, query url.Values, body, result any, opts []RequestOption) error {
	_, err := s.callRaw(ctx, method, path, query, body, result, opts)
	return err
}

func (s *service) callRaw(ctx context.Context, method, path string, query url.Values, body, result any, opts []RequestOption) (*api.Response, error) {
	reqCfg := newRequestConfig()
	reqCfg.apply(opts...)

	resp, err := s.transport.DoJSON(ctx, &api.Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Body:    body,
		Headers: reqCfg.headers,
	}, result)

	if err != nil {
		if resp != nil {
			return resp, &ParseError{
				APIError: APIError{StatusCode: resp.StatusCode, Message: "invalid JSON body", RequestID: resp.RequestID},
				Err:      errors.Unwrap(err),
			}
		}
		return nil, err
	}

	if !resp.OK() {
		return resp, responseError(resp)
	}
	return resp, nil
}

// responseError converts a failed response, filling in the request id we
// sent when the server did not echo one.
func responseError(resp *api.Response) error {
	err := parseError(resp.StatusCode, resp.Body, resp.Headers)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RequestID == "" {
		apiErr.RequestID = resp.RequestID
	}
	return err
}

// notFound rewrites a 404 into a NotFoundError naming the resource.
func notFound(err error, resourceType, id string) error {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		nf.ResourceType = resourceType
		nf.ResourceID = id
	}
	return err
}

// poller builds a poller from the client default merged with override.
func (s *service) poller(override *PollConfig) (*poller, error) {
	cfg := s.poll
	if override != nil {
		cfg = cfg.merge(*override)
	}
	return newPoller(cfg, s.logger.Named("poll"))
}

// validateID checks that a resource ID is not empty.
func validateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalidInput(kind, "ID cannot be empty")
	}
	return nil
}

// lastSegment returns the final component of a resource name.
func lastSegment(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
