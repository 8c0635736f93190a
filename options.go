package chronicle

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	baseURL    string
	region     string
	projectID  string
	customerID string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     *zap.Logger
	rateLimit  float64
	rateBurst  int
	poll       PollConfig
	logTypes   LogTypeValidator
}

// WithBaseURL overrides the API base URL derived from the region.
func WithBaseURL(url string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = url
	}
}

// WithRegion sets the Chronicle region, e.g. "us", "europe" or "dev".
func WithRegion(region string) ClientOption {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithProject sets the Google Cloud project and Chronicle customer IDs.
func WithProject(projectID, customerID string) ClientOption {
	return func(c *clientConfig) {
		c.projectID = projectID
		c.customerID = customerID
	}
}

// WithToken sets the OAuth bearer token used on every request.
func WithToken(token string) ClientOption {
	return func(c *clientConfig) {
		c.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets the default request timeout.
// Note: This option is ignored when WithHTTPClient is used;
// set the timeout directly on the provided client instead.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *clientConfig) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for request and polling diagnostics.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithRateLimit throttles outgoing requests to rps requests per second with
// the given burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *clientConfig) {
		c.rateLimit = rps
		c.rateBurst = burst
	}
}

// WithPollConfig sets the default polling budget for long-running calls.
// Zero fields keep their defaults; NoAttemptLimit lifts the attempt cap.
func WithPollConfig(cfg PollConfig) ClientOption {
	return func(c *clientConfig) {
		c.poll = c.poll.merge(cfg)
	}
}

// WithLogTypeValidator sets the catalog used to check log types before
// ingestion.
func WithLogTypeValidator(v LogTypeValidator) ClientOption {
	return func(c *clientConfig) {
		c.logTypes = v
	}
}

// RequestOption configures individual API requests.
type RequestOption func(*requestConfig)

type requestConfig struct {
	headers http.Header
}

func newRequestConfig() *requestConfig {
	return &requestConfig{
		headers: make(http.Header),
	}
}

func (r *requestConfig) apply(opts ...RequestOption) {
	for _, opt := range opts {
		opt(r)
	}
}

// WithHeader adds a custom header to a request.
func WithHeader(key, value string) RequestOption {
	return func(r *requestConfig) {
		r.headers.Set(key, value)
	}
}

// WithHeaders adds multiple custom headers to a request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *requestConfig) {
		for k, v := range headers {
			r.headers.Set(k, v)
		}
	}
}

// WithRequestID sets the X-Request-ID header for tracing.
func WithRequestID(id string) RequestOption {
	return WithHeader("X-Request-ID", id)
}
