package remote

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

	"genfetch/internal/config"
	"genfetch/internal/services"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryAttempts  = 4
	defaultPollInterval   = time.Second
	maxErrorBodyBytes     = 4 << 10
)

// Config captures the runtime settings required to talk to the service.
type Config struct {
	BaseURL        string
	APIKey         string
	TimeoutSeconds int
}

// ConfigFromApp extracts remote settings from application config.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		BaseURL:        cfg.Remote.BaseURL,
		APIKey:         cfg.Remote.APIKey,
		TimeoutSeconds: cfg.Remote.RequestTimeoutSeconds,
	}
}

// Client talks to the generation service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	// requestTimeout bounds each JSON call. Artifact fetches are bounded
	// only by the caller's context.
	requestTimeout time.Duration

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	pollInterval     time.Duration
	sleeper          func(time.Duration)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client, normally with the shared
// transport pool client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithPollInterval sets how long ResolveDownloadURL waits between status polls.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg: Config{
			BaseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
			APIKey:         strings.TrimSpace(cfg.APIKey),
			TimeoutSeconds: cfg.TimeoutSeconds,
		},
		requestTimeout:   timeout,
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
		pollInterval:     defaultPollInterval,
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.httpClient == nil {
		client.httpClient = defaultHTTPClient(timeout)
	}
	return client
}

// defaultHTTPClient has no overall Timeout: http.Client.Timeout would also
// cut off slow artifact bodies. A stalled server is caught by the response
// header timeout instead.
func defaultHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// NewFromConfig builds a client from application config. Extra options are
// applied after the config-derived ones.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	base := []Option{
		WithRetryMaxAttempts(cfg.Remote.RetryAttempts),
		WithPollInterval(cfg.PollInterval()),
	}
	return NewClient(ConfigFromApp(cfg), append(base, opts...)...)
}

// HealthCheck issues a single unretried ping.
func (c *Client) HealthCheck(ctx context.Context) error {
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "v1/health", nil, &parsed); err != nil {
		return fmt.Errorf("remote health: %w", err)
	}
	if !parsed.OK {
		return errors.New("remote health: service reported not ok")
	}
	return nil
}

// Quote requests a cost estimate. A refusal is returned as *Rejection.
func (c *Client) Quote(ctx context.Context, req Request) (Quote, error) {
	var quote Quote
	err := c.withRetry(ctx, "remote quote", func() error {
		return c.doJSON(ctx, http.MethodPost, "v1/quote", req, &quote)
	})
	if err != nil {
		if rejection := asRejection(err); rejection != nil {
			return Quote{}, rejection
		}
		return Quote{}, err
	}
	if quote.Points < 0 {
		return Quote{}, fmt.Errorf("remote quote: negative cost %d", quote.Points)
	}
	return quote, nil
}

// Upload stores a reference payload. Uploads are not retried because the
// body stream cannot be replayed.
func (c *Client) Upload(ctx context.Context, name string, body io.Reader) (Upload, error) {
	endpoint, err := c.endpoint("v1/uploads")
	if err != nil {
		return Upload{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Upload{}, fmt.Errorf("remote upload: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Filename", name)
	var upload Upload
	if err := c.send(req, &upload); err != nil {
		return Upload{}, fmt.Errorf("remote upload %s: %w", name, err)
	}
	if upload.AssetID == "" {
		return Upload{}, fmt.Errorf("remote upload %s: empty asset id", name)
	}
	return upload, nil
}

// ReleaseUpload deletes a stored reference payload. Unknown ids are ignored.
func (c *Client) ReleaseUpload(ctx context.Context, assetID string) error {
	err := c.withRetry(ctx, "remote release upload", func() error {
		return c.doJSON(ctx, http.MethodDelete, "v1/uploads/"+url.PathEscape(assetID), nil, nil)
	})
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Generate submits a generation request. It is retried only on responses
// that guarantee the request was not processed (429 and 503).
func (c *Client) Generate(ctx context.Context, req Request) (GenerateResult, error) {
	var result GenerateResult
	attempts := c.retryAttempts()
	for attempt := 1; ; attempt++ {
		err := c.doJSON(ctx, http.MethodPost, "v1/generate", req, &result)
		if err == nil {
			return result, nil
		}
		if rejection := asRejection(err); rejection != nil {
			return GenerateResult{Rejection: rejection}, nil
		}
		var statusErr *httpStatusError
		if !errors.As(err, &statusErr) ||
			(statusErr.StatusCode != http.StatusTooManyRequests && statusErr.StatusCode != http.StatusServiceUnavailable) {
			return GenerateResult{}, fmt.Errorf("remote generate: %w", err)
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return GenerateResult{}, fmt.Errorf("remote generate: failed after %d attempts: %w", attempt, err)
		}
		if err := c.sleep(ctx, delay); err != nil {
			return GenerateResult{}, err
		}
	}
}

// ResolveDownloadURL polls the job until it is ready, failed, or ctx ends.
// Deadline expiry surfaces as context.DeadlineExceeded so callers can tell
// a timeout from a hard failure. Persistent transport errors end the poll
// after the retry budget is spent and wrap services.ErrTransient; only a
// *JobError means the job will never be delivered.
func (c *Client) ResolveDownloadURL(ctx context.Context, jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("resolve download url: job id required")
	}
	attempts := c.retryAttempts()
	failures := 0
	for {
		var status jobStatus
		err := c.doJSON(ctx, http.MethodGet, "v1/jobs/"+url.PathEscape(jobID)+"/result", nil, &status)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) && (statusErr.StatusCode == http.StatusNotFound || statusErr.StatusCode == http.StatusGone) {
				return "", &JobError{JobID: jobID, NotFound: true}
			}
			failures++
			delay, retry := c.retryDelay(ctx, err, failures, attempts)
			if !retry {
				return "", services.Wrap(services.ErrTransient, "remote", "resolve download url",
					fmt.Sprintf("job %s after %d failure(s)", jobID, failures), err)
			}
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
			continue
		}
		failures = 0

		switch strings.ToLower(strings.TrimSpace(status.Status)) {
		case "ready", "succeeded", "done":
			if strings.TrimSpace(status.URL) == "" {
				return "", &JobError{JobID: jobID, Message: "ready without download url"}
			}
			return strings.TrimSpace(status.URL), nil
		case "failed", "error", "canceled":
			return "", &JobError{JobID: jobID, Message: status.Message}
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}
}

// Fetch opens the artifact at a resolved download URL. The caller closes the body.
func (c *Client) Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("fetch artifact: %w", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}
	return resp.Body, nil
}

func (c *Client) endpoint(path string) (string, error) {
	endpoint, err := url.JoinPath(c.cfg.BaseURL, path)
	if err != nil {
		return "", fmt.Errorf("remote request: build url: %w", err)
	}
	return endpoint, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	endpoint, err := c.endpoint(path)
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("remote request: encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("remote request: new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return &httpStatusError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
			RetryAfter: retryAfter,
		}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote request: decode response: %w", err)
	}
	return nil
}

// asRejection decodes a 4xx refusal body. Only 400, 402, 403 and 422 carry
// rejections; other statuses are transport conditions.
func asRejection(err error) *Rejection {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return nil
	}
	switch statusErr.StatusCode {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusForbidden, http.StatusUnprocessableEntity:
	default:
		return nil
	}
	rejection := &Rejection{Code: CodeUnknown}
	if err := json.Unmarshal([]byte(statusErr.Body), rejection); err != nil || rejection.Code == "" {
		rejection.Code = CodeUnknown
		if len(rejection.Messages) == 0 && statusErr.Body != "" {
			rejection.Messages = []string{statusErr.Body}
		}
	}
	if statusErr.StatusCode == http.StatusPaymentRequired && rejection.Code == CodeUnknown {
		rejection.Code = CodeInsufficientPoints
	}
	return rejection
}
