// Package deskapi is the only component that talks to the issue tracker's
// HTTP API. Every call goes through Client.Request, which attaches the bearer
// credential and normalizes failures into *Error.
package deskapi

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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/roeyazroel/issuedesk/internal/logger"
)

const (
	// DefaultBaseURL is the API server used when none is configured.
	DefaultBaseURL = "http://localhost:3001"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 10 * 1024 * 1024
)

// TokenSource returns the current bearer token, or "" when logged out.
type TokenSource func() string

// ClientConfig contains configuration for creating a new API client.
type ClientConfig struct {
	// BaseURL is the API server root; paths like /api/issues are appended.
	BaseURL string
	// Token supplies the bearer credential for each request.
	Token TokenSource
	// HTTPClient is an optional custom HTTP client (useful for testing).
	HTTPClient *http.Client
	// Timeout is the HTTP request timeout (defaults to 30s).
	Timeout time.Duration
	// Retries is how many times a GET is retried after a transport failure.
	Retries int
	// RetryInterval is the initial backoff between retries (defaults to 200ms).
	RetryInterval time.Duration
}

// Client is a client for the issue tracker REST API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         TokenSource
	retries       int
	retryInterval time.Duration
	metrics       *metrics
}

// NewClient creates a new API client with the provided configuration.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	token := cfg.Token
	if token == nil {
		token = func() string { return "" }
	}

	var httpClient *http.Client
	if cfg.HTTPClient != nil {
		// Use provided HTTP client but wrap its transport with auth
		base := cfg.HTTPClient.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		httpClient = &http.Client{
			Timeout:   cfg.HTTPClient.Timeout,
			Transport: &authTransport{Token: token, Base: base},
		}
	} else {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: &authTransport{Token: token, Base: http.DefaultTransport},
		}
	}

	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 200 * time.Millisecond
	}

	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		token:         token,
		retries:       cfg.Retries,
		retryInterval: retryInterval,
		metrics:       newMetrics(),
	}
}

// authTransport adds the bearer credential and a request id to requests.
type authTransport struct {
	Token TokenSource
	Base  http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	req = req.Clone(req.Context())
	if token := t.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.NewString())
	}
	if t.Base == nil {
		return http.DefaultTransport.RoundTrip(req)
	}
	return t.Base.RoundTrip(req)
}

// BaseURL returns the API root being used.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request performs method on path, JSON-encoding body when non-nil and
// decoding a successful response into out when non-nil. Failures are always
// returned as *Error.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindTransport, Message: fmt.Sprintf("Request failed: encode body: %v", err), Err: err}
		}
		payload = b
	}

	ctx, finish := c.metrics.start(ctx, method, path)
	var status int
	var respBody []byte

	attempt := func() error {
		var err error
		status, respBody, err = c.do(ctx, method, path, payload)
		if err == nil {
			return nil
		}
		// Only idempotent reads that never reached the server are retried.
		if method != http.MethodGet || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		logger.Warning("deskapi: transient failure method=%s path=%s error=%v", method, path, err)
		return err
	}

	var err error
	if c.retries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.retryInterval
		err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx))
	} else {
		err = attempt()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}
	if err != nil {
		apiErr := transportError(err)
		finish(0, apiErr)
		logger.ErrorWithErr(err, "deskapi: request failed method=%s path=%s", method, path)
		return apiErr
	}

	if status < 200 || status >= 300 {
		apiErr := statusError(status, errorMessage(respBody))
		finish(status, apiErr)
		logger.Debug("deskapi: request rejected method=%s path=%s status=%d message=%q", method, path, status, apiErr.Message)
		return apiErr
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			apiErr := &Error{Kind: KindTransport, Status: status, Message: fmt.Sprintf("Request failed: decode response: %v", err), Err: err}
			finish(status, apiErr)
			logger.ErrorWithErr(err, "deskapi: decode failed method=%s path=%s", method, path)
			return apiErr
		}
	}

	finish(status, nil)
	return nil
}

// do sends one HTTP request and reads the full response body.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) (int, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// errorMessage extracts the optional human-readable message from an error body.
func errorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Message)
}

// withQuery appends non-empty params to path.
func withQuery(path string, params map[string]string) string {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return path
	}
	return path + "?" + values.Encode()
}

func idPath(prefix, id string) string {
	return prefix + "/" + url.PathEscape(id)
}
