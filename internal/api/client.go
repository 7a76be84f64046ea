// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the chat backend.
//
// The backend exposes three routes relative to its base URL:
//
//	GET  basepath   application base path
//	POST ask        one-shot answer, JSON body
//	POST chat       streamed answer, newline-delimited JSON chunks
//
// Requests carry "Authorization: Bearer <id token>" when a token is set.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/model"
)

// Configuration constants for the backend client.
const (
	// DefaultBaseURL is where the backend listens when run locally.
	DefaultBaseURL = "http://localhost:50505"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of attempts for transient failures.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize is the largest non-streaming body accepted.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "citechat/1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedTransport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	sharedHTTPClient = &http.Client{Transport: sharedTransport, Timeout: DefaultTimeout}

	// sharedStreamingClient has no timeout; streams are bounded by the context.
	sharedStreamingClient = &http.Client{Transport: sharedTransport}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the chat backend.
type Client struct {
	baseURL    string
	idToken    string
	http       *http.Client
	streaming  *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *zap.Logger
	resolver   *citation.Resolver
	backoff    func(attempt int) time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithIDToken sets the bearer token forwarded on every request.
func WithIDToken(token string) Option {
	return func(c *Client) { c.idToken = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
			c.streaming = h
		}
	}
}

// WithTimeout bounds non-streaming requests. Streams stay bounded by their
// context only.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Transport: sharedTransport, Timeout: d}
		}
	}
}

// WithRateLimit limits outgoing requests to rps per second with the given burst.
// A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithMaxRetries sets the number of attempts for retryable failures.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxRetries = n
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the backend at baseURL.
// An empty baseURL uses DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    baseURL,
		http:       sharedHTTPClient,
		streaming:  sharedStreamingClient,
		maxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
		backoff:    calculateBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resolver = citation.NewResolver(c.baseURL)
	return c
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Resolver returns the citation resolver bound to the backend.
func (c *Client) Resolver() *citation.Resolver {
	return c.resolver
}

// CitationPath returns the content path for a citation label.
func (c *Client) CitationPath(label string) string {
	return c.resolver.Path(label)
}

// HasToken reports whether an ID token is configured.
func (c *Client) HasToken() bool {
	return c.idToken != ""
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// BasePath fetches the application base path.
func (c *Client) BasePath(ctx context.Context) (model.BasePath, error) {
	var out model.BasePath

	req, err := c.newRequest(ctx, http.MethodGet, "basepath", nil)
	if err != nil {
		return out, err
	}

	resp, err := c.do(ctx, c.http, req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return out, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("base path response was not ok: %d", resp.StatusCode)}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to parse base path: %w", err)
	}
	return out, nil
}

// Ask requests a complete answer from the ask route.
// Transient failures (429, 5xx) are retried with exponential backoff.
func (c *Client) Ask(ctx context.Context, req model.ChatAppRequest) (model.ChatAppResponse, error) {
	req.Stream = false
	return c.postWithRetry(ctx, "ask", req)
}

// ChatComplete requests a complete, non-streamed answer from the chat route.
func (c *Client) ChatComplete(ctx context.Context, req model.ChatAppRequest) (model.ChatAppResponse, error) {
	req.Stream = false
	return c.postWithRetry(ctx, "chat", req)
}

func (c *Client) postWithRetry(ctx context.Context, path string, body model.ChatAppRequest) (model.ChatAppResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt)
			c.logger.Debug("retrying request",
				zap.String("path", path),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return model.ChatAppResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.post(ctx, path, body)
		if err == nil {
			return resp, nil
		}
		if !isRetryable(err) {
			return model.ChatAppResponse{}, err
		}
		lastErr = err
	}

	return model.ChatAppResponse{}, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post performs a single JSON request and decodes a complete answer.
func (c *Client) post(ctx context.Context, path string, body model.ChatAppRequest) (model.ChatAppResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return model.ChatAppResponse{}, err
	}

	resp, err := c.do(ctx, c.http, req)
	if err != nil {
		return model.ChatAppResponse{}, err
	}
	defer resp.Body.Close()

	data, err := readResponse(resp)
	if err != nil {
		return model.ChatAppResponse{}, err
	}

	if resp.StatusCode > 299 {
		return model.ChatAppResponse{}, errorFromBody(resp.StatusCode, data)
	}

	var parsed model.ChatAppResponseOrError
	if err := json.Unmarshal(data, &parsed); err != nil {
		return model.ChatAppResponse{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != "" {
		return model.ChatAppResponse{}, &APIError{Status: resp.StatusCode, Message: parsed.Error}
	}
	return parsed.ChatAppResponse, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// newRequest builds a request for a route relative to the base URL.
func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimLeft(path, "/"), reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	return req, nil
}

// setHeaders sets content type, user agent and the bearer token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.idToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.idToken)
	}
}

// do waits for the rate limiter, sends req and logs the outcome.
func (c *Client) do(ctx context.Context, hc *http.Client, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("backend request failed",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Error(err))
		return nil, fmt.Errorf("request failed: %w", err)
	}

	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// readResponse reads a body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// errorFromBody builds an APIError from an error response body.
// The message comes from the body's "error" field, or "Unknown error".
func errorFromBody(status int, body []byte) error {
	var parsed struct {
		Error string `json:"error"`
	}
	msg := "Unknown error"
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &APIError{Status: status, Message: msg}
}

// isRetryable reports whether err is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || (apiErr.Status >= 500 && apiErr.Status < 600)
	}
	return false
}

// calculateBackoff returns the delay before the given attempt: 1s, 2s, 4s ...
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
