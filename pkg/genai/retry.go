// Copyright 2024-2026 Aiku AI

package genai

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

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"
)

var (
	// ErrRequestFailed is returned for transport failures and any non-429
	// error status. These are never retried.
	ErrRequestFailed = errors.New("generative request failed")
	// ErrRateLimitExhausted is returned when every attempt was rate limited.
	ErrRateLimitExhausted = errors.New("generative rate limit retries exhausted")
)

// APIError describes a failed generative call. errors.Is matches both its
// kind (ErrRequestFailed or ErrRateLimitExhausted) and the underlying error.
type APIError struct {
	Kind       error
	StatusCode int
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&sb, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PayloadKind selects the per-attempt timeout.
type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadImage
)

type payloadKindKey struct{}

// WithPayloadKind marks requests made with ctx as carrying kind.
func WithPayloadKind(ctx context.Context, kind PayloadKind) context.Context {
	return context.WithValue(ctx, payloadKindKey{}, kind)
}

func payloadKindFrom(ctx context.Context) PayloadKind {
	kind, _ := ctx.Value(payloadKindKey{}).(PayloadKind)
	return kind
}

// RetryConfig configures the retry discipline.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	// MaxTotalWait bounds the whole call including waits. Zero means no bound.
	MaxTotalWait time.Duration `yaml:"max_total_wait"`
	TextTimeout  time.Duration `yaml:"text_timeout"`
	ImageTimeout time.Duration `yaml:"image_timeout"`
}

// DefaultRetryConfig returns 5 attempts with 2s, 4s, 8s, 16s waits and
// 30s/45s per-attempt timeouts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		BaseDelay:    2 * time.Second,
		TextTimeout:  30 * time.Second,
		ImageTimeout: 45 * time.Second,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.TextTimeout <= 0 {
		c.TextTimeout = def.TextTimeout
	}
	if c.ImageTimeout <= 0 {
		c.ImageTimeout = def.ImageTimeout
	}
	return c
}

// maxResponseSize caps how much of a response body is buffered.
const maxResponseSize = 8 << 20

// Response is a buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RetryingClient performs generative API calls with exponential backoff on
// HTTP 429. It implements go-openai's HTTPDoer.
type RetryingClient struct {
	http    *http.Client
	cfg     RetryConfig
	headers http.Header
	onWait  func(attempt int, delay time.Duration)
	policy  retrypolicy.RetryPolicy[*http.Response]
	log     zerolog.Logger
}

// RetryOption customizes a RetryingClient.
type RetryOption func(*RetryingClient)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) RetryOption {
	return func(rc *RetryingClient) {
		if c != nil {
			rc.http = c
		}
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) RetryOption {
	return func(rc *RetryingClient) {
		rc.headers.Set(key, value)
	}
}

// WithWaitHook registers a callback invoked before every backoff wait.
func WithWaitHook(fn func(attempt int, delay time.Duration)) RetryOption {
	return func(rc *RetryingClient) {
		rc.onWait = fn
	}
}

// NewRetryingClient creates a RetryingClient.
func NewRetryingClient(cfg RetryConfig, log zerolog.Logger, opts ...RetryOption) *RetryingClient {
	rc := &RetryingClient{
		http:    &http.Client{},
		cfg:     cfg.withDefaults(),
		headers: make(http.Header),
		log:     log.With().Str("component", "genai_client").Logger(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.policy = rc.newRetryPolicy()
	return rc
}

func (c *RetryingClient) newRetryPolicy() retrypolicy.RetryPolicy[*http.Response] {
	maxDelay := c.cfg.BaseDelay
	for i := 0; i < c.cfg.MaxAttempts-2; i++ {
		maxDelay *= 2
	}
	builder := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			return err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests
		}).
		WithMaxAttempts(c.cfg.MaxAttempts).
		WithBackoff(c.cfg.BaseDelay, maxDelay).
		ReturnLastFailure().
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[*http.Response]) {
			retriesTotal.Inc()
			c.log.Warn().
				Int("attempt", e.Attempts()).
				Dur("delay", e.Delay).
				Msg("Rate limited by generative API, backing off")
			if c.onWait != nil {
				c.onWait(e.Attempts(), e.Delay)
			}
		})
	if c.cfg.MaxTotalWait > 0 {
		builder = builder.WithMaxDuration(c.cfg.MaxTotalWait)
	}
	return builder.Build()
}

func (c *RetryingClient) timeoutFor(kind PayloadKind) time.Duration {
	if kind == PayloadImage {
		return c.cfg.ImageTimeout
	}
	return c.cfg.TextTimeout
}

// Do executes req with the retry discipline. Rate-limit exhaustion and
// transport failures are returned as *APIError; any other status is
// returned as a normal response for the caller to interpret.
func (c *RetryingClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	timeout := c.timeoutFor(payloadKindFrom(ctx))
	start := time.Now()

	var attempts int
	resp, err := failsafe.With(c.policy).WithContext(ctx).Get(func() (*http.Response, error) {
		attempts++
		return c.attempt(ctx, req, timeout)
	})

	log := c.log.With().
		Str("url", req.URL.Redacted()).
		Int("attempts", attempts).
		Dur("elapsed", time.Since(start)).
		Logger()
	switch {
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		requestsTotal.WithLabelValues("rate_limited").Inc()
		log.Error().Msg("Generative API rate limit retries exhausted")
		return nil, &APIError{Kind: ErrRateLimitExhausted, StatusCode: resp.StatusCode, Attempts: attempts}
	case err != nil:
		if resp != nil {
			_ = resp.Body.Close()
		}
		requestsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("Generative API request failed")
		return nil, &APIError{Kind: ErrRequestFailed, Attempts: attempts, Err: err}
	}
	requestsTotal.WithLabelValues(statusLabel(resp.StatusCode)).Inc()
	log.Debug().Int("status", resp.StatusCode).Msg("Generative API request finished")
	return resp, nil
}

// attempt performs one HTTP round trip and buffers the body so the
// per-attempt context can be released.
func (c *RetryingClient) attempt(ctx context.Context, req *http.Request, timeout time.Duration) (*http.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r := req.Clone(attemptCtx)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		r.Body = body
	}
	for key, values := range c.headers {
		r.Header[key] = values
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return nil, err
	}
	orig := resp.Body
	defer orig.Close()
	data, err := io.ReadAll(io.LimitReader(orig, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	resp.ContentLength = int64(len(data))
	return resp, nil
}

// Call POSTs payload as JSON to endpoint. Any status outside 2xx is an
// *APIError wrapping ErrRequestFailed, except exhausted 429s which wrap
// ErrRateLimitExhausted.
func (c *RetryingClient) Call(ctx context.Context, endpoint string, payload any, kind PayloadKind) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &APIError{Kind: ErrRequestFailed, Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(WithPayloadKind(ctx, kind), http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &APIError{Kind: ErrRequestFailed, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: errors.New(snippet(data))}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func statusLabel(code int) string {
	if code >= 200 && code <= 299 {
		return "ok"
	}
	return "failed"
}

// snippet shortens an error body for messages.
func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
