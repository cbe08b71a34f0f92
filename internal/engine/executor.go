package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"reflect"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/events"
	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/google/uuid"
)

// TokenSource supplies credentials. [auth.Authority] implements it for every capability.
//
// rejected is nil for an ordinary lookup, or the credential the server answered 401 to.
type TokenSource interface {
	Credential(ctx context.Context, rejected *auth.Credential) (*auth.Credential, error)
}

// Interceptor adjusts an outgoing request after credentials and headers are attached.
// Interceptors must leave the Authorization header in place.
type Interceptor func(req *http.Request) error

// Debug gates request logging and performance measurement.
type Debug struct {
	Enabled   bool
	LogBodies bool // include request and response bodies in debug logs
}

// Options configures an [Executor].
type Options struct {
	BaseURL      string
	Transport    Transport
	Tokens       TokenSource
	Policy       RetryPolicy
	Headers      map[string]string
	Interceptors []Interceptor
	Offline      bool
	Debug        Debug
	Events       events.Publisher
	Logger       *log.Logger
	Registry     *Registry // may be shared; calls only collapse within the same base URL and token source
}

// Executor performs logical calls: credential, attempt with recovery, one forced refresh on 401.
type Executor struct {
	baseURL      string
	transport    Transport
	tokens       TokenSource
	recovery     *Recovery
	registry     *Registry
	scope        string
	headers      map[string]string
	interceptors []Interceptor
	offline      bool
	debug        Debug
	events       events.Publisher
	logger       *log.Logger
	metrics      *Metrics
}

// NewExecutor validates opts and builds an executor.
func NewExecutor(opts Options) (*Executor, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", shared.ErrInvalidConfig)
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("%w: transport is required", shared.ErrInvalidConfig)
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("%w: token source is required", shared.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}

	logger := shared.WithLogger(opts.Logger, "component", "engine")
	return &Executor{
		baseURL:      opts.BaseURL,
		transport:    opts.Transport,
		tokens:       opts.Tokens,
		recovery:     NewRecovery(opts.Policy, opts.Events, logger),
		registry:     opts.Registry,
		scope:        scopeOf(opts.BaseURL, opts.Tokens),
		headers:      maps.Clone(opts.Headers),
		interceptors: append([]Interceptor(nil), opts.Interceptors...),
		offline:      opts.Offline,
		debug:        opts.Debug,
		events:       opts.Events,
		logger:       logger,
		metrics:      &Metrics{},
	}, nil
}

// scopeOf prefixes registry keys so executors sharing a registry never hand one identity's
// response to another. Token sources that are not pointers get a scope of their own.
func scopeOf(baseURL string, tokens TokenSource) string {
	if v := reflect.ValueOf(tokens); v.Kind() == reflect.Pointer {
		return fmt.Sprintf("%s|%T|%x", baseURL, tokens, v.Pointer())
	}
	return baseURL + "|" + uuid.NewString()
}

// Metrics returns the accumulated performance totals. They only grow while debugging is enabled.
func (e *Executor) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// Do performs req and returns its 2xx response. Any other outcome is an error:
// [*shared.HTTPError], [*shared.NetworkError], [*shared.AuthError], [shared.ErrOffline] or the
// caller's context error.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	if e.offline {
		return nil, fmt.Errorf("%w: %s %s", shared.ErrOffline, req.method(), req.Path)
	}

	body, err := req.encodeBody()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *Response
	var joined bool
	if req.Shared {
		resp, joined, err = e.registry.Do(ctx, e.scope+"\n"+req.fingerprint(body), func(ctx context.Context) (*Response, error) {
			return e.execute(ctx, req, body)
		})
	} else {
		resp, err = e.execute(ctx, req, body)
	}

	if e.debug.Enabled {
		e.measure(req, resp, err, time.Since(start), joined)
	}
	return resp, err
}

// Perform runs req and decodes the JSON response into R. Only [NoContent] skips decoding; any
// other R fails on an empty body.
func Perform[R any](ctx context.Context, e *Executor, req Request) (R, error) {
	var out R
	resp, err := e.Do(ctx, req)
	if err != nil {
		return out, err
	}
	if _, ok := any(out).(NoContent); ok {
		return out, nil
	}
	if len(resp.Body) == 0 {
		return out, fmt.Errorf("%w: empty %d response from %s", shared.ErrAPIRequest, resp.StatusCode, req.Path)
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, fmt.Errorf("failed to decode response from %s: %w", req.Path, err)
	}
	return out, nil
}

// execute is one logical call without deduplication.
func (e *Executor) execute(ctx context.Context, req Request, body []byte) (*Response, error) {
	cred, err := e.tokens.Credential(ctx, nil)
	if err != nil {
		return nil, err
	}

	var state RetryState
	resp, err := e.attempt(ctx, req, body, cred, &state)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		e.logger.Debug("credential rejected, forcing refresh", "path", req.Path)
		cred, err = e.tokens.Credential(ctx, cred)
		if err != nil {
			return nil, err
		}
		if resp, err = e.attempt(ctx, req, body, cred, &state); err != nil {
			return nil, err
		}
	}

	if !resp.OK() {
		return nil, &shared.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Header:     resp.Header,
			Retry:      resp.Retry,
		}
	}
	return resp, nil
}

func (e *Executor) attempt(ctx context.Context, req Request, body []byte, cred *auth.Credential, state *RetryState) (*Response, error) {
	return e.recovery.Run(ctx, req.Path, state, func(ctx context.Context) (*Response, error) {
		httpReq, err := e.build(ctx, req, body, cred)
		if err != nil {
			return nil, err
		}

		var id string
		if e.debug.Enabled {
			id = uuid.NewString()
			e.logRequest(id, httpReq, body)
		}

		resp, err := e.transport.Send(ctx, httpReq)
		if e.debug.Enabled {
			e.logResponse(id, resp, err)
		}
		return resp, err
	})
}

// build creates the wire request: credential, configured headers, then interceptors in order.
func (e *Executor) build(ctx context.Context, req Request, body []byte, cred *auth.Credential) (*http.Request, error) {
	httpReq, err := req.newHTTPRequest(ctx, e.baseURL, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Authorization", cred.Authorization())
	for k, v := range e.headers {
		httpReq.Header.Set(k, v)
	}
	for _, intercept := range e.interceptors {
		if err := intercept(httpReq); err != nil {
			return nil, fmt.Errorf("%w: interceptor rejected request: %v", shared.ErrInvalidRequest, err)
		}
	}
	return httpReq, nil
}

func (e *Executor) logRequest(id string, req *http.Request, body []byte) {
	kv := []any{"id", id, "method", req.Method, "url", req.URL.Redacted()}
	if e.debug.LogBodies && len(body) > 0 {
		kv = append(kv, "body", string(body))
	}
	e.logger.Debug("request", kv...)
}

func (e *Executor) logResponse(id string, resp *Response, err error) {
	if err != nil {
		e.logger.Debug("response", "id", id, "error", err)
		return
	}
	kv := []any{"id", id, "status", resp.StatusCode, "bytes", len(resp.Body)}
	if e.debug.LogBodies && len(resp.Body) > 0 {
		kv = append(kv, "body", string(resp.Body))
	}
	e.logger.Debug("response", kv...)
}

func (e *Executor) measure(req Request, resp *Response, err error, latency time.Duration, joined bool) {
	sample := events.Metrics{
		Method:  req.method(),
		Path:    req.Path,
		Latency: latency,
		Shared:  joined,
	}

	var httpErr *shared.HTTPError
	var netErr *shared.NetworkError
	switch {
	case resp != nil:
		sample.StatusCode = resp.StatusCode
		sample.Attempts = resp.Retry.Attempts
		sample.Retries = resp.Retry.Retries + resp.Retry.RateLimitAttempts
	case errors.As(err, &httpErr):
		sample.StatusCode = httpErr.StatusCode
		sample.Attempts = httpErr.Retry.Attempts
		sample.Retries = httpErr.Retry.Retries + httpErr.Retry.RateLimitAttempts
	case errors.As(err, &netErr):
		sample.Attempts = netErr.Attempts
		sample.Retries = max(netErr.Attempts-1, 0)
	}

	e.metrics.Record(sample, err != nil)
	e.logger.Debug("performance", "method", sample.Method, "path", sample.Path, "status", sample.StatusCode,
		"latency", latency, "attempts", sample.Attempts, "shared", joined)
	if e.events != nil {
		e.events.Publish(events.Event{Kind: events.Performance, Source: "engine", Metrics: &sample})
	}
}
