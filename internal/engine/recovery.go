package engine

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotcore/internal/events"
	"github.com/desertthunder/spotcore/internal/shared"
)

// RetryPolicy bounds the retries of one logical call.
type RetryPolicy struct {
	MaxRetries           int // retries after the first attempt
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	RetryableStatusCodes []int
	RetryableErrors      func(error) bool

	// 429 responses draw on their own budget and wait for Retry-After.
	MaxRateLimitRetries int
	DefaultRetryAfter   time.Duration
}

// DefaultRetryPolicy returns 3 retries between 1s and 30s on 5xx gateway failures and one
// rate-limit retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:           3,
		BaseDelay:            time.Second,
		MaxDelay:             30 * time.Second,
		RetryableStatusCodes: []int{500, 502, 503, 504},
		RetryableErrors:      IsTransient,
		MaxRateLimitRetries:  1,
		DefaultRetryAfter:    5 * time.Second,
	}
}

// PolicyFromConfig maps the [engine] TOML section onto a policy. Retry counts are taken as given,
// so zero disables that kind of retry; unset delays and status codes keep their defaults.
func PolicyFromConfig(c shared.EngineConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxRetries = c.MaxRetries
	p.MaxRateLimitRetries = c.MaxRateLimitRetries
	if c.BaseDelay > 0 {
		p.BaseDelay = c.BaseDelay
	}
	if c.MaxDelay > 0 {
		p.MaxDelay = c.MaxDelay
	}
	if len(c.RetryableStatusCodes) > 0 {
		p.RetryableStatusCodes = slices.Clone(c.RetryableStatusCodes)
	}
	if c.DefaultRetryAfter > 0 {
		p.DefaultRetryAfter = c.DefaultRetryAfter
	}
	return p
}

// Delay returns the backoff before retry number attempt (0-based): BaseDelay·2^attempt capped
// at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.BaseDelay
	for range attempt {
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			break
		}
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

func (p RetryPolicy) retryableStatus(code int) bool {
	return slices.Contains(p.RetryableStatusCodes, code)
}

func (p RetryPolicy) retryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.RetryableErrors == nil {
		return IsTransient(err)
	}
	return p.RetryableErrors(err)
}

// RetryAfter reads the Retry-After header as seconds or an HTTP date, falling back to
// DefaultRetryAfter.
func (p RetryPolicy) RetryAfter(h http.Header, now time.Time) time.Duration {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
		if at, err := http.ParseTime(raw); err == nil {
			if at.After(now) {
				return at.Sub(now)
			}
			return 0
		}
	}
	return p.DefaultRetryAfter
}

// IsTransient reports network failures expected to succeed on retry: timeouts, resets and
// truncated responses. Context cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Recovery runs network attempts under a [RetryPolicy].
type Recovery struct {
	policy RetryPolicy
	events events.Publisher
	logger *log.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRecovery creates a coordinator publishing retry events to pub, which may be nil.
func NewRecovery(policy RetryPolicy, pub events.Publisher, logger *log.Logger) *Recovery {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Recovery{
		policy: policy,
		events: pub,
		logger: logger,
		now:    time.Now,
		sleep:  sleep,
	}
}

// Policy returns the coordinator's policy.
func (r *Recovery) Policy() RetryPolicy { return r.policy }

// Run calls op until it yields a response that is not retryable or a budget runs out.
//
// state accumulates across calls so that both budgets cover the whole logical call. The last
// response is returned whatever its status; transport errors come back as [*shared.NetworkError].
// Errors wrapping [shared.ErrInvalidRequest] are the caller's and are returned unchanged.
func (r *Recovery) Run(ctx context.Context, path string, state *RetryState, op func(ctx context.Context) (*Response, error)) (*Response, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		state.Attempts++
		resp, err := op(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, shared.ErrInvalidRequest) {
				return nil, err
			}
			if state.Retries >= r.policy.MaxRetries || !r.policy.retryableError(err) {
				return nil, &shared.NetworkError{Op: path, Err: err, Attempts: state.Attempts}
			}
			if err := r.backoff(ctx, path, state, err); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests && state.RateLimitAttempts < r.policy.MaxRateLimitRetries:
			delay := r.policy.RetryAfter(resp.Header, r.now())
			state.RateLimitAttempts++
			state.LastDelay = delay
			r.logger.Warn("rate limited", "path", path, "retry_after", delay, "attempt", state.RateLimitAttempts)
			r.publish(events.Event{
				Kind:      events.RateLimited,
				Attempt:   state.RateLimitAttempts,
				Delay:     delay,
				RateLimit: &events.RateLimitInfo{Path: path, RetryAfter: delay, Attempt: state.RateLimitAttempts},
			})
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		case r.policy.retryableStatus(resp.StatusCode) && state.Retries < r.policy.MaxRetries:
			if err := r.backoff(ctx, path, state, &shared.HTTPError{StatusCode: resp.StatusCode}); err != nil {
				return nil, err
			}
			continue
		}

		resp.Retry = *state
		return resp, nil
	}
}

func (r *Recovery) backoff(ctx context.Context, path string, state *RetryState, cause error) error {
	delay := r.policy.Delay(state.Retries)
	state.Retries++
	state.LastDelay = delay

	r.logger.Debug("retrying request", "path", path, "attempt", state.Retries, "delay", delay, "cause", cause)
	r.publish(events.Event{Kind: events.RequestRetried, Attempt: state.Retries, Delay: delay, Err: cause})
	return r.sleep(ctx, delay)
}

func (r *Recovery) publish(e events.Event) {
	if r.events == nil {
		return
	}
	e.Source = "engine"
	r.events.Publish(e)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
