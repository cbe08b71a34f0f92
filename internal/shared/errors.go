package shared

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrNotAuthenticated    = fmt.Errorf("not authenticated")
	ErrMissingRefreshToken = fmt.Errorf("missing refresh token")
	ErrInvalidRefreshToken = fmt.Errorf("invalid refresh token")
	ErrRefreshFailed       = fmt.Errorf("token refresh failed")

	// Request errors
	ErrInvalidRequest = fmt.Errorf("invalid request")
	ErrOffline        = fmt.Errorf("client is offline")
	ErrNetwork        = fmt.Errorf("network error")
	ErrRateLimited    = fmt.Errorf("rate limited")
	ErrAPIRequest     = fmt.Errorf("API request failed")

	// Input validation errors
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RetryState records how many attempts a single logical call made.
type RetryState struct {
	Attempts          int           // network attempts, including the first
	Retries           int           // retries spent on transient failures
	RateLimitAttempts int           // retries spent on 429 responses
	LastDelay         time.Duration // last backoff or Retry-After delay slept
}

// AuthError reports a failure obtaining a credential.
//
// Errors wrapping [ErrMissingRefreshToken] or [ErrInvalidRefreshToken] require re-authentication.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RequiresReauth reports whether err can only be resolved by a new authorization.
func RequiresReauth(err error) bool {
	return errors.Is(err, ErrMissingRefreshToken) ||
		errors.Is(err, ErrInvalidRefreshToken) ||
		errors.Is(err, ErrNotAuthenticated)
}

// HTTPError is a non-2xx response that was not absorbed by the retry budgets.
type HTTPError struct {
	StatusCode int
	Body       []byte
	Header     http.Header
	Retry      RetryState
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%v: status %d after %d attempt(s)", ErrAPIRequest, e.StatusCode, e.Retry.Attempts)
	if len(e.Body) > 0 {
		body := e.Body
		if len(body) > 256 {
			body = body[:256]
		}
		msg += ": " + string(body)
	}
	return msg
}

// Is matches [ErrAPIRequest] for every status and [ErrRateLimited] for 429.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrAPIRequest:
		return true
	case ErrRateLimited:
		return e.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// NetworkError wraps a transport failure that exhausted its retries or was not retryable.
type NetworkError struct {
	Op       string
	Err      error
	Attempts int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%v: %s after %d attempt(s): %v", ErrNetwork, e.Op, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// StatusCode extracts the HTTP status from err, or 0 when err is not an [HTTPError].
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
