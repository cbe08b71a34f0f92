package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/desertthunder/spotcore/internal/shared"
	"golang.org/x/time/rate"
)

// RetryState is the per-call retry bookkeeping carried on responses and errors.
type RetryState = shared.RetryState

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Retry      RetryState
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends one HTTP request. It is the engine's only network primitive; retries,
// deduplication and credential handling all sit above it.
type Transport interface {
	Send(ctx context.Context, req *http.Request) (*Response, error)
}

// HTTPTransport sends requests with an [http.Client], optionally paced by a token bucket.
type HTTPTransport struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPTransport creates a transport over client. A positive requestsPerSecond paces outgoing
// requests; zero leaves them unpaced.
func NewHTTPTransport(client *http.Client, requestsPerSecond float64) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}

	t := &HTTPTransport{client: client}
	if requestsPerSecond > 0 {
		burst := max(int(requestsPerSecond), 1)
		t.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return t
}

// NewHTTPClient builds the client used by [HTTPTransport] from the engine timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Send performs req and reads the whole body.
func (t *HTTPTransport) Send(ctx context.Context, req *http.Request) (*Response, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
