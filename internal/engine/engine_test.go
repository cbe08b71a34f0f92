package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/spotcore/internal/auth"
	tu "github.com/desertthunder/spotcore/internal/testing"
)

const testBaseURL = "https://api.test/v1"

type fakeTokens struct {
	mu     sync.Mutex
	prefix string
	calls  int
	forced int
	err    error
}

func (f *fakeTokens) Credential(_ context.Context, rejected *auth.Credential) (*auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if rejected != nil {
		f.forced++
	}
	return &auth.Credential{AccessToken: fmt.Sprintf("%stoken-%d", f.prefix, f.forced), TokenType: "Bearer"}, nil
}

func (f *fakeTokens) Forced() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forced
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// newTestExecutor wires an executor to a scripted round tripper with instant backoff sleeps.
func newTestExecutor(t *testing.T, rt http.RoundTripper, mutate func(*Options)) (*Executor, *fakeTokens, *sleepRecorder) {
	t.Helper()
	tokens := &fakeTokens{}
	opts := Options{
		BaseURL:   testBaseURL,
		Transport: NewHTTPTransport(&http.Client{Transport: rt}, 0),
		Tokens:    tokens,
		Policy:    DefaultRetryPolicy(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewExecutor(opts)
	if err != nil {
		t.Fatalf("failed to build executor: %v", err)
	}
	rec := &sleepRecorder{}
	e.recovery.sleep = rec.sleep
	return e, tokens, rec
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func scripted(steps ...tu.Step) *tu.ScriptedRoundTripper {
	return tu.NewScriptedRoundTripper(steps...)
}
