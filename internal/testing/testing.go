// package testing contains shared testing utilities
package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// AssertFileExists fails the test when path does not exist.
func AssertFileExists(t testing.TB, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
}

// MustReadFile returns the file's contents or fails the test.
func MustReadFile(t testing.TB, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// Step is one scripted outcome of a [ScriptedRoundTripper].
type Step struct {
	Status int
	Body   string
	Header map[string]string
	Err    error
	Delay  time.Duration // wait before answering; honors the request context
}

// ScriptedRoundTripper replays steps in order and repeats the last one once exhausted.
type ScriptedRoundTripper struct {
	mu       sync.Mutex
	steps    []Step
	calls    atomic.Int64
	requests []*http.Request
	// Gate, when set, blocks every call until it is closed.
	Gate chan struct{}
}

func NewScriptedRoundTripper(steps ...Step) *ScriptedRoundTripper {
	return &ScriptedRoundTripper{steps: steps}
}

// Respond builds a JSON step.
func Respond(status int, body string) Step {
	return Step{Status: status, Body: body}
}

func (s *ScriptedRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	n := int(s.calls.Add(1))

	s.mu.Lock()
	s.requests = append(s.requests, req)
	step := s.steps[len(s.steps)-1]
	if n <= len(s.steps) {
		step = s.steps[n-1]
	}
	s.mu.Unlock()

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	if step.Err != nil {
		return nil, step.Err
	}

	header := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range step.Header {
		header.Set(k, v)
	}
	return &http.Response{
		StatusCode: step.Status,
		Status:     fmt.Sprintf("%d %s", step.Status, http.StatusText(step.Status)),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(step.Body)),
		Request:    req,
	}, nil
}

// Calls returns how many requests reached the round tripper.
func (s *ScriptedRoundTripper) Calls() int { return int(s.calls.Load()) }

// Requests returns the requests seen so far.
func (s *ScriptedRoundTripper) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// TokenServer is an OAuth token endpoint for grant tests.
type TokenServer struct {
	*httptest.Server

	mu sync.Mutex
	// Rotate issues a new refresh token on every refresh.
	Rotate bool
	// OmitRefreshToken leaves refresh_token out of refresh responses.
	OmitRefreshToken bool
	// RejectRefresh answers refresh requests with invalid_grant.
	RejectRefresh bool
	// FailStatus, when non-zero, answers every request with this status and a server_error body.
	FailStatus int
	ExpiresIn  int

	counts map[string]int
	issued int
	forms  []map[string]string
}

// NewTokenServer starts a token endpoint serving POST /token.
func NewTokenServer() *TokenServer {
	ts := &TokenServer{counts: make(map[string]int), ExpiresIn: 3600}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.handle))
	return ts
}

// TokenURL returns the token endpoint URL.
func (ts *TokenServer) TokenURL() string { return ts.URL + "/token" }

// Count returns how many requests used grantType.
func (ts *TokenServer) Count(grantType string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.counts[grantType]
}

// Forms returns the posted form values in arrival order.
func (ts *TokenServer) Forms() []map[string]string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]map[string]string(nil), ts.forms...)
}

// Set mutates the server's behavior under its lock.
func (ts *TokenServer) Set(fn func(ts *TokenServer)) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	fn(ts)
}

func (ts *TokenServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/token" || r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	grantType := r.PostForm.Get("grant_type")
	ts.counts[grantType]++
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	if user, _, ok := r.BasicAuth(); ok {
		form["basic_client_id"] = user
	}
	ts.forms = append(ts.forms, form)

	w.Header().Set("Content-Type", "application/json")
	if ts.FailStatus != 0 {
		w.WriteHeader(ts.FailStatus)
		json.NewEncoder(w).Encode(map[string]string{"error": "server_error"})
		return
	}

	ts.issued++
	resp := map[string]any{
		"access_token": fmt.Sprintf("access-%d", ts.issued),
		"token_type":   "Bearer",
		"expires_in":   ts.ExpiresIn,
		"scope":        "user-read-private",
	}

	switch grantType {
	case "authorization_code":
		if r.PostForm.Get("code") == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_request"})
			return
		}
		resp["refresh_token"] = fmt.Sprintf("refresh-%d", ts.issued)
	case "refresh_token":
		if ts.RejectRefresh {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Refresh token revoked"})
			return
		}
		switch {
		case ts.OmitRefreshToken:
		case ts.Rotate:
			resp["refresh_token"] = fmt.Sprintf("refresh-%d", ts.issued)
		default:
			resp["refresh_token"] = r.PostForm.Get("refresh_token")
		}
	case "client_credentials":
		delete(resp, "scope")
	default:
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "unsupported_grant_type"})
		return
	}

	json.NewEncoder(w).Encode(resp)
}
