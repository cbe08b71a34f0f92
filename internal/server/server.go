package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Handler is an [http.Handler] that knows which paths it serves.
type Handler interface {
	http.Handler      // ServeHTTP handles the HTTP request and writes the response
	Routes() []string // Routes returns the path patterns this handler serves
}

// Router defines the interface for HTTP routing and middleware management.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers a custom Handler implementation
	ServeHTTP(w http.ResponseWriter, r *http.Request) // ServeHTTP implements http.Handler for the entire router
}

// CallbackServer is the short-lived local server that receives the authorization redirect.
type CallbackServer struct {
	srv      *http.Server
	listener net.Listener
	errs     chan error
}

// StartCallbackServer listens on addr and serves handler in the background.
func StartCallbackServer(addr string, handler http.Handler) (*CallbackServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := &CallbackServer{
		srv:      &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second},
		listener: listener,
		errs:     make(chan error, 1),
	}
	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errs <- err
		}
		close(s.errs)
	}()
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *CallbackServer) Addr() string {
	return s.listener.Addr().String()
}

// Errors yields a serve failure, if any, and is closed when the server stops.
func (s *CallbackServer) Errors() <-chan error {
	return s.errs
}

// Shutdown stops the server, waiting for in-flight callbacks until ctx is done.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// AwaitCallback waits for handler's result, a server failure, or ctx.
func AwaitCallback(ctx context.Context, s *CallbackServer, handler *OAuthHandler) (OAuthResult, error) {
	select {
	case res := <-handler.Result():
		return res, res.Error()
	case err, ok := <-s.Errors():
		if !ok {
			err = http.ErrServerClosed
		}
		return OAuthResult{}, fmt.Errorf("callback server failed: %w", err)
	case <-ctx.Done():
		return OAuthResult{}, ctx.Err()
	}
}
