package engine

import (
	"context"
	"sync"
)

// call is one in-flight attempt and the callers waiting on it.
type call struct {
	done    chan struct{}
	resp    *Response
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Registry collapses concurrent calls with the same key into one attempt.
//
// The attempt runs on its own context: a caller that stops waiting does not affect the others,
// and the attempt is cancelled only once every caller has gone.
type Registry struct {
	mu    sync.Mutex
	calls map[string]*call
}

// NewRegistry creates an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*call)}
}

// Do runs fn for key unless an identical call is already in flight, in which case it waits for
// that call's result. joined reports whether the result came from another caller's attempt.
func (r *Registry) Do(ctx context.Context, key string, fn func(ctx context.Context) (*Response, error)) (resp *Response, joined bool, err error) {
	r.mu.Lock()
	if c, ok := r.calls[key]; ok {
		c.waiters++
		r.mu.Unlock()
		resp, err = r.wait(ctx, key, c)
		return resp, true, err
	}

	actx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &call{done: make(chan struct{}), waiters: 1, cancel: cancel}
	r.calls[key] = c
	r.mu.Unlock()

	go r.run(actx, key, c, fn)

	resp, err = r.wait(ctx, key, c)
	return resp, false, err
}

func (r *Registry) run(ctx context.Context, key string, c *call, fn func(ctx context.Context) (*Response, error)) {
	defer c.cancel()
	resp, err := fn(ctx)

	// Publishing the result and forgetting the key happen together.
	r.mu.Lock()
	c.resp, c.err = resp, err
	r.forget(key, c)
	close(c.done)
	r.mu.Unlock()
}

func (r *Registry) wait(ctx context.Context, key string, c *call) (*Response, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-c.done:
		return c.resp, c.err
	default:
	}
	c.waiters--
	if c.waiters == 0 {
		r.forget(key, c)
		c.cancel()
	}
	return nil, ctx.Err()
}

// forget removes c unless key already belongs to a newer call. Callers hold mu.
func (r *Registry) forget(key string, c *call) {
	if r.calls[key] == c {
		delete(r.calls, key)
	}
}

// InFlight returns how many distinct calls are running.
func (r *Registry) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
