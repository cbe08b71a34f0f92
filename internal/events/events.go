// package events broadcasts engine lifecycle notifications to any number of subscribers.
//
// Publishing never blocks: every subscriber owns a fixed-size ring buffer and, when it falls
// behind, its oldest undelivered event is overwritten.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by [Subscription.Next] once the subscription is closed and drained.
var ErrClosed = errors.New("events: subscription closed")

// Kind identifies an event.
type Kind string

const (
	TokenRefreshWillStart Kind = "token_refresh_will_start"
	TokenRefreshSucceeded Kind = "token_refresh_succeeded"
	TokenRefreshFailed    Kind = "token_refresh_failed"
	TokenExpiringSoon     Kind = "token_expiring_soon"
	RateLimited           Kind = "rate_limited"
	RequestRetried        Kind = "request_retried"
	Performance           Kind = "performance"
)

// DefaultBuffer is the ring size used when Subscribe is given a non-positive size.
const DefaultBuffer = 64

// RateLimitInfo describes a 429 response.
type RateLimitInfo struct {
	Path       string
	RetryAfter time.Duration
	Attempt    int
}

// Metrics is a performance sample for one logical call.
type Metrics struct {
	Method     string
	Path       string
	StatusCode int
	Latency    time.Duration
	Attempts   int
	Retries    int
	Shared     bool
}

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind      Kind
	Time      time.Time
	Source    string
	Attempt   int
	Delay     time.Duration
	ExpiresAt time.Time
	RateLimit *RateLimitInfo
	Metrics   *Metrics
	Err       error
}

// Publisher is the producer side consumed by the auth and engine packages.
type Publisher interface {
	Publish(Event)
}

// Bus fans events out to subscribers.
//
// The zero value is not usable; call [NewBus]. A nil *Bus discards everything.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	now  func() time.Time
}

// NewBus creates an empty [Bus].
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{}), now: time.Now}
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		s.push(e)
	}
}

// Subscribe registers a subscriber with a ring buffer of the given size.
func (b *Bus) Subscribe(size int) *Subscription {
	if size <= 0 {
		size = DefaultBuffer
	}
	s := &Subscription{
		bus:   b,
		ring:  make([]Event, size),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscription is one consumer's view of a [Bus].
type Subscription struct {
	bus *Bus

	mu      sync.Mutex
	ring    []Event
	head    int
	count   int
	dropped uint64
	closed  bool

	ready chan struct{}
	done  chan struct{}
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.count == len(s.ring) {
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.dropped++
	}
	s.ring[(s.head+s.count)%len(s.ring)] = e
	s.count++
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return Event{}, false
	}
	e := s.ring[s.head]
	s.ring[s.head] = Event{}
	s.head = (s.head + 1) % len(s.ring)
	s.count--
	return e, true
}

// Next blocks until an event is available, ctx ends or the subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		if e, ok := s.pop(); ok {
			return e, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			if e, ok := s.pop(); ok {
				return e, nil
			}
			return Event{}, ErrClosed
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Drain returns every buffered event without blocking.
func (s *Subscription) Drain() []Event {
	var out []Event
	for {
		e, ok := s.pop()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

// Dropped reports how many events were overwritten before being read.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription. Buffered events can still be read.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.bus.unsubscribe(s)
	close(s.done)
}
