// package auth owns the credential lifecycle: grant exchange, refresh and persistence.
package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotcore/internal/events"
	"github.com/desertthunder/spotcore/internal/shared"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshMargin = 60 * time.Second
	DefaultExpiringSoon  = 5 * time.Minute
)

// Options configures an [Authority].
type Options struct {
	Store         CredentialStore
	Events        events.Publisher
	Logger        *log.Logger
	RefreshMargin time.Duration
	ExpiringSoon  time.Duration
	Now           func() time.Time
}

// Authority hands out valid credentials for one capability.
//
// Refreshes are single-flight: however many callers find the credential missing, expired or
// rejected at once, the grant is asked once and every caller gets the result. Distinct
// authorities never wait on each other.
type Authority[C Capability] struct {
	grant  Grant
	store  CredentialStore
	events events.Publisher
	logger *log.Logger
	margin time.Duration
	soon   time.Duration
	now    func() time.Time
	source string

	current atomic.Pointer[Credential]
	warned  atomic.Pointer[Credential]
	flight  singleflight.Group

	// writeMu orders store writes between refresh, exchange and clear.
	writeMu sync.Mutex
	loaded  bool
}

// New builds an authority tagged with capability C.
func New[C Capability](grant Grant, opts Options) *Authority[C] {
	if opts.Store == nil {
		opts.Store = NewMemoryStore(nil)
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}
	if opts.ExpiringSoon <= 0 {
		opts.ExpiringSoon = DefaultExpiringSoon
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	source := CapabilityName[C]()
	return &Authority[C]{
		grant:  grant,
		store:  opts.Store,
		events: opts.Events,
		logger: shared.WithLogger(opts.Logger, "capability", source),
		margin: opts.RefreshMargin,
		soon:   opts.ExpiringSoon,
		now:    opts.Now,
		source: source,
	}
}

// NewUserAuthority builds the end-user authority over an authorization-code or PKCE grant.
func NewUserAuthority(grant *AuthCodeGrant, opts Options) *Authority[UserDelegated] {
	return New[UserDelegated](grant, opts)
}

// NewAppAuthority builds the application authority over a client-credentials grant.
func NewAppAuthority(grant *ClientCredentialsGrant, opts Options) *Authority[AppOnly] {
	return New[AppOnly](grant, opts)
}

// Credential returns a credential valid for at least the refresh margin.
//
// With rejected nil, a cached valid credential is returned without blocking. A non-nil rejected
// is the credential the server refused: it is replaced unless another caller already installed a
// different one, in which case that newer credential is returned without a second refresh.
func (a *Authority[C]) Credential(ctx context.Context, rejected *Credential) (*Credential, error) {
	cur := a.current.Load()
	if cur.Valid(a.now(), a.margin) && (rejected == nil || cur.AccessToken != rejected.AccessToken) {
		a.warnIfExpiring(cur)
		return cur, nil
	}

	stale := ""
	if rejected != nil {
		stale = rejected.AccessToken
	}

	// A rejected caller may join a flight that only reloaded what it already had.
	for range 2 {
		ch := a.flight.DoChan("credential", func() (any, error) {
			return a.obtain(context.WithoutCancel(ctx), stale)
		})

		select {
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			c := res.Val.(*Credential)
			if stale != "" && c.AccessToken == stale {
				continue
			}
			return c, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, authErr("refresh", fmt.Errorf("%w: credential was not replaced", shared.ErrRefreshFailed))
}

// obtain runs inside the single flight. stale names an access token that must not be returned.
func (a *Authority[C]) obtain(ctx context.Context, stale string) (*Credential, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if !a.loaded {
		stored, err := a.store.Load(ctx)
		if err != nil {
			a.publish(events.Event{Kind: events.TokenRefreshFailed, Err: err})
			return nil, authErr("load", err)
		}
		a.current.Store(stored)
		a.loaded = true
	}

	cur := a.current.Load()
	if cur != nil && cur.AccessToken != stale && cur.Valid(a.now(), a.margin) {
		return cur, nil
	}

	a.publish(events.Event{Kind: events.TokenRefreshWillStart})
	a.logger.Debug("refreshing credential", "forced", stale != "")

	next, err := a.grant.Refresh(ctx, cur)
	if err != nil {
		a.logger.Warn("credential refresh failed", "error", err)
		a.publish(events.Event{Kind: events.TokenRefreshFailed, Err: err})
		return nil, err
	}

	if err := a.persist(ctx, next); err != nil {
		return nil, err
	}

	a.logger.Debug("credential refreshed", "expires_at", next.ExpiresAt)
	a.publish(events.Event{Kind: events.TokenRefreshSucceeded, ExpiresAt: next.ExpiresAt})
	return next, nil
}

// Exchange completes an initial grant and installs the resulting credential.
func (a *Authority[C]) Exchange(ctx context.Context, p ExchangeParams) (*Credential, error) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.publish(events.Event{Kind: events.TokenRefreshWillStart})
	next, err := a.grant.Exchange(ctx, p)
	if err != nil {
		a.publish(events.Event{Kind: events.TokenRefreshFailed, Err: err})
		return nil, err
	}
	if err := a.persist(ctx, next); err != nil {
		return nil, err
	}
	a.loaded = true
	a.publish(events.Event{Kind: events.TokenRefreshSucceeded, ExpiresAt: next.ExpiresAt})
	return next, nil
}

// persist saves c before it becomes visible to callers. Callers hold writeMu.
func (a *Authority[C]) persist(ctx context.Context, c *Credential) error {
	if err := a.store.Save(ctx, c); err != nil {
		a.logger.Error("failed to persist credential", "error", err)
		a.publish(events.Event{Kind: events.TokenRefreshFailed, Err: err})
		return authErr("persist", err)
	}
	a.current.Store(c)
	return nil
}

// Clear forgets the cached credential and clears the store, returning to a cold start.
func (a *Authority[C]) Clear(ctx context.Context) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := a.store.Clear(ctx); err != nil {
		return authErr("clear", err)
	}
	a.current.Store(nil)
	a.warned.Store(nil)
	a.loaded = false
	return nil
}

// Current returns the cached credential without refreshing, loading from the store on first use.
func (a *Authority[C]) Current(ctx context.Context) (*Credential, error) {
	if c := a.current.Load(); c != nil {
		return c, nil
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if !a.loaded {
		stored, err := a.store.Load(ctx)
		if err != nil {
			return nil, authErr("load", err)
		}
		a.current.Store(stored)
		a.loaded = true
	}
	return a.current.Load(), nil
}

// Capability returns the label of the authority's capability.
func (a *Authority[C]) Capability() string { return a.source }

func (a *Authority[C]) warnIfExpiring(c *Credential) {
	if !c.ExpiringSoon(a.now(), a.soon) {
		return
	}
	prev := a.warned.Load()
	if prev == c || !a.warned.CompareAndSwap(prev, c) {
		return
	}
	a.publish(events.Event{Kind: events.TokenExpiringSoon, ExpiresAt: c.ExpiresAt})
}

func (a *Authority[C]) publish(e events.Event) {
	if a.events == nil {
		return
	}
	e.Source = a.source
	a.events.Publish(e)
}
