package auth

import (
	"context"
	"fmt"
	"sync"
)

// CredentialStore persists one credential.
//
// Load returns (nil, nil) when nothing is stored. Save must either fully succeed or leave the
// previous value intact.
type CredentialStore interface {
	Load(ctx context.Context) (*Credential, error)
	Save(ctx context.Context, c *Credential) error
	Clear(ctx context.Context) error
}

// StoreError indicates a credential storage failure.
type StoreError struct {
	Op  string // "load", "save", "clear"
	Key string
	Err error
}

func (e *StoreError) Error() string {
	msg := e.Op + " credential"
	if e.Key != "" {
		msg += " " + e.Key
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// MemoryStore keeps the credential in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	cred  *Credential
	saves int
}

// NewMemoryStore returns a store seeded with c, which may be nil.
func NewMemoryStore(c *Credential) *MemoryStore {
	s := &MemoryStore{}
	if c != nil {
		cp := *c
		s.cred = &cp
	}
	return s
}

func (s *MemoryStore) Load(context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, nil
	}
	cp := *s.cred
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, c *Credential) error {
	if c == nil {
		return &StoreError{Op: "save", Err: fmt.Errorf("nil credential")}
	}
	cp := *c
	s.mu.Lock()
	s.cred = &cp
	s.saves++
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.cred = nil
	s.mu.Unlock()
	return nil
}

// Saves reports how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
