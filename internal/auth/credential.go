package auth

import (
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is an access token bundle. Values are replaced, never mutated.
//
// A zero ExpiresAt means the server gave no lifetime and the token is treated as valid until rejected.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	TokenType    string    `json:"token_type"`
}

// FromToken converts an [oauth2.Token], resolving any relative lifetime against now.
func FromToken(tok *oauth2.Token, now time.Time) *Credential {
	c := &Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.Type(),
	}
	if c.ExpiresAt.IsZero() && tok.ExpiresIn > 0 {
		c.ExpiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		c.Scope = scope
	}
	return c
}

// Token converts back to an [oauth2.Token].
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.ExpiresAt,
	}
}

// Valid reports whether the access token can be used at now with margin to spare.
func (c *Credential) Valid(now time.Time, margin time.Duration) bool {
	if c == nil || c.AccessToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt.Add(-margin))
}

// ExpiringSoon reports whether the token expires within window of now.
func (c *Credential) ExpiringSoon(now time.Time, window time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !c.ExpiresAt.After(now.Add(window))
}

// HasRefreshToken reports whether the credential can be refreshed without the user.
func (c *Credential) HasRefreshToken() bool {
	return c != nil && strings.TrimSpace(c.RefreshToken) != ""
}

// Scopes splits the space-delimited scope string.
func (c *Credential) Scopes() []string {
	return strings.Fields(c.Scope)
}

// Authorization returns the Authorization header value.
func (c *Credential) Authorization() string {
	typ := c.TokenType
	if typ == "" || strings.EqualFold(typ, "bearer") {
		typ = "Bearer"
	}
	return typ + " " + c.AccessToken
}
