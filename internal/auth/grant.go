package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/spotcore/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ExchangeParams carries the inputs of an initial grant exchange.
type ExchangeParams struct {
	Code     string // authorization code from the redirect
	Verifier string // PKCE code verifier, empty for confidential clients
}

// Grant is the OAuth backend of an [Authority]. The wire format stays behind this interface.
type Grant interface {
	Exchange(ctx context.Context, p ExchangeParams) (*Credential, error)
	Refresh(ctx context.Context, current *Credential) (*Credential, error)
}

// AuthCodeConfig configures an [AuthCodeGrant].
type AuthCodeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// PKCE makes the grant a public client: no secret, code verifier on exchange.
	PKCE bool

	// InvalidatePreviousRefreshToken declares that every refresh returns a new refresh token
	// and the previous one stops working.
	InvalidatePreviousRefreshToken bool

	HTTPClient *http.Client
	Now        func() time.Time
}

// AuthCodeGrant implements the authorization-code and PKCE grants with refresh-token rotation.
type AuthCodeGrant struct {
	config     *oauth2.Config
	pkce       bool
	rotate     bool
	httpClient *http.Client
	now        func() time.Time
}

// NewAuthCodeGrant validates cfg and builds the grant.
func NewAuthCodeGrant(cfg AuthCodeConfig) (*AuthCodeGrant, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("%w: client_id is required", shared.ErrMissingCredentials)
	}
	if !cfg.PKCE && strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client_secret is required without PKCE", shared.ErrMissingCredentials)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: token_url is required", shared.ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	endpoint := oauth2.Endpoint{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInHeader}
	secret := cfg.ClientSecret
	if cfg.PKCE {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
		secret = ""
	}

	return &AuthCodeGrant{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: secret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		pkce:       cfg.PKCE,
		rotate:     cfg.InvalidatePreviousRefreshToken,
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
	}, nil
}

// AuthCodeConfigFrom maps the TOML client registration onto an [AuthCodeConfig].
func AuthCodeConfigFrom(c shared.SpotifyConfig) AuthCodeConfig {
	return AuthCodeConfig{
		ClientID:                       c.ClientID,
		ClientSecret:                   c.ClientSecret,
		RedirectURL:                    c.RedirectURI,
		AuthURL:                        c.AuthURL,
		TokenURL:                       c.TokenURL,
		Scopes:                         c.Scopes,
		PKCE:                           c.UsePKCE,
		InvalidatePreviousRefreshToken: c.InvalidatePreviousRefreshToken,
	}
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// PKCE reports whether the grant expects a code verifier.
func (g *AuthCodeGrant) PKCE() bool { return g.pkce }

// AuthCodeURL returns the URL the user visits to authorize. verifier is ignored without PKCE.
func (g *AuthCodeGrant) AuthCodeURL(state, verifier string) string {
	var opts []oauth2.AuthCodeOption
	if g.pkce && verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	return g.config.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for a credential.
func (g *AuthCodeGrant) Exchange(ctx context.Context, p ExchangeParams) (*Credential, error) {
	if p.Code == "" {
		return nil, authErr("exchange", fmt.Errorf("%w: authorization code is empty", shared.ErrInvalidRequest))
	}
	if g.pkce && p.Verifier == "" {
		return nil, authErr("exchange", fmt.Errorf("%w: PKCE exchange needs a code verifier", shared.ErrInvalidRequest))
	}

	var opts []oauth2.AuthCodeOption
	if p.Verifier != "" {
		opts = append(opts, oauth2.VerifierOption(p.Verifier))
	}

	tok, err := g.config.Exchange(withHTTPClient(ctx, g.httpClient), p.Code, opts...)
	if err != nil {
		return nil, classifyGrantError("exchange", err)
	}
	return FromToken(tok, g.now()), nil
}

// Refresh rotates current's refresh token for a new credential.
func (g *AuthCodeGrant) Refresh(ctx context.Context, current *Credential) (*Credential, error) {
	if current == nil {
		return nil, authErr("refresh", shared.ErrNotAuthenticated)
	}
	if !current.HasRefreshToken() {
		return nil, authErr("refresh", shared.ErrMissingRefreshToken)
	}

	src := g.config.TokenSource(withHTTPClient(ctx, g.httpClient), &oauth2.Token{RefreshToken: current.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyGrantError("refresh", err)
	}

	// oauth2 carries the request's refresh token over when the response has none.
	if g.rotate && tok.RefreshToken == current.RefreshToken {
		return nil, authErr("refresh", fmt.Errorf("%w: server did not rotate the refresh token", shared.ErrMissingRefreshToken))
	}

	next := FromToken(tok, g.now())
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = current.Scope
	}
	return next, nil
}

// ClientCredentialsConfig configures a [ClientCredentialsGrant].
type ClientCredentialsConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
	HTTPClient   *http.Client
	Now          func() time.Time
}

// ClientCredentialsGrant issues application credentials. It never holds a refresh token.
type ClientCredentialsGrant struct {
	config     *clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClientCredentialsGrant validates cfg and builds the grant.
func NewClientCredentialsGrant(cfg ClientCredentialsConfig) (*ClientCredentialsGrant, error) {
	if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, fmt.Errorf("%w: client_id and client_secret are required", shared.ErrMissingCredentials)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: token_url is required", shared.ErrInvalidConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ClientCredentialsGrant{
		config: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: cfg.HTTPClient,
		now:        cfg.Now,
	}, nil
}

// ClientCredentialsConfigFrom maps the TOML client registration onto a [ClientCredentialsConfig].
func ClientCredentialsConfigFrom(c shared.SpotifyConfig) ClientCredentialsConfig {
	return ClientCredentialsConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL,
	}
}

// Exchange issues a credential; params are unused.
func (g *ClientCredentialsGrant) Exchange(ctx context.Context, _ ExchangeParams) (*Credential, error) {
	return g.issue(ctx)
}

// Refresh issues a brand new credential; current is unused.
func (g *ClientCredentialsGrant) Refresh(ctx context.Context, _ *Credential) (*Credential, error) {
	return g.issue(ctx)
}

func (g *ClientCredentialsGrant) issue(ctx context.Context) (*Credential, error) {
	tok, err := g.config.Token(withHTTPClient(ctx, g.httpClient))
	if err != nil {
		return nil, classifyGrantError("client_credentials", err)
	}
	c := FromToken(tok, g.now())
	c.RefreshToken = ""
	return c, nil
}

func withHTTPClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// authErr wraps err in a [shared.AuthError] for op.
func authErr(op string, err error) *shared.AuthError {
	return &shared.AuthError{Op: op, Err: err}
}

// classifyGrantError separates a rejected refresh token from other token endpoint failures.
func classifyGrantError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if op == "refresh" && isInvalidGrant(re) {
			return authErr(op, fmt.Errorf("%w: %s", shared.ErrInvalidRefreshToken, grantErrorDetail(re)))
		}
		return authErr(op, fmt.Errorf("%w: %s", shared.ErrRefreshFailed, grantErrorDetail(re)))
	}
	return authErr(op, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err))
}

func isInvalidGrant(re *oauth2.RetrieveError) bool {
	if re.ErrorCode == "invalid_grant" {
		return true
	}
	return re.ErrorCode == "" && strings.Contains(string(re.Body), "invalid_grant")
}

func grantErrorDetail(re *oauth2.RetrieveError) string {
	detail := re.ErrorCode
	if re.ErrorDescription != "" {
		detail += " (" + re.ErrorDescription + ")"
	}
	if detail == "" && re.Response != nil {
		detail = re.Response.Status
	}
	return detail
}
