package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/shared"
)

// Exchanger completes an authorization code grant. [auth.Authority] implements it.
type Exchanger interface {
	Exchange(ctx context.Context, p auth.ExchangeParams) (*auth.Credential, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Credential *auth.Credential
	err        error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler handles OAuth2 callback requests for the authorization code and PKCE flows.
// Implements the Handler interface for registration with a Router.
type OAuthHandler struct {
	exchanger   Exchanger
	state       string
	verifier    string
	path        string
	logger      *log.Logger
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a new OAuth handler that exchanges the returned code through exchanger.
//
// The state token should be cryptographically random for CSRF protection. verifier is the PKCE
// code verifier used to build the authorization URL, empty for confidential clients.
func NewOAuthHandler(exchanger Exchanger, state, verifier string, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &OAuthHandler{
		exchanger:  exchanger,
		state:      state,
		verifier:   verifier,
		path:       "/callback",
		logger:     shared.WithLogger(logger, "component", "oauth"),
		resultChan: make(chan OAuthResult, 1),
	}
}

// WithPath changes the callback path, which must match the registered redirect URI.
func (h *OAuthHandler) WithPath(path string) *OAuthHandler {
	if path != "" {
		h.path = path
	}
	return h
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP handles the OAuth callback request.
//
// Validates the state parameter, exchanges the authorization code, and sends the result through
// the result channel. Only the first callback is processed.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()
	if query.Get("state") != h.state {
		h.logger.Warn("callback state mismatch")
		h.Send(OAuthResult{err: fmt.Errorf("%w: invalid state parameter", shared.ErrInvalidRequest)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: authorization failed: %s - %s", shared.ErrNotAuthenticated, query.Get("error"), query.Get("error_description"))
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	// The code is single use, so a browser that hangs up must not abort the exchange.
	credential, err := h.exchanger.Exchange(context.WithoutCancel(r.Context()), auth.ExchangeParams{Code: code, Verifier: h.verifier})
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		h.Send(OAuthResult{err: fmt.Errorf("token exchange failed: %w", err)})
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("authorization complete", "expires_at", credential.ExpiresAt)
	h.Send(OAuthResult{Credential: credential})

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Successful</h1>
        <p>The credential is stored. You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`
