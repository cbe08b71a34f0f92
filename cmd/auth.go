package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/repositories"
	"github.com/desertthunder/spotcore/internal/server"
	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/desertthunder/spotcore/internal/ui"
	"github.com/urfave/cli/v3"
)

const defaultLoginTimeout = 2 * time.Minute

// AuthLogin performs the authorization code flow (PKCE when configured) for the user credential.
//
// Starts a local HTTP server, opens the browser for user authorization, and lets the user
// authority exchange the code and persist the credential.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	authority, grant, err := r.userAuthority()
	if err != nil {
		return explain(err)
	}

	callbackPath := "/callback"
	if u, err := url.Parse(r.config.Credentials.Spotify.RedirectURI); err == nil && u.Path != "" {
		callbackPath = u.Path
	}

	state := shared.GenerateID()
	verifier := ""
	if grant.PKCE() {
		verifier = auth.NewVerifier()
	}

	handler := server.NewOAuthHandler(authority, state, verifier, r.logger).WithPath(callbackPath)
	router := server.NewBasicRouter()
	router.Use(server.Logging(r.logger))
	router.Handler(handler)

	srv, err := server.StartCallbackServer(r.config.Server.Addr(), router)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()
	r.logger.Debug("callback server listening", "addr", srv.Addr(), "path", callbackPath, "pkce", grant.PKCE())

	authURL := grant.AuthCodeURL(state, verifier)
	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		r.writePlain("→ Opening browser for Spotify authorization...\n")
		if err := r.browser(ctx, authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
			r.writePlainln("⚠ Could not open browser automatically.")
			r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	timeout := cmd.Duration("timeout")
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	message := fmt.Sprintf("→ Waiting for authorization (%s timeout)...", timeout)
	result, err := ui.Wait(waitCtx, r.output, message, func(ctx context.Context) (server.OAuthResult, error) {
		return server.AwaitCallback(ctx, srv, handler)
	})
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}
	if result.Credential == nil {
		return fmt.Errorf("%w: no credential received", shared.ErrNotAuthenticated)
	}

	r.writePlain("%s\n", r.palette.OK("✓ Authorization successful"))
	r.writePlain("%s", r.palette.CredentialStatus(authority.Capability(), result.Credential, time.Now()))
	return nil
}

// AuthStatus prints the stored user and app credentials without refreshing them.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	now := time.Now()
	for _, key := range []string{userStoreKey, appStoreKey} {
		store, err := r.store(key)
		if err != nil {
			return err
		}
		c, err := store.Load(ctx)
		if err != nil {
			return err
		}
		r.writePlain("%s", r.palette.CredentialStatus(key, c, now))

		if !cmd.Bool("history") {
			continue
		}
		repo, ok := store.(*repositories.CredentialRepository)
		if !ok {
			continue
		}
		history, err := repo.Events(ctx, 5)
		if err != nil {
			return err
		}
		for _, e := range history {
			r.writePlain("  %s %s\n", r.palette.Help(e.CreatedAt.Local().Format(time.DateTime)), e.Action)
		}
	}
	return nil
}

// AuthLogout clears the user credential, or the app credential with --app.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	key := userStoreKey
	if cmd.Bool("app") {
		key = appStoreKey
	}

	store, err := r.store(key)
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}

	r.logger.Info("credential cleared", "store", key)
	return r.writePlain("%s\n", r.palette.OK("✓ Logged out ("+key+")"))
}
