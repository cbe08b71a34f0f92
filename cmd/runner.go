package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/engine"
	"github.com/desertthunder/spotcore/internal/events"
	"github.com/desertthunder/spotcore/internal/repositories"
	"github.com/desertthunder/spotcore/internal/services"
	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/desertthunder/spotcore/internal/ui"
	"github.com/urfave/cli/v3"
)

// Store keys of the two authorities.
const (
	userStoreKey = "user"
	appStoreKey  = "app"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Authorities, clients and the database are built on first use so commands that never touch
// them (setup, help) work without credentials.
type Runner struct {
	config     *shared.Config
	logger     *log.Logger
	output     io.Writer
	palette    *ui.Palette
	httpClient *http.Client
	bus        *events.Bus
	registry   *engine.Registry
	browser    func(ctx context.Context, url string) error

	db      *sql.DB
	stores  map[string]auth.CredentialStore
	user    *auth.Authority[auth.UserDelegated]
	grant   *auth.AuthCodeGrant
	appAuth *auth.Authority[auth.AppOnly]
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	Logger     *log.Logger
	Output     io.Writer
	Palette    *ui.Palette
	HTTPClient *http.Client

	// Stores replaces the SQLite credential stores, keyed by "user" and "app".
	Stores map[string]auth.CredentialStore

	// Browser opens the authorization URL; defaults to [shared.OpenBrowser].
	Browser func(ctx context.Context, url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.Palette == nil {
		opts.Palette = ui.Styles
	}
	if opts.Browser == nil {
		opts.Browser = shared.OpenBrowser
	}

	stores := make(map[string]auth.CredentialStore, len(opts.Stores))
	for k, s := range opts.Stores {
		stores[k] = s
	}

	return &Runner{
		config:     opts.Config,
		logger:     opts.Logger,
		output:     opts.Output,
		palette:    opts.Palette,
		httpClient: opts.HTTPClient,
		bus:        events.NewBus(),
		registry:   engine.NewRegistry(),
		browser:    opts.Browser,
		stores:     stores,
	}
}

// Configure is the root Before hook: it loads --config when the file exists and applies --debug.
func (r *Runner) Configure(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	path := cmd.String("config")
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else if cmd.IsSet("config") {
		return ctx, fmt.Errorf("%w: %s", shared.ErrMissingConfig, path)
	}

	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
		r.config.Engine.Debug.Enabled = true
	}
	if cmd.Bool("offline") {
		r.config.Engine.Offline = true
	}
	return ctx, nil
}

// Close releases the database, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

func (r *Runner) store(key string) (auth.CredentialStore, error) {
	if s, ok := r.stores[key]; ok {
		return s, nil
	}
	if r.db == nil {
		db, err := shared.OpenCredentialDatabase(r.config.Database)
		if err != nil {
			return nil, err
		}
		r.db = db
	}
	s := repositories.NewCredentialRepository(r.db, key)
	r.stores[key] = s
	return s, nil
}

func (r *Runner) authOptions(store auth.CredentialStore) auth.Options {
	return auth.Options{
		Store:         store,
		Events:        r.bus,
		Logger:        r.logger,
		RefreshMargin: r.config.Engine.RefreshMargin,
		ExpiringSoon:  r.config.Engine.ExpiringSoon,
	}
}

func (r *Runner) userAuthority() (*auth.Authority[auth.UserDelegated], *auth.AuthCodeGrant, error) {
	if r.user != nil {
		return r.user, r.grant, nil
	}

	cfg := auth.AuthCodeConfigFrom(r.config.Credentials.Spotify)
	cfg.HTTPClient = r.httpClient
	grant, err := auth.NewAuthCodeGrant(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := r.store(userStoreKey)
	if err != nil {
		return nil, nil, err
	}

	r.user, r.grant = auth.NewUserAuthority(grant, r.authOptions(store)), grant
	return r.user, r.grant, nil
}

func (r *Runner) appAuthority() (*auth.Authority[auth.AppOnly], error) {
	if r.appAuth != nil {
		return r.appAuth, nil
	}

	cfg := auth.ClientCredentialsConfigFrom(r.config.Credentials.Spotify)
	cfg.HTTPClient = r.httpClient
	grant, err := auth.NewClientCredentialsGrant(cfg)
	if err != nil {
		return nil, err
	}
	store, err := r.store(appStoreKey)
	if err != nil {
		return nil, err
	}

	r.appAuth = auth.NewAppAuthority(grant, r.authOptions(store))
	return r.appAuth, nil
}

func (r *Runner) engineOptions() engine.Options {
	c := r.config.Engine
	client := r.httpClient
	if client == nil {
		client = engine.NewHTTPClient(c.Timeout)
	}
	return engine.Options{
		BaseURL:   c.BaseURL,
		Transport: engine.NewHTTPTransport(client, c.RequestsPerSecond),
		Policy:    engine.PolicyFromConfig(c),
		Headers:   c.Headers,
		Offline:   c.Offline,
		Debug:     engine.Debug{Enabled: c.Debug.Enabled, LogBodies: c.Debug.LogBodies},
		Events:    r.bus,
		Logger:    r.logger,
		Registry:  r.registry,
	}
}

func (r *Runner) userClient() (*services.UserClient, error) {
	authority, _, err := r.userAuthority()
	if err != nil {
		return nil, err
	}
	return services.NewUserClient(authority, r.engineOptions())
}

func (r *Runner) appClient() (*services.AppClient, error) {
	authority, err := r.appAuthority()
	if err != nil {
		return nil, err
	}
	return services.NewAppClient(authority, r.engineOptions())
}

// executor returns the engine behind the user client, or the app client when app is set.
func (r *Runner) executor(app bool) (*engine.Executor, error) {
	if app {
		c, err := r.appClient()
		if err != nil {
			return nil, err
		}
		return c.Executor(), nil
	}
	c, err := r.userClient()
	if err != nil {
		return nil, err
	}
	return c.Executor(), nil
}

// explain adds a next step to errors the user can act on.
func explain(err error) error {
	switch {
	case err == nil:
		return nil
	case shared.RequiresReauth(err), errors.Is(err, shared.ErrNotAuthenticated):
		return fmt.Errorf("%w (run `spotcore auth login`)", err)
	case errors.Is(err, shared.ErrMissingCredentials):
		return fmt.Errorf("%w (set [credentials.spotify] in config.toml)", err)
	}
	return err
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
