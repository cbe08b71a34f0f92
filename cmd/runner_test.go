package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/shared"
	tu "github.com/desertthunder/spotcore/internal/testing"
	"github.com/desertthunder/spotcore/internal/ui"
)

type fakeAPI struct {
	*httptest.Server
	hits atomic.Int64
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"status":401,"message":"The access token expired"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"u1","display_name":"Ada","product":"premium","followers":{"total":7}}`)
	})
	mux.HandleFunc("GET /v1/items", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		const total = 5
		end := min(offset+limit, total)
		var items []string
		for i := offset; i < end; i++ {
			items = append(items, fmt.Sprintf(`{"n":%d}`, i))
		}
		next := "null"
		if end < total {
			next = `"` + r.URL.Path + `?offset=` + strconv.Itoa(end) + `"`
		}
		fmt.Fprintf(w, `{"items":[%s],"limit":%d,"offset":%d,"total":%d,"next":%s}`, strings.Join(items, ","), limit, offset, total, next)
	})

	mux.HandleFunc("GET /v1/me/playlists", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"items":[{"id":"p1","name":"One","tracks":{"total":1}},{"id":"p2","name":"Two","tracks":{"total":1}}],"limit":50,"offset":0,"total":2,"next":null}`)
	})
	mux.HandleFunc("GET /v1/playlists/{id}", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":%q,"name":"Playlist %s","public":true,"tracks":{"items":[],"total":1}}`, r.PathValue("id"), r.PathValue("id"))
	})
	mux.HandleFunc("GET /v1/playlists/{id}/tracks", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		fmt.Fprintf(w, `{"items":[{"track":{"id":"%s-t","name":"Song","duration_ms":61000,"artists":[{"name":"Artist"}],"album":{"name":"Album"}}}],"limit":50,"offset":0,"total":1,"next":null}`, id)
	})

	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(api.Close)
	return api
}

type testEnv struct {
	runner *Runner
	out    *bytes.Buffer
	user   *auth.MemoryStore
	app    *auth.MemoryStore
	config *shared.Config
}

func newTestEnv(t *testing.T, apiURL string, user *auth.Credential) *testEnv {
	t.Helper()

	config := shared.DefaultConfig()
	config.Engine.BaseURL = apiURL + "/v1"
	config.Engine.BaseDelay = time.Millisecond
	config.Engine.MaxDelay = time.Millisecond

	env := &testEnv{
		out:    &bytes.Buffer{},
		user:   auth.NewMemoryStore(user),
		app:    auth.NewMemoryStore(nil),
		config: config,
	}
	env.runner = NewRunner(RunnerOpts{
		Config:  config,
		Logger:  shared.NewLogger(io.Discard),
		Output:  env.out,
		Palette: ui.Plain(),
		Stores:  map[string]auth.CredentialStore{userStoreKey: env.user, appStoreKey: env.app},
	})
	return env
}

func (e *testEnv) useTokenServer(ts *tu.TokenServer) {
	e.config.Credentials.Spotify.ClientID = "client"
	e.config.Credentials.Spotify.ClientSecret = "secret"
	e.config.Credentials.Spotify.TokenURL = ts.TokenURL()
}

func (e *testEnv) run(args ...string) error {
	return e.runner.app().Run(context.Background(), append([]string{"spotcore"}, args...))
}

func valid(token string) *auth.Credential {
	return &auth.Credential{AccessToken: token, RefreshToken: "refresh", TokenType: "Bearer", ExpiresAt: time.Now().Add(time.Hour)}
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil {
				t.Error("expected default config to be set")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.palette != ui.Styles {
				t.Error("expected the default palette")
			}
			if runner.bus == nil || runner.registry == nil {
				t.Error("expected a bus and registry")
			}
		})

		t.Run("with stores does not open a database", func(t *testing.T) {
			store := auth.NewMemoryStore(nil)
			runner := NewRunner(RunnerOpts{Stores: map[string]auth.CredentialStore{userStoreKey: store}})

			got, err := runner.store(userStoreKey)
			if err != nil || got != store {
				t.Errorf("expected the injected store, got %v (%v)", got, err)
			}
			if runner.db != nil {
				t.Error("database should stay closed")
			}
		})

		t.Run("opens sqlite stores on demand", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Database.Path = ":memory:"
			runner := NewRunner(RunnerOpts{Config: config})
			defer runner.Close()

			store, err := runner.store(appStoreKey)
			if err != nil {
				t.Fatalf("failed to open store: %v", err)
			}
			if err := store.Save(context.Background(), valid("a")); err != nil {
				t.Fatalf("failed to save: %v", err)
			}
			if runner.db == nil {
				t.Error("expected the database to be open")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("prints the response", func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api.URL, valid("good"))

			if err := env.run("get", "me"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(env.out.String(), `"id":"u1"`) {
				t.Errorf("unexpected output %q", env.out.String())
			}
		})

		t.Run("refreshes once after 401", func(t *testing.T) {
			api := newFakeAPI(t)
			ts := tu.NewTokenServer()
			defer ts.Close()

			env := newTestEnv(t, api.URL, valid("stale"))
			env.useTokenServer(ts)

			if err := env.run("get", "/me"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.Count("refresh_token") != 1 {
				t.Errorf("expected 1 refresh, got %d", ts.Count("refresh_token"))
			}
			if api.hits.Load() != 2 {
				t.Errorf("expected 2 API requests, got %d", api.hits.Load())
			}
			stored, _ := env.user.Load(context.Background())
			if stored.AccessToken != "access-1" {
				t.Errorf("expected the refreshed credential to be stored, got %s", stored.AccessToken)
			}
		})

		t.Run("missing credential asks for login", func(t *testing.T) {
			api := newFakeAPI(t)
			ts := tu.NewTokenServer()
			defer ts.Close()

			env := newTestEnv(t, api.URL, nil)
			env.useTokenServer(ts)

			err := env.run("get", "/me")
			if !shared.RequiresReauth(err) {
				t.Errorf("expected a reauthentication error, got %v", err)
			}
			if err == nil || !strings.Contains(err.Error(), "spotcore auth login") {
				t.Errorf("expected a login hint, got %v", err)
			}
			if api.hits.Load() != 0 {
				t.Error("no API request should be sent without a credential")
			}
		})

		t.Run("app credential", func(t *testing.T) {
			api := newFakeAPI(t)
			ts := tu.NewTokenServer()
			defer ts.Close()

			env := newTestEnv(t, api.URL, nil)
			env.useTokenServer(ts)

			if err := env.run("get", "--app", "/me"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if ts.Count("client_credentials") != 1 {
				t.Errorf("expected 1 client credentials request, got %d", ts.Count("client_credentials"))
			}
			if c, _ := env.app.Load(context.Background()); c == nil {
				t.Error("expected the app credential to be stored")
			}
		})

		t.Run("argument validation", func(t *testing.T) {
			env := newTestEnv(t, "http://unused.test", valid("good"))

			if err := env.run("get"); !errors.Is(err, shared.ErrMissingArgument) {
				t.Errorf("expected ErrMissingArgument, got %v", err)
			}
			if err := env.run("get", "-q", "novalue", "/me"); !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	})

	t.Run("Paginate", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api.URL, valid("good"))

		if err := env.run("paginate", "--limit", "2", "--max-items", "3", "/items"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		lines := strings.Split(strings.TrimSpace(env.out.String()), "\n")
		if strings.Join(lines, "|") != `{"n":0}|{"n":1}|{"n":2}` {
			t.Errorf("unexpected items %v", lines)
		}
		if api.hits.Load() != 2 {
			t.Errorf("expected 2 page requests, got %d", api.hits.Load())
		}
	})

	t.Run("Events", func(t *testing.T) {
		api := newFakeAPI(t)
		env := newTestEnv(t, api.URL, valid("good"))

		if err := env.run("events", "--repeat", "3", "/me"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out := env.out.String()
		if !strings.Contains(out, "performance GET /me 200") {
			t.Errorf("expected performance events, got %q", out)
		}
		if !strings.Contains(out, "metrics calls=3 failures=0") {
			t.Errorf("expected metrics summary, got %q", out)
		}
	})

	t.Run("Auth", func(t *testing.T) {
		t.Run("status", func(t *testing.T) {
			env := newTestEnv(t, "http://unused.test", valid("good"))

			if err := env.run("auth", "status"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := env.out.String()
			if !strings.Contains(out, "user\n  ✓ authenticated") {
				t.Errorf("expected user to be authenticated, got %q", out)
			}
			if !strings.Contains(out, "app\n  ✗ not authenticated") {
				t.Errorf("expected app to be unauthenticated, got %q", out)
			}
		})

		t.Run("logout", func(t *testing.T) {
			env := newTestEnv(t, "http://unused.test", valid("good"))
			env.app.Save(context.Background(), valid("app"))

			if err := env.run("auth", "logout"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c, _ := env.user.Load(context.Background()); c != nil {
				t.Error("expected the user credential to be cleared")
			}
			if c, _ := env.app.Load(context.Background()); c == nil {
				t.Error("the app credential should survive a user logout")
			}

			if err := env.run("auth", "logout", "--app"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c, _ := env.app.Load(context.Background()); c != nil {
				t.Error("expected the app credential to be cleared")
			}
		})

		t.Run("login with PKCE", func(t *testing.T) {
			ts := tu.NewTokenServer()
			defer ts.Close()

			port := freePort(t)
			env := newTestEnv(t, "http://unused.test", nil)
			env.config.Credentials.Spotify = shared.SpotifyConfig{
				ClientID:    "client",
				RedirectURI: fmt.Sprintf("http://127.0.0.1:%d/auth/callback", port),
				AuthURL:     "https://accounts.test/authorize",
				TokenURL:    ts.TokenURL(),
				UsePKCE:     true,
			}
			env.config.Server = shared.ServerConfig{Host: "127.0.0.1", Port: port}

			env.runner.browser = func(_ context.Context, authURL string) error {
				u, err := url.Parse(authURL)
				if err != nil {
					return err
				}
				q := u.Query()
				if q.Get("code_challenge_method") != "S256" {
					return fmt.Errorf("missing PKCE challenge in %s", authURL)
				}
				callback := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=granted"
				go func() {
					if resp, err := http.Get(callback); err == nil {
						resp.Body.Close()
					}
				}()
				return nil
			}

			if err := env.run("auth", "login", "--timeout", "5s"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			forms := ts.Forms()
			if len(forms) != 1 || forms[0]["code"] != "granted" || forms[0]["code_verifier"] == "" {
				t.Errorf("unexpected token request %v", forms)
			}
			stored, _ := env.user.Load(context.Background())
			if stored == nil || stored.AccessToken != "access-1" {
				t.Errorf("expected the exchanged credential to be stored, got %+v", stored)
			}
			if !strings.Contains(env.out.String(), "Authorization successful") {
				t.Errorf("unexpected output %q", env.out.String())
			}
		})
	})

	t.Run("Spotify", func(t *testing.T) {
		t.Run("me", func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api.URL, valid("good"))

			if err := env.run("spotify", "me"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := env.out.String()
			if !strings.Contains(out, "Ada (u1)") || !strings.Contains(out, "Followers: 7") {
				t.Errorf("unexpected output %q", out)
			}
		})

		t.Run("export as csv", func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api.URL, valid("good"))

			if err := env.run("spotify", "export", "--id", "p1", "--format", "csv"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			want := "ID,Title,Artist,Album,Duration,ISRC\np1-t,Song,Artist,Album,61,\n"
			if env.out.String() != want {
				t.Errorf("output = %q, want %q", env.out.String(), want)
			}
		})

		t.Run("export rejects unknown format", func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api.URL, valid("good"))

			err := env.run("spotify", "export", "--id", "p1", "--format", "xml")
			if !errors.Is(err, shared.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
			if api.hits.Load() != 0 {
				t.Errorf("no request expected, got %d", api.hits.Load())
			}
		})

		t.Run("backup", func(t *testing.T) {
			api := newFakeAPI(t)
			env := newTestEnv(t, api.URL, valid("good"))
			dir := filepath.Join(t.TempDir(), "backup")

			if err := env.run("spotify", "backup", "--format", "txt", "--output-dir", dir, "--rate", "100"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			out := env.out.String()
			if !strings.Contains(out, "Found 2 playlists") || !strings.Contains(out, "2/2 playlists exported") {
				t.Errorf("unexpected output %q", out)
			}
			for _, name := range []string{"p1_tracks.txt", "p2_tracks.txt", "export_manifest.json"} {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Errorf("expected %s: %v", name, err)
				}
			}
		})
	})

	t.Run("Configure", func(t *testing.T) {
		t.Run("loads the config file", func(t *testing.T) {
			api := newFakeAPI(t)
			dir := t.TempDir()
			path := filepath.Join(dir, "config.toml")
			content := fmt.Sprintf("[engine]\nbase_url = %q\noffline = true\n", api.URL+"/v1")
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatalf("failed to write config: %v", err)
			}

			env := newTestEnv(t, "http://unused.test", valid("good"))
			err := env.run("--config", path, "get", "/me")
			if !errors.Is(err, shared.ErrOffline) {
				t.Errorf("expected ErrOffline, got %v", err)
			}
			if api.hits.Load() != 0 {
				t.Error("offline mode must not send requests")
			}
		})

		t.Run("missing explicit config", func(t *testing.T) {
			env := newTestEnv(t, "http://unused.test", valid("good"))
			err := env.run("--config", filepath.Join(t.TempDir(), "nope.toml"), "auth", "status")
			if !errors.Is(err, shared.ErrMissingConfig) {
				t.Errorf("expected ErrMissingConfig, got %v", err)
			}
		})

		t.Run("offline flag", func(t *testing.T) {
			env := newTestEnv(t, "http://unused.test", valid("good"))
			if err := env.run("--offline", "get", "/me"); !errors.Is(err, shared.ErrOffline) {
				t.Errorf("expected ErrOffline, got %v", err)
			}
		})
	})

	t.Run("Output", func(t *testing.T) {
		env := newTestEnv(t, "http://unused.test", nil)

		if err := env.runner.writeJSON(map[string]int{"a": 1}, false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := env.runner.writeRaw(json.RawMessage(`{ "b" : 2 }`), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if env.out.String() != "{\"a\":1}\n{\"b\":2}\n" {
			t.Errorf("unexpected output %q", env.out.String())
		}
		if err := env.runner.writeRaw([]byte("not json"), false); err == nil {
			t.Error("expected a format error")
		}
	})
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find a free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
