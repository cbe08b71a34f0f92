package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./spotcore.db" {
			t.Errorf("expected database path ./spotcore.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Engine.BaseURL != "https://api.spotify.com/v1" {
			t.Errorf("unexpected base url %s", config.Engine.BaseURL)
		}

		if config.Engine.BaseDelay != time.Second || config.Engine.MaxDelay != 30*time.Second {
			t.Errorf("unexpected delays %v/%v", config.Engine.BaseDelay, config.Engine.MaxDelay)
		}

		if config.Engine.MaxRetries != 3 || config.Engine.MaxRateLimitRetries != 1 {
			t.Errorf("unexpected retry budgets %d/%d", config.Engine.MaxRetries, config.Engine.MaxRateLimitRetries)
		}

		if config.Engine.Debug.Enabled || config.Engine.Debug.LogBodies {
			t.Error("debug must default to disabled")
		}

		if len(config.Engine.RetryableStatusCodes) != 4 {
			t.Errorf("expected 4 retryable status codes, got %v", config.Engine.RetryableStatusCodes)
		}

		if config.Server.Addr() != "127.0.0.1:3000" {
			t.Errorf("unexpected addr %s", config.Server.Addr())
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"
use_pkce = true

[engine]
base_url = "http://localhost:9999/v1"
max_retries = 5
base_delay = "250ms"
max_delay = "10s"

[engine.debug]
enabled = true
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Credentials.Spotify.ClientID != "test_client_id" || !config.Credentials.Spotify.UsePKCE {
			t.Errorf("unexpected spotify config %+v", config.Credentials.Spotify)
		}
		if config.Engine.MaxRetries != 5 {
			t.Errorf("expected max_retries 5, got %d", config.Engine.MaxRetries)
		}
		if config.Engine.BaseDelay != 250*time.Millisecond {
			t.Errorf("expected base_delay 250ms, got %v", config.Engine.BaseDelay)
		}
		if !config.Engine.Debug.Enabled {
			t.Error("expected debug to be enabled")
		}
		if config.Engine.DefaultRetryAfter != 5*time.Second {
			t.Errorf("expected untouched default_retry_after to keep default, got %v", config.Engine.DefaultRetryAfter)
		}
	})

	t.Run("LoadConfig Invalid", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		if err := os.WriteFile(configPath, []byte("[engine]\nbase_delay = \"1m\"\nmax_delay = \"1s\"\n"), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		if _, err := LoadConfig(configPath); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig Missing File", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
