package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Engine      EngineConfig      `toml:"engine"`
	Server      ServerConfig      `toml:"server"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains the OAuth client registration.
type SpotifyConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURI  string   `toml:"redirect_uri"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
	UsePKCE      bool     `toml:"use_pkce"`

	// InvalidatePreviousRefreshToken is set when the server rotates refresh tokens on every refresh.
	InvalidatePreviousRefreshToken bool `toml:"invalidate_previous_refresh_token"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// EngineConfig tunes the request engine: retries, pacing, token refresh and debugging.
type EngineConfig struct {
	BaseURL              string            `toml:"base_url"`
	Timeout              time.Duration     `toml:"timeout"`
	MaxRetries           int               `toml:"max_retries"`
	BaseDelay            time.Duration     `toml:"base_delay"`
	MaxDelay             time.Duration     `toml:"max_delay"`
	RetryableStatusCodes []int             `toml:"retryable_status_codes"`
	MaxRateLimitRetries  int               `toml:"max_rate_limit_retries"`
	DefaultRetryAfter    time.Duration     `toml:"default_retry_after"`
	RequestsPerSecond    float64           `toml:"requests_per_second"`
	RefreshMargin        time.Duration     `toml:"refresh_margin"`
	ExpiringSoon         time.Duration     `toml:"expiring_soon"`
	Offline              bool              `toml:"offline"`
	Headers              map[string]string `toml:"headers"`
	Debug                DebugConfig       `toml:"debug"`
}

// DebugConfig gates request logging and performance measurement. Everything is off by default.
type DebugConfig struct {
	Enabled     bool `toml:"enabled"`
	LogBodies   bool `toml:"log_bodies"`
	EventBuffer int  `toml:"event_buffer"`
}

// ServerConfig contains the local OAuth callback server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Addr returns the host:port pair the callback server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate reports the first setting that would make the engine unusable.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("%w: engine.base_url is required", ErrInvalidConfig)
	}
	if c.Engine.MaxRetries < 0 || c.Engine.MaxRateLimitRetries < 0 {
		return fmt.Errorf("%w: retry counts must not be negative", ErrInvalidConfig)
	}
	if c.Engine.MaxDelay > 0 && c.Engine.BaseDelay > c.Engine.MaxDelay {
		return fmt.Errorf("%w: engine.base_delay exceeds engine.max_delay", ErrInvalidConfig)
	}
	if c.Engine.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: engine.requests_per_second must not be negative", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of [DefaultConfig].
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
