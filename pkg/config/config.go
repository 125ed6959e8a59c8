// Package config loads application settings. Values start from the embedded
// example file, are overridden by an optional TOML file and finally by
// environment variables.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the complete application configuration.
type Config struct {
	Env      string         `toml:"env"`
	Server   ServerConfig   `toml:"server"`
	Spotify  SpotifyConfig  `toml:"spotify"`
	Database DatabaseConfig `toml:"database"`
	Security SecurityConfig `toml:"security"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr                   string   `toml:"addr"`
	CORSOrigins            []string `toml:"cors_origins"`
	ShutdownTimeoutSeconds int      `toml:"shutdown_timeout_seconds"`
}

// SpotifyConfig contains Spotify API credentials and client limits.
type SpotifyConfig struct {
	ClientID          string  `toml:"client_id"`
	ClientSecret      string  `toml:"client_secret"`
	RedirectURL       string  `toml:"redirect_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
}

// DatabaseConfig contains the SQLite location.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SecurityConfig holds the cookie signing key and the secret and salt the
// stored Spotify tokens are encrypted with.
type SecurityConfig struct {
	SigningKey  string `toml:"signing_key"`
	CryptSecret string `toml:"crypt_secret"`
	CryptSalt   string `toml:"crypt_salt"`
}

// LogConfig controls logging output and file rotation.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the configuration encoded in the embedded example file.
func Default() *Config {
	var cfg Config
	if err := toml.Unmarshal(exampleConf, &cfg); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &cfg
}

// Load reads the defaults, the TOML file at path when path is not empty,
// and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteExample writes the example configuration to path. It refuses to
// overwrite an existing file.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"APP_ENV":               &c.Env,
		"LISTEN_ADDR":           &c.Server.Addr,
		"SPOTIFY_CLIENT_ID":     &c.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Spotify.ClientSecret,
		"SPOTIFY_REDIRECT_URL":  &c.Spotify.RedirectURL,
		"DATABASE_PATH":         &c.Database.Path,
		"SIGNING_KEY":           &c.Security.SigningKey,
		"USER_CRYPT_SECRET":     &c.Security.CryptSecret,
		"USER_CRYPT_SALT":       &c.Security.CryptSalt,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"LOG_FILE":              &c.Log.File,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.Server.CORSOrigins = append(c.Server.CORSOrigins, o)
			}
		}
	}
	if v, ok := lookup("CATALOG_RPS"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CATALOG_RPS: %w", err)
		}
		c.Spotify.RequestsPerSecond = f
	}
	if v, ok := lookup("CATALOG_BURST"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CATALOG_BURST: %w", err)
		}
		c.Spotify.Burst = n
	}
	return nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	required := []struct {
		name, value string
	}{
		{"spotify.client_id (SPOTIFY_CLIENT_ID)", c.Spotify.ClientID},
		{"spotify.client_secret (SPOTIFY_CLIENT_SECRET)", c.Spotify.ClientSecret},
		{"spotify.redirect_url (SPOTIFY_REDIRECT_URL)", c.Spotify.RedirectURL},
		{"security.signing_key (SIGNING_KEY)", c.Security.SigningKey},
		{"security.crypt_secret (USER_CRYPT_SECRET)", c.Security.CryptSecret},
		{"security.crypt_salt (USER_CRYPT_SALT)", c.Security.CryptSalt},
		{"database.path (DATABASE_PATH)", c.Database.Path},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s must be set", r.name))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Spotify.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("spotify.requests_per_second must be positive"))
	}
	if c.Spotify.Burst < 1 {
		errs = append(errs, errors.New("spotify.burst must be at least 1"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// LogFormat resolves the log formatter. An unset format logs JSON in
// production and text everywhere else.
func (c *Config) LogFormat() string {
	switch {
	case c.Log.Format != "":
		return c.Log.Format
	case c.IsProduction():
		return "json"
	default:
		return "text"
	}
}

// ShutdownTimeout is the grace period for in-flight requests on shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// SpotifyTimeout bounds one Spotify HTTP request.
func (c *Config) SpotifyTimeout() time.Duration {
	if c.Spotify.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Spotify.TimeoutSeconds) * time.Second
}
