// Package config loads drift configuration.
//
// Configuration lives in .drift/config.toml inside the workspace.
// Environment variables (DRIFT_*) override file values. The remote
// credential is supplied exclusively via DRIFT_REMOTE_TOKEN and is never
// persisted to the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dir is the workspace metadata directory name.
const Dir = ".drift"

// TokenEnv is the environment variable carrying the remote credential.
const TokenEnv = "DRIFT_REMOTE_TOKEN"

// Config is the explicit configuration object passed into the engine at
// construction time. Nothing reads it from ambient global state.
type Config struct {
	// RemoteURL is the base URL of the sync hub.
	RemoteURL string `mapstructure:"remote_url"`

	// RemoteTable is the hub table this workspace synchronizes with.
	RemoteTable string `mapstructure:"remote_table"`

	// Timeout bounds every remote call.
	Timeout time.Duration `mapstructure:"timeout"`

	// Author is the identity stamped on local mutations.
	Author string `mapstructure:"author"`

	// Token is the bearer credential, from the environment only.
	Token string `mapstructure:"-"`
}

// Validate checks that the settings a sync invocation needs are present.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required")
	}
	if c.RemoteTable == "" {
		return fmt.Errorf("remote_table is required")
	}
	if c.Token == "" {
		return fmt.Errorf("remote credential missing: set %s", TokenEnv)
	}
	return nil
}

// Path returns the config file location under the workspace root.
func Path(workspace string) string {
	return filepath.Join(workspace, Dir, "config.toml")
}

// Load reads the workspace config file and applies DRIFT_* environment
// overrides. A missing file is not an error; defaults and environment
// still apply, and Validate decides whether enough is present.
func Load(workspace string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(Path(workspace))
	v.SetConfigType("toml")

	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("author", defaultAuthor())

	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Viper's AutomaticEnv does not populate Unmarshal for keys absent
	// from the file, so pick the overrides up explicitly.
	if raw := os.Getenv("DRIFT_REMOTE_URL"); raw != "" {
		cfg.RemoteURL = raw
	}
	if raw := os.Getenv("DRIFT_REMOTE_TABLE"); raw != "" {
		cfg.RemoteTable = raw
	}
	if raw := os.Getenv("DRIFT_AUTHOR"); raw != "" {
		cfg.Author = raw
	}
	if raw := os.Getenv("DRIFT_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.Timeout = d
		}
	}

	cfg.Token = os.Getenv(TokenEnv)
	return &cfg, nil
}

// Write persists the non-secret settings to the workspace config file.
// Used by `drift init`; the token is deliberately excluded.
func Write(workspace string, cfg *Config) error {
	dir := filepath.Join(workspace, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "remote_url = %q\n", cfg.RemoteURL)
	fmt.Fprintf(&sb, "remote_table = %q\n", cfg.RemoteTable)
	fmt.Fprintf(&sb, "timeout = %q\n", cfg.Timeout.String())
	if cfg.Author != "" {
		fmt.Fprintf(&sb, "author = %q\n", cfg.Author)
	}

	if err := os.WriteFile(Path(workspace), []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// defaultAuthor derives an identity from the environment, matching the
// git convention of user@host when nothing is configured.
func defaultAuthor() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return user
	}
	return user + "@" + host
}

// StorePath returns the local store database location.
func StorePath(workspace string) string {
	return filepath.Join(workspace, Dir, "drift.db")
}

// AuditPath returns the audit log location.
func AuditPath(workspace string) string {
	return filepath.Join(workspace, Dir, "audit.log")
}
