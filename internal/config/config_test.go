package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(TokenEnv, "sekrit")

	in := &Config{
		RemoteURL:   "https://hub.example.com",
		RemoteTable: "artifacts",
		Timeout:     10 * time.Second,
		Author:      "alice@dev",
	}
	require.NoError(t, Write(ws, in))

	out, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.com", out.RemoteURL)
	assert.Equal(t, "artifacts", out.RemoteTable)
	assert.Equal(t, 10*time.Second, out.Timeout)
	assert.Equal(t, "alice@dev", out.Author)
	assert.Equal(t, "sekrit", out.Token)
}

func TestTokenNeverPersisted(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(TokenEnv, "sekrit")

	cfg := &Config{
		RemoteURL:   "https://hub.example.com",
		RemoteTable: "artifacts",
		Timeout:     time.Second,
		Token:       "sekrit",
	}
	require.NoError(t, Write(ws, cfg))

	raw, err := os.ReadFile(Path(ws))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "sekrit"),
		"credential leaked into config file")
	assert.False(t, strings.Contains(strings.ToLower(string(raw)), "token"),
		"config file should not carry a token key at all")
}

func TestLoadMissingFile(t *testing.T) {
	ws := t.TempDir()
	t.Setenv(TokenEnv, "")

	cfg, err := Load(ws)
	require.NoError(t, err)

	// Defaults apply; validation decides whether enough is present.
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.NotEmpty(t, cfg.Author)
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, Write(ws, &Config{
		RemoteURL:   "https://old.example.com",
		RemoteTable: "artifacts",
		Timeout:     time.Second,
	}))

	t.Setenv("DRIFT_REMOTE_URL", "https://new.example.com")
	t.Setenv("DRIFT_AUTHOR", "carol@dev")
	t.Setenv("DRIFT_TIMEOUT", "3s")
	t.Setenv(TokenEnv, "sekrit")

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "https://new.example.com", cfg.RemoteURL)
	assert.Equal(t, "carol@dev", cfg.Author)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		RemoteURL:   "https://hub.example.com",
		RemoteTable: "artifacts",
		Token:       "sekrit",
	}
	assert.NoError(t, cfg.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing url", func(c *Config) { c.RemoteURL = "" }},
		{"missing table", func(c *Config) { c.RemoteTable = "" }},
		{"missing token", func(c *Config) { c.Token = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *cfg
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
