package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolated(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{SearchPaths: []string{dir}, EnvFile: filepath.Join(dir, ".env")}
}

func TestLoadDefaults(t *testing.T) {
	opts := isolated(t)

	cfg, err := Load(New(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "release", cfg.Server.Mode)
	assert.Equal(t, "expsync.db", cfg.Database.DSN)
	assert.Equal(t, 5*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Inbox.Debounce)
	assert.Equal(t, ":3000", cfg.Server.Addr())
}

func TestLoadConfigFile(t *testing.T) {
	opts := isolated(t)
	content := `server:
  port: 8081
  mode: debug
database:
  dsn: postgres://localhost/expsync
redis:
  ttl: 30s
`
	require.NoError(t, os.WriteFile(filepath.Join(opts.SearchPaths[0], "expsync.yaml"), []byte(content), 0o644))

	cfg, err := Load(New(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.Mode)
	assert.Equal(t, "postgres://localhost/expsync", cfg.Database.DSN)
	assert.Equal(t, 30*time.Second, cfg.Redis.TTL)
	// Untouched sections keep their defaults.
	assert.Equal(t, "expsync", cfg.Auth.Issuer)
}

func TestLoadExplicitTOMLFile(t *testing.T) {
	opts := isolated(t)
	path := filepath.Join(opts.SearchPaths[0], "custom.toml")
	content := `[database]
dsn = "custom.db"

[inbox]
dir = "/var/spool/expsync"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	opts.File = path

	cfg, err := Load(New(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, "custom.db", cfg.Database.DSN)
	assert.Equal(t, "/var/spool/expsync", cfg.Inbox.Dir)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	opts := isolated(t)
	require.NoError(t, os.WriteFile(filepath.Join(opts.SearchPaths[0], "expsync.yaml"), []byte("server:\n  port: 8081\n"), 0o644))

	t.Setenv("EXPSYNC_SERVER_PORT", "9090")
	t.Setenv("EXPSYNC_DATABASE_DSN", "env.db")
	t.Setenv("EXPSYNC_AUTH_TOKEN_TTL", "1h")

	cfg, err := Load(New(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "env.db", cfg.Database.DSN)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
}

func TestDotEnvFile(t *testing.T) {
	opts := isolated(t)
	require.NoError(t, os.WriteFile(opts.EnvFile, []byte("EXPSYNC_AUTH_ISSUER=from-dotenv\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("EXPSYNC_AUTH_ISSUER") })

	cfg, err := Load(New(opts), opts)
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.Auth.Issuer)
}

func TestMalformedConfigFile(t *testing.T) {
	opts := isolated(t)
	require.NoError(t, os.WriteFile(filepath.Join(opts.SearchPaths[0], "expsync.yaml"), []byte("server: [unclosed\n"), 0o644))

	_, err := Load(New(opts), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000, Mode: "release"},
			Database: DatabaseConfig{DSN: "expsync.db"},
			Auth:     AuthConfig{TokenTTL: time.Hour},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown mode", func(c *Config) { c.Server.Mode = "prod" }},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
		})
	}
}

func TestRender(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 3000, Mode: "release", AllowedOrigins: []string{"*"}},
		Database: DatabaseConfig{DSN: "expsync.db"},
		Auth:     AuthConfig{JWTSecret: "s3cret", Issuer: "expsync", TokenTTL: time.Hour},
	}

	out, err := cfg.Render("yaml")
	require.NoError(t, err)
	assert.Contains(t, string(out), "server:")
	assert.Contains(t, string(out), "dsn: expsync.db")

	out, err = cfg.Render("toml")
	require.NoError(t, err)
	assert.Contains(t, string(out), "[server]")

	out, err = cfg.Render("json")
	require.NoError(t, err)
	var decoded Config
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "expsync.db", decoded.Database.DSN)

	_, err = cfg.Render("xml")
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := &Config{Auth: AuthConfig{JWTSecret: "s3cret"}}

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Auth.JWTSecret)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)

	out, err := red.Render("yaml")
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(out), "s3cret"))
}
