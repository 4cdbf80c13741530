package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CONFIG_FILE", "DATABASE_URL", "STORE_DRIVER", "PEBBLE_PATH", "PORT", "JWT_SECRET",
		"AUTH_SKIP_VERIFY", "NATS_URL", "RATE_LIMIT_PER_MINUTE", "RATE_LIMIT_BURST",
		"REPLY_MIN_LENGTH", "REPLY_MAX_LENGTH", "REPLY_EXEMPT_PHRASES", "EVENTS_LOG_CONSUMER",
	} {
		t.Setenv(name, "")
	}
}

// chdir switches the working directory for the test and restores it on cleanup
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_DefaultsWithEnv(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPebble, cfg.Storage.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, 10, cfg.Replies.MinLength)
	assert.Equal(t, 2000, cfg.Replies.MaxLength)
	assert.Equal(t, "secret", cfg.Auth.JWTSecret)
}

func TestLoad_YAMLThenEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: 127.0.0.1
  port: 9000
storage:
  driver: postgres
  database_url: postgres://file/db
auth:
  jwt_secret: from-file
replies:
  min_length: 5
  exempt_phrases: ["+1", "same"]
events:
  handler_timeout: 5s
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("REPLY_MAX_LENGTH", "500")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.Addr())
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://env/db", cfg.Storage.DatabaseURL)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 5, cfg.Replies.MinLength)
	assert.Equal(t, 500, cfg.Replies.MaxLength)
	assert.Equal(t, []string{"+1", "same"}, cfg.Replies.ExemptPhrases)
	assert.Equal(t, 5*time.Second, cfg.Events.HandlerTimeout)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	for _, name := range []string{"JWT_SECRET", "STORE_DRIVER"} {
		require.NoError(t, os.Unsetenv(name))
	}
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=dotenv-secret\nSTORE_DRIVER=pebble\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("JWT_SECRET")
		_ = os.Unsetenv("STORE_DRIVER")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dotenv-secret", cfg.Auth.JWTSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())

	_, err := Load("does-not-exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestApplyEnv_Invalid(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", "eighty")
	assert.Error(t, ApplyEnv(Default()))

	t.Setenv("PORT", "")
	t.Setenv("AUTH_SKIP_VERIFY", "maybe")
	assert.Error(t, ApplyEnv(Default()))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "unknown store driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = DriverPostgres }, "DATABASE_URL"},
		{"no secret", func(c *Config) { c.Auth.JWTSecret = "" }, "JWT_SECRET"},
		{"skip verify without secret", func(c *Config) { c.Auth.JWTSecret = ""; c.Auth.SkipVerify = true }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "invalid port"},
		{"bad rate", func(c *Config) { c.RateLimit.PerMinute = 0 }, "rate limit"},
		{"inverted lengths", func(c *Config) { c.Replies.MinLength = 50; c.Replies.MaxLength = 10 }, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
