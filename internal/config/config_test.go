package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5000", cfg.Server.Addr())
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.IsEmbedded())
	assert.True(t, cfg.Database.AutoMigrate)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "vidsnag_session", cfg.Session.CookieName)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "yt-dlp", cfg.Extractor.Binary)
	assert.Equal(t, "Admin", cfg.Bootstrap.AdminUsername)
	assert.Equal(t, 999999, cfg.Bootstrap.AdminDailyLimit)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
database:
  path: /var/lib/vidsnag/file.db
extractor:
  timeout: 45s
`), 0o600))

	t.Setenv("VIDSNAG_SERVER_PORT", "9090")
	t.Setenv("VIDSNAG_SESSION_SECURE_COOKIE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Session.SecureCookie)
	assert.Equal(t, "/var/lib/vidsnag/file.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Extractor.Timeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad driver", "VIDSNAG_DATABASE_DRIVER", "mysql"},
		{"bad port", "VIDSNAG_SERVER_PORT", "70000"},
		{"bad log level", "VIDSNAG_LOGGING_LEVEL", "loud"},
		{"bad log format", "VIDSNAG_LOGGING_FORMAT", "xml"},
		{"negative admin limit", "VIDSNAG_BOOTSTRAP_ADMIN_DAILY_LIMIT", "-1"},
		{"zero rate limit", "VIDSNAG_RATE_LIMIT_REQUESTS", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestMustLoad_PanicsOnMissingFile(t *testing.T) {
	assert.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
	})
}
