package config

import (
	"encoding/base64"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key LoadConfig reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "DB_PATH", "BASE_URL", "MEDIA_DIR", "LOG_LEVEL", "CSRF_KEY", "SESSION_KEY",
		"COOKIE_DOMAIN", "COOKIE_SECURE", "LINK_TTL", "SMTP_HOST", "SMTP_PORT",
		"SMTP_USERNAME", "SMTP_PASSWORD", "MAIL_FROM",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Chdir(t.TempDir())
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8585", cfg.Port)
	assert.Equal(t, "./store.db", cfg.DBPath)
	assert.Equal(t, "http://localhost:8585", cfg.BaseURL)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 24*time.Hour, cfg.LinkTTL)
	assert.Equal(t, 587, cfg.SMTPPort)
	assert.False(t, cfg.MailEnabled())
	assert.Len(t, cfg.CSRFKey, 32)
	assert.Len(t, cfg.SessionKey, 32)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	clearEnv(t)
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	t.Setenv("PORT", "9000")
	t.Setenv("BASE_URL", "https://cheappcgames.pk/")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LINK_TTL", "2h")
	t.Setenv("SESSION_KEY", key)
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "https://cheappcgames.pk", cfg.BaseURL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.LinkTTL)
	assert.Equal(t, []byte("0123456789abcdef0123456789abcdef"), cfg.SessionKey)
	assert.True(t, cfg.MailEnabled())
	assert.Equal(t, 2525, cfg.SMTPPort)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"LINK_TTL":  "soon",
		"LOG_LEVEL": "chatty",
		"SMTP_PORT": "smtp",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_InvalidPortFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "http")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8585", cfg.Port)
}
