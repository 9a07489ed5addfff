package app

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		JWTAccessSecret:    "access-secret",
		JWTRefreshSecret:   "refresh-secret",
		PermissionCacheTTL: 5 * time.Minute,
		VersionTTL:         24 * time.Hour,
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "a")
	t.Setenv("JWT_REFRESH_SECRET", "b")
	t.Setenv("API_WHITELIST", "/api/core/auth/*,/api/public/*")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "HS256", cfg.JWTAlgorithm)
	require.Equal(t, 30*time.Minute, cfg.JWTAccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.JWTRefreshTTL)
	require.Equal(t, []string{"/api/core/auth/*", "/api/public/*"}, cfg.APIWhitelist)
	require.Equal(t, 15, cfg.LoginMaxAttempts)
	require.Equal(t, 5, cfg.AccountLockThreshold)
	require.False(t, cfg.DemoMode)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.JWTRefreshSecret = cfg.JWTAccessSecret
	require.ErrorContains(t, cfg.Validate(), "must differ")

	cfg = validConfig()
	cfg.VersionTTL = time.Minute
	require.ErrorContains(t, cfg.Validate(), "version ttl")

	cfg = validConfig()
	cfg.PermissionCacheTTL = 0
	require.ErrorContains(t, cfg.Validate(), "positive")
}

func TestLoggerFormatAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "shown", entry["msg"])
	require.Equal(t, "warden", entry["service"])
	require.Equal(t, "v", entry["k"])
}
