package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTOMLConfigMatchesDefaults(t *testing.T) {
	cfg := DefaultTOMLConfig()
	serverCfg := cfg.ToServerConfig()
	defaults := DefaultConfig()

	assert.Equal(t, defaults.HTTPPort, serverCfg.HTTPPort)
	assert.Equal(t, defaults.TokenTTL, serverCfg.TokenTTL)
	assert.Equal(t, defaults.MaxMessageLength, serverCfg.MaxMessageLength)
	assert.Equal(t, defaults.SendQueueSize, serverCfg.SendQueueSize)
	assert.Equal(t, defaults.WriteTimeout, serverCfg.WriteTimeout)
	assert.Equal(t, defaults.MaxFrameBytes, serverCfg.MaxFrameBytes)
}

func TestToServerConfigMapsValues(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.HTTPPort = 8080
	cfg.Server.JWTSecret = "s3cret"
	cfg.Server.TokenTTLMinutes = 15
	cfg.Server.AllowedOrigins = []string{"https://chat.example"}
	cfg.Limits.MaxMessageLength = 280
	cfg.Limits.SendQueueSize = 8
	cfg.Limits.WriteTimeoutSeconds = 3

	serverCfg := cfg.ToServerConfig()

	assert.Equal(t, 8080, serverCfg.HTTPPort)
	assert.Equal(t, "s3cret", serverCfg.JWTSecret)
	assert.Equal(t, 15*time.Minute, serverCfg.TokenTTL)
	assert.Equal(t, []string{"https://chat.example"}, serverCfg.AllowedOrigins)
	assert.Equal(t, 280, serverCfg.MaxMessageLength)
	assert.Equal(t, 8, serverCfg.SendQueueSize)
	assert.Equal(t, 3*time.Second, serverCfg.WriteTimeout)
}

func TestToServerConfigFallsBackToDefaults(t *testing.T) {
	var cfg TOMLConfig

	serverCfg := cfg.ToServerConfig()
	defaults := DefaultConfig()

	assert.Equal(t, defaults.HTTPPort, serverCfg.HTTPPort)
	assert.Equal(t, defaults.TokenTTL, serverCfg.TokenTTL)
	assert.Equal(t, defaults.MaxMessageLength, serverCfg.MaxMessageLength)
	assert.Equal(t, defaults.SendQueueSize, serverCfg.SendQueueSize)
	assert.Equal(t, defaults.StoreTimeout, serverCfg.StoreTimeout)
	assert.Empty(t, serverCfg.JWTSecret)
}

func TestApplyEnvOverridesSecret(t *testing.T) {
	cfg := DefaultTOMLConfig()
	cfg.Server.JWTSecret = "from-file"

	cfg.ApplyEnv(func(key string) string {
		if key == "JWT_SECRET" {
			return "from-env"
		}
		return ""
	})
	assert.Equal(t, "from-env", cfg.Server.JWTSecret)

	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, "from-env", cfg.Server.JWTSecret, "empty env leaves value unchanged")
}

func TestApplyEnvSelectsPostgres(t *testing.T) {
	cfg := DefaultTOMLConfig()
	assert.Empty(t, cfg.Server.DatabaseURL)

	cfg.ApplyEnv(func(key string) string {
		if key == "DATABASE_URL" {
			return "postgres://chat@localhost/allchat"
		}
		return ""
	})
	assert.Equal(t, "postgres://chat@localhost/allchat", cfg.Server.DatabaseURL)
	assert.Empty(t, cfg.Server.JWTSecret)
}

func TestLoadConfigWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig().Server.HTTPPort, cfg.Server.HTTPPort)

	_, err = os.Stat(path)
	require.NoError(t, err, "default config file should be written")

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Limits, reloaded.Limits)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
http_port = 4000
jwt_secret = "abc"

[limits]
max_message_length = 100
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.Server.HTTPPort)
	assert.Equal(t, "abc", cfg.Server.JWTSecret)
	assert.Equal(t, 100, cfg.Limits.MaxMessageLength)
}

func TestLoadConfigRejectsInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nhttp_port = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestGetDatabasePathExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	cfg := DefaultTOMLConfig()
	path, err := cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".allchat", "chat.db"), path)

	cfg.Server.DatabasePath = "/var/lib/allchat.db"
	path, err = cfg.GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/allchat.db", path)
}
