package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort         int
	JWTSecret        string
	TokenTTL         time.Duration
	AllowedOrigins   []string // empty allows any origin
	MaxMessageLength int      // characters
	SendQueueSize    int      // frames per session
	MaxFrameBytes    int64
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	StoreTimeout     time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         3000,
		TokenTTL:         time.Hour,
		MaxMessageLength: 500,
		SendQueueSize:    256,
		MaxFrameBytes:    64 * 1024,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		StoreTimeout:     5 * time.Second,
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	HTTPPort        int      `toml:"http_port"`
	DatabasePath    string   `toml:"database_path"`
	DatabaseURL     string   `toml:"database_url"` // PostgreSQL DSN; replaces database_path when set
	WorkerID        int64    `toml:"worker_id"`    // message ID worker, distinct per process sharing a database
	JWTSecret       string   `toml:"jwt_secret"`
	TokenTTLMinutes int      `toml:"token_ttl_minutes"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type LimitsSection struct {
	MaxMessageLength    int   `toml:"max_message_length"`
	SendQueueSize       int   `toml:"send_queue_size"`
	WriteTimeoutSeconds int   `toml:"write_timeout_seconds"`
	PingIntervalSeconds int   `toml:"ping_interval_seconds"`
	StoreTimeoutSeconds int   `toml:"store_timeout_seconds"`
	MaxFrameBytes       int64 `toml:"max_frame_bytes"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:        3000,
			DatabasePath:    "~/.allchat/chat.db",
			TokenTTLMinutes: 60,
			AllowedOrigins:  []string{},
		},
		Limits: LimitsSection{
			MaxMessageLength:    500,
			SendQueueSize:       256,
			WriteTimeoutSeconds: 10,
			PingIntervalSeconds: 30,
			StoreTimeoutSeconds: 5,
			MaxFrameBytes:       64 * 1024,
		},
	}
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadConfig loads configuration from a TOML file, creates default if not found
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Unwritable location: run on defaults
			return config, nil
		}
		return config, nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// writeDefaultConfig writes the default config to a file
func writeDefaultConfig(path string, config TOMLConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	header := `# allchat server configuration
# This file was auto-generated with default values
# Set jwt_secret (or the JWT_SECRET environment variable) before exposing the server

`
	if _, err := f.WriteString(header); err != nil {
		return err
	}

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ApplyEnv overrides file values from the environment
func (c *TOMLConfig) ApplyEnv(getenv func(string) string) {
	if secret := getenv("JWT_SECRET"); secret != "" {
		c.Server.JWTSecret = secret
	}
	if url := getenv("DATABASE_URL"); url != "" {
		c.Server.DatabaseURL = url
	}
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	cfg.JWTSecret = c.Server.JWTSecret
	cfg.AllowedOrigins = c.Server.AllowedOrigins

	if c.Server.TokenTTLMinutes > 0 {
		cfg.TokenTTL = time.Duration(c.Server.TokenTTLMinutes) * time.Minute
	}

	if c.Limits.MaxMessageLength > 0 {
		cfg.MaxMessageLength = c.Limits.MaxMessageLength
	}

	if c.Limits.SendQueueSize > 0 {
		cfg.SendQueueSize = c.Limits.SendQueueSize
	}

	if c.Limits.WriteTimeoutSeconds > 0 {
		cfg.WriteTimeout = time.Duration(c.Limits.WriteTimeoutSeconds) * time.Second
	}

	if c.Limits.PingIntervalSeconds > 0 {
		cfg.PingInterval = time.Duration(c.Limits.PingIntervalSeconds) * time.Second
	}

	if c.Limits.StoreTimeoutSeconds > 0 {
		cfg.StoreTimeout = time.Duration(c.Limits.StoreTimeoutSeconds) * time.Second
	}

	if c.Limits.MaxFrameBytes > 0 {
		cfg.MaxFrameBytes = c.Limits.MaxFrameBytes
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}
