package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// SelfChildArg is the subcommand the binary runs when it is its own child.
const SelfChildArg = "repl"

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Child   ChildConfig
	Buffer  BufferConfig
	Logging LogConfig
	Store   StoreConfig
	Gateway GatewayConfig
}

// ServerConfig holds the UI server configuration.
type ServerConfig struct {
	Addr string `envconfig:"PTYBRIDGE_ADDR" default:"127.0.0.1:8800"`
}

// ChildConfig describes the process spawned inside the pseudo-terminal.
type ChildConfig struct {
	// Path is the executable to run. Empty means the running binary itself.
	Path string   `envconfig:"PTYBRIDGE_CHILD"`
	// Args defaults to "repl" only when Path is empty.
	Args []string `envconfig:"PTYBRIDGE_CHILD_ARGS"`
	Rows uint16   `envconfig:"PTYBRIDGE_ROWS" default:"24"`
	Cols uint16   `envconfig:"PTYBRIDGE_COLS" default:"80"`
}

// BufferConfig controls how output is read and held before the UI initializes.
type BufferConfig struct {
	ReadChunk int `envconfig:"PTYBRIDGE_READ_CHUNK" default:"1024"`
	// MaxPending caps the pending buffer in bytes. Zero keeps it unbounded.
	MaxPending int `envconfig:"PTYBRIDGE_MAX_PENDING" default:"0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// StoreConfig holds the session journal location. "off" disables it.
type StoreConfig struct {
	Path string `envconfig:"PTYBRIDGE_DB"`
}

// GatewayConfig enables the optional reverse tunnel.
type GatewayConfig struct {
	URL    string `envconfig:"PTYBRIDGE_GATEWAY_URL"`
	Secret string `envconfig:"PTYBRIDGE_GATEWAY_SECRET"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Child.Path == "" && len(cfg.Child.Args) == 0 {
		cfg.Child.Args = []string{SelfChildArg}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaultStorePath()
	}
	return &cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	if c.Buffer.ReadChunk <= 0 {
		return fmt.Errorf("PTYBRIDGE_READ_CHUNK must be positive, got %d", c.Buffer.ReadChunk)
	}
	if c.Buffer.MaxPending < 0 {
		return fmt.Errorf("PTYBRIDGE_MAX_PENDING must not be negative, got %d", c.Buffer.MaxPending)
	}
	if c.Child.Rows == 0 || c.Child.Cols == 0 {
		return fmt.Errorf("terminal geometry must be non-zero, got %dx%d", c.Child.Rows, c.Child.Cols)
	}
	if c.Gateway.URL != "" && c.Gateway.Secret == "" {
		return fmt.Errorf("PTYBRIDGE_GATEWAY_SECRET is required when PTYBRIDGE_GATEWAY_URL is set")
	}
	return nil
}

// StoreEnabled reports whether the session journal should be opened.
func (c *Config) StoreEnabled() bool {
	return c.Store.Path != "" && c.Store.Path != "off"
}

// defaultStorePath returns ~/.ptybridge/sessions.db, or a relative path if
// the home directory cannot be resolved.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sessions.db"
	}
	return filepath.Join(home, ".ptybridge", "sessions.db")
}
