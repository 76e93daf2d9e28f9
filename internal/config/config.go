package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for onyx-sync.
type Config struct {
	// ONYX Link API endpoint.
	APIBaseURL string `env:"ONYX_API_URL" envDefault:"https://api.onyxlink.app"`

	// Account credentials (required).
	Email    string `env:"ONYX_EMAIL"`
	Password string `env:"ONYX_PASSWORD"`

	// Directory holding the local database. Defaults to ~/.onyx-sync/
	// after Load when empty.
	DataDir string `env:"ONYX_DATA_DIR"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Interval between automatic sync sessions. Zero disables the timer;
	// sync then only runs after sign-in and via the trigger endpoint.
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`

	// Address for the local sync trigger endpoint.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:8137"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Optional rotated log file path. Empty logs to stdout.
	LogFile string `env:"LOG_FILE"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "onyx-sync"
		}

		cfg.DeviceName = hostname
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return nil, err
		}

		cfg.DataDir = dir
	}

	// Resolve DataDir to an absolute path so log lines and error messages
	// name the real location regardless of the working directory.
	absDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir to absolute path: %w", err)
	}

	cfg.DataDir = absDir

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Email == "" {
		return fmt.Errorf("ONYX_EMAIL is required")
	}

	if c.Password == "" {
		return fmt.Errorf("ONYX_PASSWORD is required")
	}

	if c.SyncInterval < 0 {
		return fmt.Errorf("SYNC_INTERVAL must not be negative")
	}

	return nil
}

// DefaultDataDir returns the default local data directory: ~/.onyx-sync/
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".onyx-sync"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
