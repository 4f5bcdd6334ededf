package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// SDKVersion is reported with every immediate send.
const SDKVersion = "1.0.0"

type Config struct {
	// Delivery
	RequestURL      string        `env:"TRACKER_REQUEST_URL,required"`
	DeliveryTimeout time.Duration `env:"TRACKER_DELIVERY_TIMEOUT" envDefault:"5s"`
	MaxInFlight     int           `env:"TRACKER_MAX_IN_FLIGHT" envDefault:"64"`

	// Policy and identity
	LazyReport bool              `env:"TRACKER_LAZY_REPORT" envDefault:"false"`
	UUID       string            `env:"TRACKER_UUID"`
	Extra      map[string]string `env:"TRACKER_EXTRA"`

	// Producers
	HistoryTracker bool          `env:"TRACKER_HISTORY" envDefault:"false"`
	HashTracker    bool          `env:"TRACKER_HASH" envDefault:"false"`
	DOMTracker     bool          `env:"TRACKER_DOM" envDefault:"false"`
	JSError        bool          `env:"TRACKER_JS_ERROR" envDefault:"false"`
	TimeTracker    bool          `env:"TRACKER_TIME" envDefault:"false"`
	TimingGrace    time.Duration `env:"TRACKER_TIMING_GRACE" envDefault:"2500ms"`

	// Storage
	StoreDriver string `env:"TRACKER_STORE" envDefault:"sqlite"`
	DataDir     string `env:"TRACKER_DATA_DIR"`
	Fsync       string `env:"TRACKER_FSYNC" envDefault:"always"`

	// Host bridge
	Address string `env:"TRACKER_ADDRESS" envDefault:"127.0.0.1:8123"`

	// Logging
	LogLevel  string `env:"TRACKER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TRACKER_LOG_FORMAT" envDefault:"text"`
}

// Load reads the given .env files, when present, then parses the
// environment. Variables already set take precedence over .env entries.
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.DataDir == "" {
		dir, err := ApplicationDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}
	if cfg.MaxInFlight <= 0 {
		return nil, fmt.Errorf("TRACKER_MAX_IN_FLIGHT must be positive")
	}
	return cfg, nil
}

// ExtraFields returns Extra as a generic mapping, or nil when empty.
func (c *Config) ExtraFields() map[string]any {
	if len(c.Extra) == 0 {
		return nil
	}
	extra := make(map[string]any, len(c.Extra))
	for k, v := range c.Extra {
		extra[k] = v
	}
	return extra
}

// ApplicationDir returns the platform-specific data directory.
func ApplicationDir() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTrace"), nil
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTrace"), nil
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "BrowserTrace"), nil
	}
}
