// Package config handles configuration loading for peerscope.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Data    DataConfig    `mapstructure:"data"    yaml:"data" json:"data"`
	Fetch   FetchConfig   `mapstructure:"fetch"   yaml:"fetch" json:"fetch"`
	API     APIConfig     `mapstructure:"api"     yaml:"api" json:"api"`
	Sharpe  SharpeConfig  `mapstructure:"sharpe"  yaml:"sharpe" json:"sharpe"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-" json:"file,omitempty"`
}

// DataConfig holds the on-disk locations of index lists and snapshots.
type DataConfig struct {
	IndexDir    string        `mapstructure:"index_dir"    yaml:"index_dir" json:"index_dir"`
	SnapshotDir string        `mapstructure:"snapshot_dir" yaml:"snapshot_dir" json:"snapshot_dir"`
	StaleAfter  time.Duration `mapstructure:"stale_after"  yaml:"stale_after" json:"stale_after"` // e.g., "96h"
}

// FetchConfig holds market data provider settings.
type FetchConfig struct {
	BaseURL         string        `mapstructure:"base_url"         yaml:"base_url" json:"base_url"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout" yaml:"provider_timeout" json:"provider_timeout"` // per symbol
	Concurrency     int           `mapstructure:"concurrency"      yaml:"concurrency" json:"concurrency"`
	RatePerSec      float64       `mapstructure:"rate_per_sec"     yaml:"rate_per_sec" json:"rate_per_sec"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host" json:"host"`
	Port        int      `mapstructure:"port"         yaml:"port" json:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins" json:"cors_origins"`
}

// SharpeConfig holds settings of the Sharpe ratio view. Zero values take the
// view's defaults.
type SharpeConfig struct {
	HistoryStart string `mapstructure:"history_start" yaml:"history_start" json:"history_start"` // YYYY-MM-DD
	Portfolios   int    `mapstructure:"portfolios"    yaml:"portfolios" json:"portfolios"`       // random weightings drawn
}

// Start returns HistoryStart as a UTC date, or the zero time when unset.
func (c SharpeConfig) Start() (time.Time, error) {
	if c.HistoryStart == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, c.HistoryStart)
	if err != nil {
		return time.Time{}, fmt.Errorf("sharpe.history_start: %w", err)
	}
	return t, nil
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format" json:"format"` // "console" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.peerscope/config.yaml (home directory)
//  3. /etc/peerscope/config.yaml (system)
//
// A .env file in the working directory, if present, is loaded into the
// process environment first. Environment variables override config file
// values. Format: PEERSCOPE_<SECTION>_<KEY>, e.g., PEERSCOPE_DATA_INDEX_DIR
func Load() (*Config, error) {
	loadDotEnv()

	v := newViper()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".peerscope"))
	v.AddConfigPath("/etc/peerscope")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	return unmarshal(v)
}

// Validate checks values that would make the fetch or staleness logic
// misbehave.
func (c *Config) Validate() error {
	if c.Data.IndexDir == "" {
		return fmt.Errorf("data.index_dir must be set")
	}
	if c.Data.SnapshotDir == "" {
		return fmt.Errorf("data.snapshot_dir must be set")
	}
	if c.Data.StaleAfter <= 0 {
		return fmt.Errorf("data.stale_after must be positive, got %s", c.Data.StaleAfter)
	}
	if c.Fetch.ProviderTimeout <= 0 {
		return fmt.Errorf("fetch.provider_timeout must be positive, got %s", c.Fetch.ProviderTimeout)
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1, got %d", c.Fetch.Concurrency)
	}
	if c.Fetch.RatePerSec <= 0 {
		return fmt.Errorf("fetch.rate_per_sec must be positive, got %g", c.Fetch.RatePerSec)
	}
	if _, err := c.Sharpe.Start(); err != nil {
		return err
	}
	if c.Sharpe.Portfolios < 0 {
		return fmt.Errorf("sharpe.portfolios must not be negative, got %d", c.Sharpe.Portfolios)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	return nil
}

// Addr returns the host:port the API server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Environment variable settings
	v.SetEnvPrefix("PEERSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Data defaults
	v.SetDefault("data.index_dir", filepath.Join("static", "index_lists"))
	v.SetDefault("data.snapshot_dir", filepath.Join("data", "snapshots"))
	v.SetDefault("data.stale_after", "96h") // 4 days

	// Fetch defaults
	v.SetDefault("fetch.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("fetch.provider_timeout", "15s")
	v.SetDefault("fetch.concurrency", 5)
	v.SetDefault("fetch.rate_per_sec", 5.0)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:8080"})

	// Sharpe view defaults
	v.SetDefault("sharpe.history_start", "2010-01-01")
	v.SetDefault("sharpe.portfolios", 25000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// loadDotEnv loads ./.env into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	_ = godotenv.Load(".env")
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
