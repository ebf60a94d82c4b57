// Package service manages rendersync configuration and wires the farm
// client, transmitter, ledger and recorders into ready-to-run components.
package service

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all rendersync configuration.
type Config struct {
	Transfer TransferConfig `toml:"transfer"`
	Poll     PollConfig     `toml:"poll"`
	Retry    RetryConfig    `toml:"retry"`
	Upload   UploadConfig   `toml:"upload"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Farm     FarmConfig     `toml:"farm"`
	Ledger   LedgerConfig   `toml:"ledger"`
	API      APIConfig      `toml:"api"`
	Logging  LoggingConfig  `toml:"logging"`
}

// TransferConfig controls the transmitter and the defaults of every
// transfer.
type TransferConfig struct {
	Transmitter    string `toml:"transmitter"` // path; empty searches $RENDERSYNC_HOME/bin then PATH
	Engine         string `toml:"engine"`
	Network        int    `toml:"network_mode"`
	MaxSpeed       string `toml:"max_speed"`
	ServerHost     string `toml:"server_host"`
	ServerPort     string `toml:"server_port"`
	LocalPath      string `toml:"local_path"`
	FilenameFormat bool   `toml:"filename_format"`
}

// PollConfig controls the orchestrator loop.
type PollConfig struct {
	Mode     string `toml:"mode"`
	Interval string `toml:"interval"`
	Grace    string `toml:"grace"`
	Layout   string `toml:"layout"`
}

// RetryConfig controls the transfer retry budget.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
	MaxDelay    string `toml:"max_delay"`
}

// UploadConfig controls asset uploads.
type UploadConfig struct {
	PoolSize       int    `toml:"pool_size"`
	Recorder       string `toml:"recorder"` // "", redis or sqlite
	ParentUserID   string `toml:"parent_user_id"`
	ParentInputBid string `toml:"parent_input_bid"`
}

// DatabaseConfig selects the database the transmitter tracks uploads in.
type DatabaseConfig struct {
	On         bool   `toml:"on"`
	Type       string `toml:"type"`
	Path       string `toml:"db_path"`
	PlatformID string `toml:"platform_id"`
}

// RedisConfig is shared by the db ini and the Redis upload recorder.
type RedisConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Password   string `toml:"password"`
	TableIndex string `toml:"table_index"`
	Timeout    int    `toml:"timeout"` // milliseconds
}

// SQLiteConfig controls the transmitter's sqlite upload database.
type SQLiteConfig struct {
	Temporary bool `toml:"temporary"`
}

// FarmConfig points at the farm's task API.
type FarmConfig struct {
	Endpoint string `toml:"endpoint"`
	Token    string `toml:"token"`
	Timeout  string `toml:"timeout"`
}

// LedgerConfig controls the SQLite run ledger.
type LedgerConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// APIConfig controls the status server.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	File        string `toml:"file"`
	Transmitter bool   `toml:"transmitter"` // echo transmitter output
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	homeDir := rendersyncHome()
	return Config{
		Transfer: TransferConfig{
			Engine:         "aspera",
			Network:        0,
			MaxSpeed:       "1048576",
			FilenameFormat: true,
		},
		Poll: PollConfig{
			Mode:     "simple",
			Interval: "10s",
			Grace:    "5s",
		},
		Retry: RetryConfig{
			MaxAttempts: 10,
		},
		Upload: UploadConfig{
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			On:   true,
			Type: "sqlite",
			Path: homeDir,
		},
		Redis: RedisConfig{
			Host:    "127.0.0.1",
			Port:    6379,
			Timeout: 5000,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Dir:     homeDir,
		},
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8765,
			Metrics: true,
		},
		Logging: LoggingConfig{
			File: filepath.Join(homeDir, "rendersync.log"),
		},
	}
}

// LoadConfig reads config from ~/.rendersync/config.toml, falling back to
// defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFile(filepath.Join(rendersyncHome(), "config.toml"))
}

// LoadConfigFile reads config from path over the defaults. A missing file
// yields the defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to ~/.rendersync/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(rendersyncHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// rendersyncHome returns the rendersync data directory.
func rendersyncHome() string {
	if env := os.Getenv("RENDERSYNC_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".rendersync")
}

// Home is exported for use by other packages.
func Home() string {
	return rendersyncHome()
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
