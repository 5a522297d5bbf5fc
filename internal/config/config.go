// Package config loads application configuration from satchel.toml (or
// satchel.yaml), environment variables prefixed SATCHEL_, and defaults,
// in that order of increasing precedence for the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the full application configuration.
type Config struct {
	// DataDir holds the database, device identity, and inbox.
	// Default ~/.satchel.
	DataDir string `mapstructure:"data_dir"`

	Remote RemoteConfig `mapstructure:"remote"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Daemon DaemonConfig `mapstructure:"daemon"`
	Log    LogConfig    `mapstructure:"log"`
}

// RemoteConfig points at the hosted change log.
type RemoteConfig struct {
	// URL is the libsql:// endpoint. Empty means sync is not set up.
	URL string `mapstructure:"url"`
	// Token is the auth token for the remote database.
	Token string `mapstructure:"token"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	SkewWindow  time.Duration `mapstructure:"skew_window"`
}

// DaemonConfig tunes the background daemon.
type DaemonConfig struct {
	// DashboardPort is the WebSocket dashboard port. 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`
	// InboxEnabled turns the snapshot inbox watcher on.
	InboxEnabled bool `mapstructure:"inbox_enabled"`
}

// LogConfig controls daemon log output.
type LogConfig struct {
	// File receives daemon logs with rotation. Empty logs to stderr.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration. An explicit path loads exactly that file;
// otherwise satchel.{toml,yaml} is searched in the working directory
// and ~/.satchel. A missing config file is fine, defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SATCHEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultDataDir := filepath.Join(home, ".satchel")

	v.SetDefault("data_dir", defaultDataDir)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.call_timeout", 10*time.Second)
	v.SetDefault("sync.skew_window", 5*time.Minute)
	v.SetDefault("daemon.dashboard_port", 7591)
	v.SetDefault("daemon.inbox_enabled", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 30)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("satchel")
		v.AddConfigPath(".")
		v.AddConfigPath(defaultDataDir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DBPath returns the SQLite database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "satchel.db")
}

// InboxDir returns the snapshot inbox, or "" when disabled.
func (c *Config) InboxDir() string {
	if !c.Daemon.InboxEnabled {
		return ""
	}
	return filepath.Join(c.DataDir, "inbox")
}

// SyncConfigured reports whether a remote endpoint is set up.
func (c *Config) SyncConfigured() bool {
	return c.Remote.URL != ""
}

// DeviceID returns this installation's stable device identity,
// generating and persisting one on first use.
func (c *Config) DeviceID() (string, error) {
	path := filepath.Join(c.DataDir, "device_id")
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0600); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}

// NewLogger builds a prefixed logger honoring the log file settings.
// With a file configured, output rotates via lumberjack.
func (c *Config) NewLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if c.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAge:     c.Log.MaxAgeDays,
		}
	}
	return log.New(out, "["+prefix+"] ", log.LstdFlags)
}
