// Package config loads the kastlog configuration from file, environment
// and defaults. The config is loaded once at startup and injected into
// the stores and engine; nothing reads it ambiently.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// StorageConfig defines the local store location
type StorageConfig struct {
	// DataDir holds the local database (default: ~/.kastlog)
	DataDir string `mapstructure:"data_dir"`
}

// DatabasePath returns the local database file location.
func (c StorageConfig) DatabasePath() string {
	return filepath.Join(c.DataDir, "sessions.db")
}

// RemoteConfig defines the cloud record service connection
type RemoteConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RetryConfig defines the remote retry policy
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
}

// BaseDelayDuration parses the configured base delay.
func (c RetryConfig) BaseDelayDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.BaseDelay)
	if err != nil {
		return 0, fmt.Errorf("invalid retry.base_delay: %w", err)
	}
	return d, nil
}

// DaemonConfig defines the background sync daemon settings
type DaemonConfig struct {
	ResyncInterval   string `mapstructure:"resync_interval"`
	DebounceInterval string `mapstructure:"debounce_interval"`
	// LogFile, when set, routes daemon logs through a rotating file
	LogFile string `mapstructure:"log_file"`
}

// DashboardConfig defines the WebSocket dashboard settings
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration from the given file (optional), the
// environment (KASTLOG_ prefix) and built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("KASTLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".kastlog"))
		}
		v.AddConfigPath(".")
		// Missing config file is fine; defaults apply
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.data_dir", filepath.Join(home, ".kastlog"))
	v.SetDefault("remote.addr", "localhost:6379")
	v.SetDefault("remote.db", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("daemon.resync_interval", "30s")
	v.SetDefault("daemon.debounce_interval", "500ms")
	v.SetDefault("dashboard.port", 8571)
}
