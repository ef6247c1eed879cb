// Package config loads the daemon configuration and the per-job definition
// files.
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

// StoreConfig selects the run history backend. Driver is one of "sqlite",
// "postgres" or "none"; with "none" run history is discarded.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"` // sqlite database file
	DSN    string `mapstructure:"dsn"`  // postgres connection string
}

// ListenerConfig tunes the execution listener.
type ListenerConfig struct {
	SaveTimeout time.Duration `mapstructure:"save_timeout"`
}

// HistoryConfig controls background retention of run records.
type HistoryConfig struct {
	RetentionDays int           `mapstructure:"retention_days"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Listen       string         `mapstructure:"listen"`
	DataDir      string         `mapstructure:"data_dir"`
	JobsDir      string         `mapstructure:"jobs_dir"`
	InstanceName string         `mapstructure:"instance_name"`
	LogLevel     string         `mapstructure:"log_level"`
	Store        StoreConfig    `mapstructure:"store"`
	Listener     ListenerConfig `mapstructure:"listener"`
	History      HistoryConfig  `mapstructure:"history"`
}

// Load reads the configuration file at path (or the default locations when
// path is empty) with CRONEYE_* environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("croneye")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/croneye")
		v.AddConfigPath("/etc/croneye")
	}

	v.SetEnvPrefix("CRONEYE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("log_level", "info")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("listener.save_timeout", 5*time.Second)
	v.SetDefault("history.retention_days", 30)
	v.SetDefault("history.purge_interval", time.Hour)

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the default search path is fine; defaults and
		// environment overrides still apply. An explicit path must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(c *Config) {
	c.DataDir = expandPath(c.DataDir)
	if c.JobsDir == "" {
		c.JobsDir = defaultJobsDir()
	}
	c.JobsDir = expandPath(c.JobsDir)
	if c.InstanceName == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.InstanceName = host
		} else {
			c.InstanceName = "croneye"
		}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "croneye.db")
	} else {
		c.Store.Path = expandPath(c.Store.Path)
	}
	if c.Listener.SaveTimeout <= 0 {
		c.Listener.SaveTimeout = 5 * time.Second
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = 30
	}
	if c.History.PurgeInterval <= 0 {
		c.History.PurgeInterval = time.Hour
	}
}

func defaultJobsDir() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "./jobs"
	}
	return filepath.Join(home, ".config", "croneye", "jobs")
}

func expandPath(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return value
	}

	v = os.ExpandEnv(v)

	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return v
	}

	if v == "~" {
		return home
	}
	if strings.HasPrefix(v, "~/") || strings.HasPrefix(v, "~\\") {
		return filepath.Join(home, v[2:])
	}
	return v
}
