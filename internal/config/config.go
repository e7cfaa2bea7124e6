// Package config loads the sync engine's settings. It uses the Viper
// library to read a config file and environment variables, layered under
// command-line flags, providing a unified configuration system.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of a sync run. Zero values that mean
// "unbounded" or "current year" are resolved where they are consumed.
type Config struct {
	// StoragePath is the destination root: a local directory, gs://bucket/prefix,
	// s3://bucket/prefix, or mem://name. Required.
	StoragePath string `mapstructure:"storage_path"`

	MaxConcurrent     int `mapstructure:"max_concurrent"`
	MaxRetries        int `mapstructure:"max_retries"`
	MaxRuntimeMinutes int `mapstructure:"max_runtime_minutes"`

	ScanStartYear    int `mapstructure:"scan_start_year"`
	ScanEndYear      int `mapstructure:"scan_end_year"`
	GapThresholdDays int `mapstructure:"gap_threshold_days"`
	CadenceDays      int `mapstructure:"cadence_days"`

	ProbeBatchSize         int `mapstructure:"probe_batch_size"`
	CheckpointEveryBatches int `mapstructure:"checkpoint_every_batches"`
	FlushEvery             int `mapstructure:"flush_every"`

	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
	BurstLimit            int     `mapstructure:"burst_limit"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	UserAgent             string  `mapstructure:"user_agent"`
	LandingPage           string  `mapstructure:"landing_page"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Development bool   `mapstructure:"development"`
	LogLevel    string `mapstructure:"log_level"`
}

// New returns a viper instance with every default set and environment
// reading enabled, e.g. STORTING_MAX_CONCURRENT=10. Callers bind their
// flags onto it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.stortinget-register")

	v.SetDefault("max_concurrent", 5)
	v.SetDefault("max_retries", 5)
	v.SetDefault("max_runtime_minutes", 0)
	v.SetDefault("scan_start_year", 2021)
	v.SetDefault("scan_end_year", 0)
	v.SetDefault("gap_threshold_days", 21)
	v.SetDefault("cadence_days", 14)
	v.SetDefault("probe_batch_size", 50)
	v.SetDefault("checkpoint_every_batches", 10)
	v.SetDefault("flush_every", 20)
	v.SetDefault("requests_per_second", 2.0)
	v.SetDefault("burst_limit", 4)
	v.SetDefault("request_timeout_seconds", 60)
	v.SetDefault("user_agent", "stortinget-register-sync/1.0")
	v.SetDefault("landing_page", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("development", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("STORTING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and unmarshals the resolved values.
// A missing config file is fine; a malformed one is not.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the run could not honor.
func (c *Config) Validate() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storage_path is required")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.MaxRetries)
	}
	if c.MaxRuntimeMinutes < 0 {
		return fmt.Errorf("max_runtime_minutes must not be negative, got %d", c.MaxRuntimeMinutes)
	}
	if c.ScanStartYear < 2017 {
		return fmt.Errorf("scan_start_year must be 2017 or later, got %d", c.ScanStartYear)
	}
	if c.ScanEndYear != 0 && c.ScanEndYear < c.ScanStartYear {
		return fmt.Errorf("scan_end_year %d precedes scan_start_year %d", c.ScanEndYear, c.ScanStartYear)
	}
	if c.GapThresholdDays <= 0 || c.CadenceDays <= 0 {
		return fmt.Errorf("gap_threshold_days and cadence_days must be positive")
	}
	if c.ProbeBatchSize <= 0 || c.FlushEvery <= 0 || c.CheckpointEveryBatches <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	return nil
}

// MaxRuntime returns the wall-clock budget, zero meaning unbounded.
func (c *Config) MaxRuntime() time.Duration {
	return time.Duration(c.MaxRuntimeMinutes) * time.Minute
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
