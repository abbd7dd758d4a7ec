// Package config loads orchestrator settings from a TOML file,
// falling back to defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all orchestrator configuration
type Config struct {
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Resilience ResilienceConfig `toml:"resilience"`
	Progress   ProgressConfig   `toml:"progress"`
	Checkpoint CheckpointConfig `toml:"checkpoint"`
	Web        WebConfig        `toml:"web"`
}

// SchedulerConfig controls job dispatch
type SchedulerConfig struct {
	MaxConcurrent     int `toml:"max_concurrent"`
	JobTimeoutSeconds int `toml:"job_timeout_seconds"`
}

// ResilienceConfig selects the retry preset and breaker thresholds
type ResilienceConfig struct {
	RetryPreset         string `toml:"retry_preset"`
	FailureThreshold    int    `toml:"failure_threshold"`
	SuccessThreshold    int    `toml:"success_threshold"`
	ResetTimeoutSeconds int    `toml:"reset_timeout_seconds"`
}

// ProgressConfig controls stage tracking
type ProgressConfig struct {
	ProfilesPath string `toml:"profiles_path"`
	LogCap       int    `toml:"log_cap"`
}

// CheckpointConfig controls checkpoint persistence and retention
type CheckpointConfig struct {
	DatabasePath        string `toml:"database_path"`
	AutoIntervalSeconds int    `toml:"auto_interval_seconds"`
	RetentionDays       int    `toml:"retention_days"`
	MaxAutoPerTicket    int    `toml:"max_auto_per_ticket"`
	SweepCron           string `toml:"sweep_cron"`
}

// WebConfig holds the API server settings
type WebConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrent:     3,
			JobTimeoutSeconds: 300,
		},
		Resilience: ResilienceConfig{
			RetryPreset:         "conservative",
			FailureThreshold:    5,
			SuccessThreshold:    2,
			ResetTimeoutSeconds: 30,
		},
		Progress: ProgressConfig{
			LogCap: 100,
		},
		Checkpoint: CheckpointConfig{
			DatabasePath:        filepath.Join(home, ".boardflow", "checkpoints.db"),
			AutoIntervalSeconds: 60,
			RetentionDays:       7,
			MaxAutoPerTicket:    10,
			SweepCron:           "0 * * * *",
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.Checkpoint.DatabasePath = ExpandPath(cfg.Checkpoint.DatabasePath)
	cfg.Progress.ProfilesPath = ExpandPath(cfg.Progress.ProfilesPath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.JobTimeoutSeconds < 1 {
		return fmt.Errorf("scheduler.job_timeout_seconds must be positive, got %d", c.Scheduler.JobTimeoutSeconds)
	}
	if c.Resilience.FailureThreshold < 1 {
		return fmt.Errorf("resilience.failure_threshold must be at least 1, got %d", c.Resilience.FailureThreshold)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "boardflow", "config.toml")
}
