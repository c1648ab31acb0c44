package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the quail.yaml configuration file.
type Config struct {
	Collection    string `yaml:"collection"`
	Environment   string `yaml:"environment"`
	HistoryPath   string `yaml:"history_path"`
	ScriptTimeout string `yaml:"script_timeout"`
}

// loadConfig loads configuration from file and env vars.
// Precedence: CLI flags (applied by callers) > env vars > config file > defaults.
func loadConfig() (*Config, error) {
	cfg := &Config{
		Collection:  "collection.yaml",
		HistoryPath: defaultHistoryPath(),
	}

	// Load config file if it exists
	if data, err := os.ReadFile(configFile); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		// Handle env var interpolation in paths
		cfg.Collection = expandEnvVars(cfg.Collection)
		cfg.HistoryPath = expandEnvVars(cfg.HistoryPath)
	}

	// Override with env vars
	if v := os.Getenv("QUAIL_COLLECTION"); v != "" {
		cfg.Collection = v
	}
	if v := os.Getenv("QUAIL_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("QUAIL_HISTORY"); v != "" {
		cfg.HistoryPath = v
	}

	return cfg, nil
}

// scriptTimeout parses the configured per-script timeout, defaulting to
// 30s on absence or a malformed value.
func (c *Config) scriptTimeout() time.Duration {
	if c.ScriptTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.ScriptTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// defaultHistoryPath places the run log under the user config dir,
// falling back to the working directory.
func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".quail-history.db"
	}
	return dir + string(os.PathSeparator) + "quail" + string(os.PathSeparator) + "history.db"
}

// expandEnvVars expands ${VAR} patterns in a string.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}
