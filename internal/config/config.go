package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default config file path.
const DefaultConfigPath = "~/.config/fabric/dwell/config.yaml"

// Config holds all dwell configuration.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Capture     CaptureConfig     `yaml:"capture"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Retention   RetentionConfig   `yaml:"retention"`
	Daemon      DaemonConfig      `yaml:"daemon"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type StorageConfig struct {
	Path              string `yaml:"path"`
	SQLiteFile        string `yaml:"sqlite_file"`
	SQLiteJournalMode string `yaml:"sqlite_journal_mode"`
}

// CaptureConfig carries user denylist extras. The curated defaults live in
// the exclusions table and are seeded by the migrations.
type CaptureConfig struct {
	DenylistDomains []string `yaml:"denylist_domains"`
	DenylistRegex   []string `yaml:"denylist_regex"`
}

type AggregationConfig struct {
	PeriodMinutes  int `yaml:"period_minutes"`
	LockTTLMinutes int `yaml:"lock_ttl_minutes"`
}

type RetentionConfig struct {
	EventDays int `yaml:"event_days"`
	StatDays  int `yaml:"stat_days"`
}

type DaemonConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	AuthToken      string `yaml:"auth_token"`
	MaxRequestSize int    `yaml:"max_request_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Period returns the aggregation cadence as a duration.
func (a AggregationConfig) Period() time.Duration {
	return time.Duration(a.PeriodMinutes) * time.Minute
}

// LockTTL returns the staleness threshold of the aggregation lock.
func (a AggregationConfig) LockTTL() time.Duration {
	return time.Duration(a.LockTTLMinutes) * time.Minute
}

// DatabasePath joins the storage directory and database file name,
// expanding a leading ~.
func (c *Config) DatabasePath() (string, error) {
	dir, err := expandPath(c.Storage.Path)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.Storage.SQLiteFile), nil
}

// Load reads a YAML config file at path and merges it with defaults.
// Returns an error if the file cannot be read, contains invalid YAML, or
// carries a denylist regex that does not compile.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Capture.DenylistDomains = normalizeDenylistDomains(cfg.Capture.DenylistDomains)
	if err := validateDenylistRegex(cfg.Capture.DenylistRegex); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// LoadOrCreate loads the config from the default path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreate() (*Config, error) {
	path, err := expandPath(DefaultConfigPath)
	if err != nil {
		return nil, err
	}
	return LoadOrCreateAt(path)
}

// LoadOrCreateAt loads the config from the given path. If the file does
// not exist, it creates the directory structure and writes defaults.
func LoadOrCreateAt(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()

		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating config directory: %w", err)
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshaling default config: %w", err)
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}
