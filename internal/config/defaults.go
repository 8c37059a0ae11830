package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:              "~/.config/fabric/dwell",
			SQLiteFile:        "dwell.db",
			SQLiteJournalMode: "wal",
		},
		Capture: CaptureConfig{
			DenylistDomains: []string{},
			DenylistRegex:   []string{},
		},
		Aggregation: AggregationConfig{
			PeriodMinutes:  5,
			LockTTLMinutes: 10,
		},
		Retention: RetentionConfig{
			EventDays: 30,
			StatDays:  365,
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           7774,
			AuthToken:      "",
			MaxRequestSize: 1048576,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
