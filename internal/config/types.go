// Package config loads and watches the bgtaskd configuration file.
//
// Config files are YAML (or JSON); YAML is coerced to JSON so a single strict
// decoder rejects unknown fields for both formats. Durations are strings in
// Go syntax ("500ms", "2h30m"). The Manager supports hot reload via fsnotify
// with content hashing so editor-induced duplicate write events do not
// trigger redundant re-applies.
package config

// Config is the root of the bgtaskd configuration file.
type Config struct {
	Log       LogConfig       `json:"log"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   StorageConfig   `json:"storage"`
}

type LogConfig struct {
	Level   string       `json:"level"`
	Console bool         `json:"console"`
	File    FileConfig   `json:"file"`
	Bridge  BridgeConfig `json:"bridge"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type BridgeConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	// Interval is the sampling interval of the polling loop.
	Interval string `json:"interval"`
	// DefaultTimeout applies to tasks that do not set their own.
	DefaultTimeout string `json:"default_timeout"`
	// HistorySize bounds the in-memory run-history ring.
	HistorySize int `json:"history_size"`
}

type StorageConfig struct {
	// Driver selects the run-history backend: "memory" (default) or "sqlite".
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout"`
	MaxRecords  int    `json:"max_records"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Scheduler: SchedulerConfig{
			Interval:       "500ms",
			DefaultTimeout: "30s",
			HistorySize:    200,
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
	}
}
