// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and environment variables over the defaults.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Seed strategies.
const (
	SeedRandom = "random"
	SeedUserID = "user_id"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: json or text.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the persistence backend: memory or sqlite.
	StoreDriver string `koanf:"store_driver"`

	// StorePath is the SQLite database file. Ignored by the memory driver.
	StorePath string `koanf:"store_path"`

	// TriggersPath is the YAML trigger document. Empty starts with no triggers.
	TriggersPath string `koanf:"triggers_path"`

	// WatchTriggers reloads the trigger document when it changes on disk.
	WatchTriggers bool `koanf:"watch_triggers"`

	// BackendURL is the base URL of the content backend. Empty disables
	// content fetching and confirmation delivery.
	BackendURL string `koanf:"backend_url"`

	BackendTimeoutMS int `koanf:"backend_timeout_ms"`
	FetchMaxAttempts int `koanf:"fetch_max_attempts"`

	// ConfirmQueueSize bounds the outbound confirmation queue.
	ConfirmQueueSize   int `koanf:"confirm_queue_size"`
	ConfirmWorkers     int `koanf:"confirm_workers"`
	ConfirmMaxAttempts int `koanf:"confirm_max_attempts"`
	ConfirmBackoffMS   int `koanf:"confirm_backoff_ms"`

	// CacheTTLSeconds is how long fetched content stays retained. 0 keeps it
	// until a reset or trigger refresh.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`

	// DefaultLocale is used when a content request carries none.
	DefaultLocale string `koanf:"default_locale"`

	// SeedStrategy selects how the bucketing seed is derived: random or user_id.
	SeedStrategy string `koanf:"seed_strategy"`

	// ScriptTimeoutMS bounds a single script-dialect evaluation.
	ScriptTimeoutMS int `koanf:"script_timeout_ms"`

	// PreloadConcurrency caps parallel fetches during content preloading.
	PreloadConcurrency int `koanf:"preload_concurrency"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "json",
		Addr:               ":9080",
		StoreDriver:        StoreMemory,
		StorePath:          "tripwire.db",
		BackendTimeoutMS:   5000,
		FetchMaxAttempts:   3,
		ConfirmQueueSize:   1024,
		ConfirmWorkers:     2,
		ConfirmMaxAttempts: 5,
		ConfirmBackoffMS:   500,
		CacheTTLSeconds:    0,
		DefaultLocale:      "en_US",
		SeedStrategy:       SeedRandom,
		ScriptTimeoutMS:    50,
		PreloadConcurrency: runtime.NumCPU(),
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != StoreMemory && c.StoreDriver != StoreSQLite:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == StoreSQLite && c.StorePath == "":
		return fmt.Errorf("%w: store_path is required for sqlite", ErrInvalidConfig)
	case c.SeedStrategy != SeedRandom && c.SeedStrategy != SeedUserID:
		return fmt.Errorf("%w: unknown seed_strategy %q", ErrInvalidConfig, c.SeedStrategy)
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	case c.ConfirmQueueSize <= 0:
		return fmt.Errorf("%w: confirm_queue_size must be positive", ErrInvalidConfig)
	case c.ConfirmWorkers <= 0:
		return fmt.Errorf("%w: confirm_workers must be positive", ErrInvalidConfig)
	case c.ConfirmMaxAttempts <= 0 || c.FetchMaxAttempts <= 0:
		return fmt.Errorf("%w: attempt limits must be positive", ErrInvalidConfig)
	case c.CacheTTLSeconds < 0:
		return fmt.Errorf("%w: cache_ttl_seconds must not be negative", ErrInvalidConfig)
	case c.ScriptTimeoutMS <= 0 || c.BackendTimeoutMS <= 0 || c.ConfirmBackoffMS < 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	case c.PreloadConcurrency <= 0:
		return fmt.Errorf("%w: preload_concurrency must be positive", ErrInvalidConfig)
	case c.DefaultLocale == "":
		return fmt.Errorf("%w: default_locale must not be empty", ErrInvalidConfig)
	}
	return nil
}

// BackendTimeout returns BackendTimeoutMS as a duration.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

// ConfirmBackoff returns ConfirmBackoffMS as a duration.
func (c *Config) ConfirmBackoff() time.Duration {
	return time.Duration(c.ConfirmBackoffMS) * time.Millisecond
}

// CacheTTL returns CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// ScriptTimeout returns ScriptTimeoutMS as a duration.
func (c *Config) ScriptTimeout() time.Duration {
	return time.Duration(c.ScriptTimeoutMS) * time.Millisecond
}
