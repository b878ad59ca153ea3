// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - New returns a Config populated with defaults.
//   - Load layers a YAML file and DORSAL_* environment variables on top.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	Store       Store       `koanf:"store"`
	Buffer      Loop        `koanf:"buffer"`
	Device      Loop        `koanf:"device"`
	AutoStart   AutoStart   `koanf:"autostart"`
	Recognition Recognition `koanf:"recognition"`
	Timing      Timing      `koanf:"timing"`
	Dedupe      Dedupe      `koanf:"dedupe"`
}

// Store selects the persistence backend.
type Store struct {
	// Driver is sqlite or mysql.
	Driver string `koanf:"driver"`
	// DSN is a file path for sqlite or a go-sql-driver DSN for mysql.
	DSN string `koanf:"dsn"`
	// CacheTTL bounds how long checkpoint devices and event configs are cached.
	CacheTTL time.Duration `koanf:"cache_ttl"`
	// AutoMigrate creates missing tables and indexes on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// Loop configures a polling loop.
type Loop struct {
	Enabled   bool          `koanf:"enabled"`
	BatchSize int           `koanf:"batch_size"`
	Interval  time.Duration `koanf:"interval"`
	// Workers bounds how many event groups are processed concurrently.
	Workers int `koanf:"workers"`
}

// AutoStart configures the scheduled event starter.
type AutoStart struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

// Recognition configures the bib recognition providers.
type Recognition struct {
	// Processor is the default primary provider for events without an override.
	Processor string `koanf:"processor"`
	// Priority is the fallback order after the primary.
	Priority      []string      `koanf:"priority"`
	BibMin        int           `koanf:"bib_min"`
	BibMax        int           `koanf:"bib_max"`
	MinConfidence float64       `koanf:"min_confidence"`
	HybridMargin  float64       `koanf:"hybrid_margin"`
	Timeout       time.Duration `koanf:"timeout"`
	// RatePerSecond limits calls per provider; zero disables limiting.
	RatePerSecond float64 `koanf:"rate_per_second"`

	Gemini       Provider `koanf:"gemini"`
	OpenAI       Provider `koanf:"openai"`
	DeepSeek     Provider `koanf:"deepseek"`
	GoogleVision Provider `koanf:"google_vision"`
}

// Provider holds credentials and endpoint of one recognition backend.
type Provider struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// Timing configures ranking defaults.
type Timing struct {
	DefaultDistanceKm float64 `koanf:"default_distance_km"`
}

// Dedupe sizes the in-memory session memory.
type Dedupe struct {
	SessionMemory int `koanf:"session_memory"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Addr:      ":9080",
		Store: Store{
			Driver:      "sqlite",
			DSN:         "dorsal.db",
			CacheTTL:    time.Minute,
			AutoMigrate: true,
		},
		Buffer: Loop{
			Enabled:   true,
			BatchSize: 5,
			Interval:  10 * time.Second,
			Workers:   1,
		},
		Device: Loop{
			Enabled:   true,
			BatchSize: 10,
			Interval:  5 * time.Second,
			Workers:   1,
		},
		AutoStart: AutoStart{
			Enabled:  true,
			Interval: 10 * time.Second,
		},
		Recognition: Recognition{
			Processor:     "gemini",
			Priority:      []string{"gemini", "deepseek", "openai", "google-vision"},
			BibMin:        1,
			BibMax:        99999,
			MinConfidence: 0,
			HybridMargin:  0.1,
			Timeout:       30 * time.Second,
			RatePerSecond: 2,
			Gemini: Provider{
				Model:   "gemini-2.5-flash",
				BaseURL: "https://generativelanguage.googleapis.com",
			},
			OpenAI: Provider{
				Model:   "gpt-4o",
				BaseURL: "https://api.openai.com",
			},
			DeepSeek: Provider{
				Model:   "deepseek-chat",
				BaseURL: "https://api.deepseek.com",
			},
			GoogleVision: Provider{
				BaseURL: "https://vision.googleapis.com",
			},
		},
		Timing: Timing{
			DefaultDistanceKm: 10,
		},
		Dedupe: Dedupe{
			SessionMemory: 50_000,
		},
	}
}

// Validate checks invariants that would prevent the loops from starting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store.Driver != "sqlite" && c.Store.Driver != "mysql":
		return fmt.Errorf("%w: unsupported store driver %q", ErrInvalidConfig, c.Store.Driver)
	case c.Store.DSN == "":
		return fmt.Errorf("%w: store.dsn must not be empty", ErrInvalidConfig)
	case c.Buffer.BatchSize <= 0 || c.Device.BatchSize <= 0:
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalidConfig)
	case c.Buffer.Interval <= 0 || c.Device.Interval <= 0 || c.AutoStart.Interval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.Recognition.BibMin < 0 || c.Recognition.BibMax < c.Recognition.BibMin:
		return fmt.Errorf("%w: bib range [%d, %d]", ErrInvalidConfig, c.Recognition.BibMin, c.Recognition.BibMax)
	case c.Recognition.HybridMargin < 0 || c.Recognition.HybridMargin > 1:
		return fmt.Errorf("%w: hybrid_margin must be within [0, 1]", ErrInvalidConfig)
	case c.Recognition.Processor == "":
		return fmt.Errorf("%w: recognition.processor must not be empty", ErrInvalidConfig)
	}
	return nil
}
