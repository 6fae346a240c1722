// Package config loads lorekeeper configuration from, in order of
// precedence: environment variables (LOREKEEPER_ prefix), an optional
// config.yaml, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig locates the SQLite entity store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// CacheConfig tunes the cache-aside orchestrator.
type CacheConfig struct {
	// DefaultMode is used when a tool call does not name one: normal,
	// cache_first, or offline_fallback.
	DefaultMode string `mapstructure:"default_mode"`

	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
}

// EmbeddingConfig controls the optional hybrid search layer.
type EmbeddingConfig struct {
	// Enabled turns on embedding computation at ingest and semantic
	// ranking at search. Off by default; everything else works without it.
	Enabled bool `mapstructure:"enabled"`

	OllamaURL     string        `mapstructure:"ollama_url"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxInputRunes int           `mapstructure:"max_input_runes"`
}

// SourcesConfig holds remote API settings.
type SourcesConfig struct {
	Open5eURL         string        `mapstructure:"open5e_url"`
	Dnd5eAPIURL       string        `mapstructure:"dnd5eapi_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// Load reads configuration from file and environment. The config file is
// optional; LOREKEEPER_DATABASE_PATH and friends override it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "lorekeeper"))
	}
	v.AddConfigPath("/etc/lorekeeper")

	v.SetEnvPrefix("LOREKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional; defaults and env vars suffice.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Cache.DefaultMode {
	case "normal", "cache_first", "offline_fallback":
	default:
		return fmt.Errorf("invalid cache.default_mode %q", c.Cache.DefaultMode)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", defaultDatabasePath())

	v.SetDefault("cache.default_mode", "normal")
	v.SetDefault("cache.fetch_timeout", "15s")
	v.SetDefault("cache.refresh_timeout", "60s")

	v.SetDefault("embedding.enabled", false)
	v.SetDefault("embedding.ollama_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "nomic-embed-text")
	v.SetDefault("embedding.timeout", "5s")
	v.SetDefault("embedding.max_input_runes", 8192)

	v.SetDefault("sources.open5e_url", "https://api.open5e.com")
	v.SetDefault("sources.dnd5eapi_url", "https://www.dnd5eapi.co")
	v.SetDefault("sources.timeout", "10s")
	v.SetDefault("sources.requests_per_second", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "lorekeeper.db"
	}
	return filepath.Join(home, ".local", "share", "lorekeeper", "lorekeeper.db")
}
