// Package config provides configuration types, defaults and validation for
// levelsync.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/levelsync/internal/log"
	"github.com/zjrosen/levelsync/internal/tracing"
)

// LocalPath is the project-local config file, checked before the user config.
var LocalPath = filepath.Join(".levelsync", "config.yaml")

// Config holds all configuration options for levelsync.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Session   SessionConfig   `mapstructure:"session" yaml:"session"`
	Content   ContentConfig   `mapstructure:"content" yaml:"content"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Tracing   tracing.Config  `mapstructure:"tracing" yaml:"tracing"`
}

// SessionConfig shapes the simulated session.
type SessionConfig struct {
	// Clients is the number of client participants besides the host.
	Clients int `mapstructure:"clients" yaml:"clients"`
	// Level is the level selected before the round starts. Empty keeps the
	// first declared level.
	Level string `mapstructure:"level" yaml:"level"`
	// Rounds is how many lobby → round → lobby cycles to run.
	Rounds int `mapstructure:"rounds" yaml:"rounds"`
	// SettleTimeout bounds how long a transition waits for frames to drain.
	SettleTimeout time.Duration `mapstructure:"settle_timeout" yaml:"settle_timeout"`
}

// ContentConfig locates the manifests.
type ContentConfig struct {
	BaselinePath  string        `mapstructure:"baseline_path" yaml:"baseline_path"`
	PackagesDir   string        `mapstructure:"packages_dir" yaml:"packages_dir"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce" yaml:"watch_debounce"`
}

// SyncConfig tunes the synchronization exchanges.
type SyncConfig struct {
	FallbackFlow   string `mapstructure:"fallback_flow" yaml:"fallback_flow"`
	FallbackWeight int    `mapstructure:"fallback_weight" yaml:"fallback_weight"`
	// Seed pins the host's draw seed. Zero draws a fresh seed every round.
	Seed uint64 `mapstructure:"seed" yaml:"seed"`
}

// StoreConfig configures the override database.
type StoreConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Path       string        `mapstructure:"path" yaml:"path"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	SlidingTTL bool          `mapstructure:"sliding_ttl" yaml:"sliding_ttl"`
}

// TransportConfig configures the participant fabric.
type TransportConfig struct {
	// BufferSize is each participant's inbox capacity; frames beyond it are dropped.
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// DefaultStorePath returns ~/.config/levelsync/overrides.db, or a relative
// path when the home directory is unavailable.
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".levelsync", "overrides.db")
	}
	return filepath.Join(home, ".config", "levelsync", "overrides.db")
}

// DefaultTracesFilePath returns ~/.config/levelsync/traces/traces.jsonl or
// empty string if the home dir is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "levelsync", "traces", "traces.jsonl")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	return Config{
		LogLevel: "info",
		Session: SessionConfig{
			Clients:       2,
			Rounds:        1,
			SettleTimeout: 2 * time.Second,
		},
		Content: ContentConfig{
			BaselinePath:  filepath.Join("content", "baseline.yaml"),
			PackagesDir:   filepath.Join("content", "packages"),
			WatchDebounce: 500 * time.Millisecond,
		},
		Sync: SyncConfig{
			FallbackFlow:   "baseline.flow.facility",
			FallbackWeight: 300,
		},
		Store: StoreConfig{
			Enabled:  false,
			Path:     DefaultStorePath(),
			CacheTTL: 5 * time.Minute,
		},
		Transport: TransportConfig{
			BufferSize: 256,
		},
		Tracing: tr,
	}
}

// SetDefaults registers every default on v so unset keys and env-only
// overrides resolve.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("session.clients", d.Session.Clients)
	v.SetDefault("session.level", d.Session.Level)
	v.SetDefault("session.rounds", d.Session.Rounds)
	v.SetDefault("session.settle_timeout", d.Session.SettleTimeout)
	v.SetDefault("content.baseline_path", d.Content.BaselinePath)
	v.SetDefault("content.packages_dir", d.Content.PackagesDir)
	v.SetDefault("content.watch_debounce", d.Content.WatchDebounce)
	v.SetDefault("sync.fallback_flow", d.Sync.FallbackFlow)
	v.SetDefault("sync.fallback_weight", d.Sync.FallbackWeight)
	v.SetDefault("sync.seed", d.Sync.Seed)
	v.SetDefault("store.enabled", d.Store.Enabled)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.cache_ttl", d.Store.CacheTTL)
	v.SetDefault("store.sliding_ttl", d.Store.SlidingTTL)
	v.SetDefault("transport.buffer_size", d.Transport.BufferSize)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load reads configFile (or the default lookup when empty) into a Config.
// A missing config file is not an error.
func Load(v *viper.Viper, configFile string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("LEVELSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		// Config lookup order:
		// 1. .levelsync/config.yaml (current directory)
		// 2. ~/.config/levelsync/config.yaml (user config)
		if _, err := os.Stat(LocalPath); err == nil {
			v.SetConfigFile(LocalPath)
		} else {
			home, _ := os.UserHomeDir()
			v.AddConfigPath(filepath.Join(home, ".config", "levelsync"))
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "no config file found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func Validate(c Config) error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	for _, check := range []func(Config) error{
		func(c Config) error { return ValidateSession(c.Session) },
		func(c Config) error { return ValidateSync(c.Sync) },
		func(c Config) error { return ValidateStore(c.Store) },
		func(c Config) error { return ValidateTransport(c.Transport) },
		func(c Config) error { return ValidateTracing(c.Tracing) },
	} {
		if err := check(c); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSession checks session configuration for errors.
func ValidateSession(s SessionConfig) error {
	if s.Clients < 0 {
		return fmt.Errorf("session.clients must not be negative, got %d", s.Clients)
	}
	if s.Rounds < 1 {
		return fmt.Errorf("session.rounds must be at least 1, got %d", s.Rounds)
	}
	if s.SettleTimeout <= 0 {
		return fmt.Errorf("session.settle_timeout must be positive, got %s", s.SettleTimeout)
	}
	return nil
}

// ValidateSync checks sync configuration for errors. A negative fallback
// weight is accepted and treated as zero by the draw.
func ValidateSync(s SyncConfig) error {
	if s.FallbackFlow == "" {
		return fmt.Errorf("sync.fallback_flow is required")
	}
	return nil
}

// ValidateStore checks store configuration for errors.
func ValidateStore(s StoreConfig) error {
	if !s.Enabled {
		return nil
	}
	if s.Path == "" {
		return fmt.Errorf("store.path is required when the store is enabled")
	}
	if s.CacheTTL < 0 {
		return fmt.Errorf("store.cache_ttl must not be negative, got %s", s.CacheTTL)
	}
	return nil
}

// ValidateTransport checks transport configuration for errors.
func ValidateTransport(t TransportConfig) error {
	if t.BufferSize < 1 {
		return fmt.Errorf("transport.buffer_size must be at least 1, got %d", t.BufferSize)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tr tracing.Config) error {
	if tr.SampleRate < 0.0 || tr.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tr.SampleRate)
	}

	if tr.Exporter != "" {
		switch tr.Exporter {
		case "none", "file", "stdout", "otlp":
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tr.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tr.Enabled {
		if tr.Exporter == "file" && tr.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tr.Exporter == "otlp" && tr.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# levelsync configuration

# Minimum log level written with --debug: debug, info, warn, error
log_level: info

# Simulated session
session:
  clients: 2              # Client participants besides the host
  # level: Vow            # Level selected before the round (default: first declared)
  rounds: 1               # Lobby -> round -> lobby cycles
  settle_timeout: 2s      # How long a transition waits for frames to drain

# Content manifests
content:
  baseline_path: content/baseline.yaml
  packages_dir: content/packages
  watch_debounce: 500ms   # Used by registry:list --watch

# Synchronization exchanges
sync:
  fallback_flow: baseline.flow.facility   # Drawn when no candidate flow is valid
  fallback_weight: 300
  # seed: 42              # Pin the host's draw seed (0 = fresh seed each round)

# Persisted override values replayed by the host
store:
  enabled: false
  # path: ~/.config/levelsync/overrides.db
  cache_ttl: 5m
  sliding_ttl: false

# Participant fabric
transport:
  buffer_size: 256        # Inbox capacity per participant; overflow frames are dropped

# Tracing
# tracing:
#   enabled: true
#   exporter: file        # none, file, stdout, otlp
#   file_path: ~/.config/levelsync/traces/traces.jsonl
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
