// Package config provides configuration management for the chatclean
// extraction pipeline. It covers the completion backend, result cache,
// output location, logging, metrics, and segmentation behavior.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete pipeline configuration. It combines the
// completion-backend settings, cache and output locations, logging
// preferences, and optional metrics/segmentation behavior into a single
// structure loaded from YAML.
type Config struct {
	Backend      BackendConfig      `yaml:"backend"`
	Cache        CacheConfig        `yaml:"cache"`
	Output       OutputConfig       `yaml:"output"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
}

// BackendConfig holds completion-capability settings. The backend is a
// singleton, stateful resource: it is constructed once per run and shared
// by the extractor and the segmenter.
type BackendConfig struct {
	// Type selects the backend implementation: "local" for an
	// OpenAI-compatible model runtime (e.g. a llama.cpp server),
	// "ollama" for a remote Ollama chat endpoint.
	Type string `yaml:"type" validate:"required,oneof=local ollama"`

	// Model is the model identifier sent with every request. It is also
	// part of every cache key, so changing it never collides with prior
	// results.
	Model string `yaml:"model" validate:"required"`

	// Endpoint is the base URL of the backend.
	// Defaults: http://localhost:8080/v1 (local), http://localhost:11434 (ollama).
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the local runtime when it requires one.
	// Use environment references (e.g. ${LLM_API_KEY}) in the YAML file.
	APIKey string `yaml:"api_key"`

	// MaxContextTokens is the model context window. The chunker derives
	// its character bound from this (35% of the window).
	MaxContextTokens int `yaml:"max_context_tokens" validate:"gt=0"`

	// MaxOutputTokens is the generation budget for the first extraction
	// attempt.
	MaxOutputTokens int `yaml:"max_output_tokens" validate:"gt=0"`

	// RetryOutputTokens is the enlarged budget used when the first
	// attempt returns a truncated or near-empty payload.
	RetryOutputTokens int `yaml:"retry_output_tokens" validate:"gtefield=MaxOutputTokens"`

	// Temperature for generation. Kept at zero for determinism.
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	// TopP nucleus sampling parameter.
	TopP float64 `yaml:"top_p" validate:"gte=0,lte=1"`

	// Stop sequences cut generation before trailing junk.
	Stop []string `yaml:"stop"`

	// RequestTimeout bounds a single completion call. The unit of retry
	// is one chunk extraction; a timed-out call is surfaced, not retried
	// indefinitely.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// RequestsPerSecond rate-limits the remote backend. Zero disables
	// limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// CacheConfig defines the content-addressed result cache. Entries are
// keyed by a digest of normalized text and model identifier, so there is
// no TTL and no eviction: identical inputs reuse prior results, changed
// inputs never collide with stale entries.
type CacheConfig struct {
	// Enable turns caching on/off (default: true)
	Enable bool `yaml:"enable"`

	// Dir is the directory holding one JSON file per cache key.
	Dir string `yaml:"dir"`
}

// OutputConfig defines where per-conversation CSV files are written.
type OutputConfig struct {
	// Dir receives one <conversation_id>_clean.csv per conversation.
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig controls the optional Prometheus endpoint served while a
// run is in flight.
type MetricsConfig struct {
	// Enabled starts an HTTP listener exposing /metrics and /healthz.
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":9090").
	Address string `yaml:"address"`
}

// SegmentationConfig controls model-driven splitting of unsegmented plain
// text sources into independent conversations.
type SegmentationConfig struct {
	// Enabled turns segmentation on for .txt sources. When disabled, a
	// text file is one conversation.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:              "ollama",
			Model:             "phi3",
			MaxContextTokens:  32768,
			MaxOutputTokens:   2048,
			RetryOutputTokens: 3072,
			Temperature:       0,
			TopP:              1.0,
			Stop:              []string{"```", "</s>"},
			RequestTimeout:    240 * time.Second,
		},
		Cache: CacheConfig{
			Enable: true,
			Dir:    "cache",
		},
		Output: OutputConfig{
			Dir: "out",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9090",
		},
		Segmentation: SegmentationConfig{
			Enabled: true,
		},
	}
}

// DefaultEndpoint returns the default base URL for a backend type.
func DefaultEndpoint(backendType string) string {
	switch backendType {
	case "local":
		return "http://localhost:8080/v1"
	default:
		return "http://localhost:11434"
	}
}

// expandEnv replaces ${VAR} references in the raw config with environment
// values. Unset variables expand to the empty string, matching os.Expand
// semantics, so required fields fail validation instead of carrying
// literal placeholders.
func expandEnv(s string) string {
	return os.Expand(s, os.Getenv)
}

// Load reads and parses a YAML configuration from r, merging it over the
// defaults and expanding environment references.
func Load(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnv(string(raw))), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads configuration from the given path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// validate is the shared validator instance for config checks.
var validate = validator.New()

// Validate checks the configuration for structural problems and fills the
// endpoint default for the selected backend type.
func (c *Config) Validate() error {
	c.Backend.Type = strings.ToLower(strings.TrimSpace(c.Backend.Type))
	if c.Backend.Endpoint == "" {
		c.Backend.Endpoint = DefaultEndpoint(c.Backend.Type)
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = 240 * time.Second
	}

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Cache.Enable && c.Cache.Dir == "" {
		return fmt.Errorf("invalid config: cache.dir is required when cache is enabled")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("invalid config: output.dir is required")
	}
	return nil
}
