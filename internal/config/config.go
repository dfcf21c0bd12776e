// Package config handles loading and validating the config.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the top-level configuration.
type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Reference ReferenceConfig `toml:"reference"`
	NVD       NVDConfig       `toml:"nvd"`
	Sources   SourcesConfig   `toml:"sources"`
	Overrides OverridesConfig `toml:"overrides"`
	Store     StoreConfig     `toml:"store"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Input     InputConfig     `toml:"input"`
}

// LLMConfig configures the model provider used for research and structuring.
type LLMConfig struct {
	Provider string `toml:"provider"`
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
	Endpoint string `toml:"endpoint" validate:"omitempty,url"`
	Timeout  int    `toml:"timeout" validate:"gte=0"` // per-call timeout in seconds (0 = provider default)

	// WebSearchMaxUses caps grounded searches per research call (anthropic only).
	WebSearchMaxUses   int     `toml:"web_search_max_uses" validate:"gte=0,lte=50"`
	ResearchMaxTokens  int     `toml:"research_max_tokens" validate:"gte=0"`
	StructureMaxTokens int     `toml:"structure_max_tokens" validate:"gte=0"`
	RetryMaxTokens     int     `toml:"retry_max_tokens" validate:"gte=0"`
	Temperature        float64 `toml:"temperature" validate:"gte=0,lte=2"`
}

// ReferenceConfig configures the ATT&CK taxonomy cache.
type ReferenceConfig struct {
	Enabled  bool   `toml:"enabled"`
	URL      string `toml:"url" validate:"omitempty,url"`
	TTLHours int    `toml:"ttl_hours" validate:"gte=0"`
	Timeout  int    `toml:"timeout" validate:"gte=0"` // fetch timeout in seconds
}

// NVDConfig configures the vulnerability authority.
type NVDConfig struct {
	Enabled       bool   `toml:"enabled"`
	Endpoint      string `toml:"endpoint" validate:"omitempty,url"`
	APIKey        string `toml:"api_key"`
	MinIntervalMS int    `toml:"min_interval_ms" validate:"gte=0"`
	Timeout       int    `toml:"timeout" validate:"gte=0"` // seconds
	MaxChecks     int    `toml:"max_checks" validate:"gte=0,lte=100"`
}

// SourcesConfig configures source assembly and liveness probes.
type SourcesConfig struct {
	MinSources   int `toml:"min_sources" validate:"gte=1,lte=3"`
	ProbeTimeout int `toml:"probe_timeout" validate:"gte=0"` // seconds
}

// OverridesConfig points at an optional operator override file merged over
// the built-in table.
type OverridesConfig struct {
	Path string `toml:"path"`
}

// StoreConfig configures record persistence.
type StoreConfig struct {
	Dir      string `toml:"dir"`
	InMemory bool   `toml:"in_memory"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// InputConfig bounds operator-supplied material.
type InputConfig struct {
	MaxDocumentChars int `toml:"max_document_chars" validate:"gte=0"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() *Config {
	return &Config{
		Reference: ReferenceConfig{Enabled: true, TTLHours: 24, Timeout: 60},
		NVD:       NVDConfig{Enabled: true, MinIntervalMS: 6500, Timeout: 10, MaxChecks: 10},
		Sources:   SourcesConfig{MinSources: 3, ProbeTimeout: 5},
		Store:     StoreConfig{Dir: "data"},
		Server:    ServerConfig{Host: "127.0.0.1", Port: 8080},
		Log:       LogConfig{Level: "info", Format: "console"},
		Input:     InputConfig{MaxDocumentChars: 20000},
	}
}

// Load reads a config.toml file and returns a validated Config.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n  Create one with: cp config.example.toml config.toml", path)
		}
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	// Environment variable overrides for sensitive values
	if key := os.Getenv("PROFILER_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if provider := os.Getenv("PROFILER_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if key := os.Getenv("PROFILER_NVD_API_KEY"); key != "" {
		cfg.NVD.APIKey = key
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = newValidator()

// newValidator reports fields by their TOML keys.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (c *Config) validate() error {
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
		// valid
	case "":
		return fmt.Errorf("llm.provider is required (anthropic, openai, ollama)")
	default:
		return fmt.Errorf("unsupported llm.provider: %q", c.LLM.Provider)
	}

	// API key required for cloud providers
	if c.LLM.Provider != "ollama" && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, formatFieldError(e))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}

	if !c.Store.InMemory && c.Store.Dir == "" {
		c.Store.Dir = "data"
	}

	return nil
}

func formatFieldError(e validator.FieldError) string {
	path := strings.TrimPrefix(e.Namespace(), "Config.")
	switch e.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got %v)", path, e.Param(), e.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL (got %v)", path, e.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s is out of range (%s %s, got %v)", path, e.Tag(), e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed %s", path, e.Tag())
	}
}

// MinInterval is the spacing between NVD requests.
func (c NVDConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// TimeoutDuration is the per-lookup NVD timeout.
func (c NVDConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// TTL is how long a fetched taxonomy stays fresh.
func (c ReferenceConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// TimeoutDuration is the taxonomy download timeout.
func (c ReferenceConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// TimeoutDuration is the per-call model timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// ProbeTimeoutDuration is the liveness probe timeout.
func (c SourcesConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}
