package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidAnthropicConfig(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "anthropic"
api_key  = "sk-ant-test"
model    = "claude-sonnet-4-5-20250514"

[nvd]
api_key         = "nvd-key"
min_interval_ms = 7000

[store]
dir = "profiles"

[server]
port            = 9090
allowed_origins = ["http://localhost:3000"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want %q", cfg.LLM.Provider, "anthropic")
	}
	if cfg.LLM.Model != "claude-sonnet-4-5-20250514" {
		t.Errorf("model = %q, want %q", cfg.LLM.Model, "claude-sonnet-4-5-20250514")
	}
	if cfg.Store.Dir != "profiles" {
		t.Errorf("store.dir = %q, want %q", cfg.Store.Dir, "profiles")
	}
	if cfg.NVD.MinInterval() != 7*time.Second {
		t.Errorf("nvd min interval = %v, want 7s", cfg.NVD.MinInterval())
	}
	if cfg.Server.Port != 9090 || len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoad_ValidOllamaConfig(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "foundation-sec:8b"
endpoint = "http://localhost:11434"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want %q", cfg.LLM.Provider, "ollama")
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("ollama should not require api_key, got %q", cfg.LLM.APIKey)
	}
}

func TestLoad_MissingProvider(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
model = "gpt-4o"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "openai"
model    = "gpt-4o"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing api_key with openai provider")
	}
}

func TestLoad_MissingModel(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestLoad_UnsupportedProvider(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "gemini"
api_key  = "test"
model    = "gemini-pro"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "anthropic"
api_key  = "from-file"
model    = "claude-sonnet-4-5-20250514"
`)

	t.Setenv("PROFILER_API_KEY", "from-env")
	t.Setenv("PROFILER_NVD_API_KEY", "nvd-from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.APIKey != "from-env" {
		t.Errorf("api_key = %q, want %q (env override)", cfg.LLM.APIKey, "from-env")
	}
	if cfg.NVD.APIKey != "nvd-from-env" {
		t.Errorf("nvd.api_key = %q, want %q (env override)", cfg.NVD.APIKey, "nvd-from-env")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "qwen3:8b"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Dir != "data" {
		t.Errorf("store.dir = %q, want default %q", cfg.Store.Dir, "data")
	}
	if !cfg.Reference.Enabled || cfg.Reference.TTL() != 24*time.Hour {
		t.Errorf("reference = %+v, want enabled with a 24h TTL", cfg.Reference)
	}
	if cfg.NVD.MinInterval() != 6500*time.Millisecond {
		t.Errorf("nvd min interval = %v, want 6.5s", cfg.NVD.MinInterval())
	}
	if cfg.NVD.TimeoutDuration() != 10*time.Second {
		t.Errorf("nvd timeout = %v, want 10s", cfg.NVD.TimeoutDuration())
	}
	if cfg.NVD.MaxChecks != 10 || cfg.Sources.MinSources != 3 {
		t.Errorf("max_checks = %d, min_sources = %d", cfg.NVD.MaxChecks, cfg.Sources.MinSources)
	}
	if cfg.Input.MaxDocumentChars != 20000 {
		t.Errorf("max_document_chars = %d, want 20000", cfg.Input.MaxDocumentChars)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	// Should contain helpful guidance
	errMsg := err.Error()
	if !strings.Contains(errMsg, "not found") {
		t.Errorf("error should mention 'not found', got: %s", errMsg)
	}
	if !strings.Contains(errMsg, "config.example.toml") {
		t.Errorf("error should mention config.example.toml, got: %s", errMsg)
	}
}

func TestLoad_RangeValidation(t *testing.T) {
	tests := []struct {
		name    string
		extra   string
		wantMsg string
	}{
		{"bad log level", "[log]\nlevel = \"loud\"\n", "log.level must be one of"},
		{"bad log format", "[log]\nformat = \"xml\"\n", "log.format must be one of"},
		{"negative interval", "[nvd]\nmin_interval_ms = -1\n", "nvd.min_interval_ms is out of range"},
		{"zero min sources", "[sources]\nmin_sources = 0\n", "sources.min_sources is out of range"},
		{"min sources above fallbacks", "[sources]\nmin_sources = 5\n", "sources.min_sources is out of range"},
		{"port too high", "[server]\nport = 70000\n", "server.port is out of range"},
		{"bad endpoint", "[nvd]\nendpoint = \"not a url\"\n", "nvd.endpoint must be a valid URL"},
		{"temperature", "temperature = 3.0\n", "llm.temperature is out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestConfig(t, "[llm]\nprovider = \"ollama\"\nmodel = \"qwen3:8b\"\n\n"+tt.extra)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestLoad_LogSettingsNormalized(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "qwen3:8b"

[log]
level  = "DEBUG"
format = "JSON"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v, want lower-cased", cfg.Log)
	}
}

func TestLoad_ReferenceDisabled(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "qwen3:8b"

[reference]
enabled = false

[nvd]
enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Reference.Enabled || cfg.NVD.Enabled {
		t.Error("reference and nvd should be disabled")
	}
}

func TestLoad_CustomTimeout(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "qwen3:8b"
timeout  = 60
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Timeout != 60 {
		t.Errorf("timeout = %d, want 60", cfg.LLM.Timeout)
	}
}

func TestLoad_DefaultTimeout(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "ollama"
model    = "qwen3:8b"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Timeout != 0 {
		t.Errorf("timeout = %d, want 0 (default)", cfg.LLM.Timeout)
	}
}

func TestLoad_ProviderCaseInsensitive(t *testing.T) {
	path := writeTestConfig(t, `
[llm]
provider = "Anthropic"
api_key  = "test"
model    = "claude-sonnet-4-5-20250514"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q, want normalized %q", cfg.LLM.Provider, "anthropic")
	}
}
