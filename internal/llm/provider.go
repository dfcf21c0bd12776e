// Package llm talks to the generative model backends.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Request is one model call.
type Request struct {
	System string
	Prompt string
	// Schema, when set, constrains the output to a JSON object of this shape.
	Schema map[string]interface{}
	// Grounding enables live web search where the backend supports it.
	Grounding   bool
	MaxTokens   int
	Temperature float64
}

// Source is a page the model consulted while answering.
type Source struct {
	Title string
	URL   string
}

// Response is the model output.
type Response struct {
	Text    string
	Sources []Source
	// Truncated is set when the backend stopped at the output token limit.
	Truncated bool
}

// Provider is the interface for model backends.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config selects and configures a backend.
type Config struct {
	Provider         string
	APIKey           string
	Model            string
	Endpoint         string
	Timeout          time.Duration
	WebSearchMaxUses int
}

// NewProvider creates a Provider from configuration.
// A zero Timeout uses per-provider defaults.
func NewProvider(cfg Config) (Provider, error) {
	timeout := func(def time.Duration) time.Duration {
		if cfg.Timeout > 0 {
			return cfg.Timeout
		}
		return def
	}

	switch cfg.Provider {
	case "anthropic":
		ep := "https://api.anthropic.com/v1"
		if cfg.Endpoint != "" {
			ep = cfg.Endpoint
		}
		maxUses := cfg.WebSearchMaxUses
		if maxUses <= 0 {
			maxUses = 8
		}
		return &AnthropicProvider{
			apiKey:   cfg.APIKey,
			model:    cfg.Model,
			endpoint: strings.TrimRight(ep, "/"),
			maxUses:  maxUses,
			client:   &http.Client{Timeout: timeout(90 * time.Second)},
		}, nil
	case "openai":
		return newOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Endpoint, &http.Client{Timeout: timeout(90 * time.Second)}), nil
	case "ollama":
		ep := "http://localhost:11434"
		if cfg.Endpoint != "" {
			ep = cfg.Endpoint
		}
		return &OllamaProvider{
			model:    cfg.Model,
			endpoint: strings.TrimRight(ep, "/"),
			client:   &http.Client{Timeout: timeout(300 * time.Second)},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider)
	}
}

// truncateAPIError limits API error response bodies to prevent sensitive information leakage.
// Returns at most 512 bytes of the response for diagnostic purposes.
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}

// dedupeSources keeps the first occurrence of each URL.
func dedupeSources(in []Source) []Source {
	seen := make(map[string]struct{}, len(in))
	out := make([]Source, 0, len(in))
	for _, s := range in {
		u := strings.TrimSpace(s.URL)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, Source{Title: strings.TrimSpace(s.Title), URL: u})
	}
	return out
}
