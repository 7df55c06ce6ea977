// Package llm talks to hosted language models used as a last resort for
// reading listing fields out of free-form messages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrNoProvider is returned when no model is configured.
var ErrNoProvider = errors.New("no LLM provider configured")

// Provider is the interface for LLM completions.
type Provider interface {
	// Complete sends a prompt and returns the response text.
	Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error)
	// Name returns a human-readable provider name (e.g., "google/gemini-2.5-flash").
	Name() string
}

// CompletionOpts configures a single completion request.
type CompletionOpts struct {
	MaxTokens   int     // Max tokens to generate (0 = provider default)
	Temperature float64 // 0.0-2.0 (0 = deterministic)
	Format      string  // "json" for structured output, empty for plain text
	System      string  // System prompt (optional)
}

// Config holds provider configuration.
type Config struct {
	Provider string // "google", "openrouter"
	Model    string
	APIKey   string // API key (empty = read from env)
	BaseURL  string // Optional URL override
}

// NewProvider creates an LLM provider from the given config.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "google":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			key = os.Getenv("GOOGLE_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("google provider requires GEMINI_API_KEY or GOOGLE_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-2.5-flash"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://generativelanguage.googleapis.com/v1beta"
		}
		return &googleProvider{apiKey: key, model: model, baseURL: baseURL}, nil

	case "openrouter":
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENROUTER_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("openrouter provider requires OPENROUTER_API_KEY env var")
		}
		model := cfg.Model
		if model == "" {
			model = "openai/gpt-4o-mini"
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://openrouter.ai/api/v1"
		}
		return &openrouterProvider{apiKey: key, model: model, baseURL: baseURL}, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %q (supported: google, openrouter)", cfg.Provider)
	}
}

// ParseSpec parses a "provider/model" value such as "google/gemini-2.5-flash"
// or "openrouter/openai/gpt-4o-mini".
func ParseSpec(spec string) (Config, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "/", 2)
	if len(parts) < 2 || parts[1] == "" {
		return Config{}, fmt.Errorf("invalid LLM spec %q: expected provider/model (e.g., google/gemini-2.5-flash)", spec)
	}

	provider := strings.ToLower(parts[0])
	switch provider {
	case "google", "openrouter":
		return Config{Provider: provider, Model: parts[1]}, nil
	default:
		return Config{}, fmt.Errorf("unknown provider %q in LLM spec (supported: google, openrouter)", provider)
	}
}

// FromSpecs builds the provider chain for a primary and an optional
// fallback spec. Both empty yields ErrNoProvider.
func FromSpecs(primary, fallback string) (Provider, error) {
	var chain []Provider
	for _, spec := range []string{primary, fallback} {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		cfg, err := ParseSpec(spec)
		if err != nil {
			return nil, err
		}
		p, err := NewProvider(cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
		return nil, ErrNoProvider
	case 1:
		return chain[0], nil
	default:
		return &Fallback{Primary: chain[0], Secondary: chain[1]}, nil
	}
}

// Fallback tries Primary and, when it fails, Secondary.
type Fallback struct {
	Primary   Provider
	Secondary Provider
}

// Name returns both provider names.
func (f *Fallback) Name() string {
	if f.Secondary == nil {
		return f.Primary.Name()
	}
	return f.Primary.Name() + "," + f.Secondary.Name()
}

// Complete calls Primary, then Secondary if Primary failed and the context
// is still live.
func (f *Fallback) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	out, err := f.Primary.Complete(ctx, prompt, opts)
	if err == nil || f.Secondary == nil || ctx.Err() != nil {
		return out, err
	}
	slog.Warn("Primary LLM failed, trying fallback",
		"primary", f.Primary.Name(),
		"fallback", f.Secondary.Name(),
		"error", err)
	out, err2 := f.Secondary.Complete(ctx, prompt, opts)
	if err2 != nil {
		return "", errors.Join(err, err2)
	}
	return out, nil
}
