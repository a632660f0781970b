package inference

import (
	"context"
	"fmt"
)

// Providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderNone      = "none"
)

const defaultMaxTokens = 1024

// Config selects and configures a backend.
type Config struct {
	Provider  string
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
}

// New builds the Analyzer for cfg. ProviderNone yields an analyzer that is
// always unavailable, so enrichment falls through to heuristics.
func New(cfg Config) (Analyzer, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	switch cfg.Provider {
	case ProviderOpenAI, "":
		return NewOpenAIClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case ProviderNone:
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

// Disabled is the analyzer used when no backend is configured.
type Disabled struct{}

// Name identifies the backend in logs.
func (Disabled) Name() string { return ProviderNone }

// Analyze always reports the backend as unavailable.
func (Disabled) Analyze(context.Context, Request) (string, error) {
	return "", fmt.Errorf("%w: no inference provider configured", ErrUnavailable)
}
