package engine

import (
	"context"
	"fmt"
)

// Provider names accepted by New.
const (
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
)

// Config selects and configures a completion backend.
type Config struct {
	Provider      string
	APIKey        string
	BaseURL       string
	OllamaBaseURL string
}

// New returns the Engine for cfg.Provider. Hosted providers require an API
// key.
func New(ctx context.Context, cfg Config) (Engine, error) {
	switch cfg.Provider {
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderOpenRouter, "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %s requires llm.api_key", ProviderOpenRouter)
		}
		return NewRouterEngine(cfg.APIKey, cfg.BaseURL), nil
	case ProviderGemini:
		return NewGeminiEngine(ctx, cfg.APIKey)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
