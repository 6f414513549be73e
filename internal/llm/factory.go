package llm

import (
	"context"
	"fmt"

	"kodai/internal/config"
)

// NewClient creates a provider client from the application configuration.
func NewClient(ctx context.Context, cfg *config.Config) (Client, error) {
	provider := cfg.API.GetActiveProvider()

	switch provider {
	case "gemini":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:             cfg.API.GeminiKey,
			Model:              cfg.Model.Name,
			Temperature:        cfg.Model.Temperature,
			MaxOutputTokens:    cfg.Model.MaxOutputTokens,
			MaxRetries:         cfg.API.Retry.MaxRetries,
			RetryDelay:         cfg.API.Retry.RetryDelay,
			MinRequestInterval: cfg.API.MinRequestInterval,
		})

	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL:            cfg.API.OllamaBaseURL,
			APIKey:             cfg.API.OllamaKey,
			Model:              cfg.Model.Name,
			Temperature:        cfg.Model.Temperature,
			MaxTokens:          cfg.Model.MaxOutputTokens,
			HTTPTimeout:        cfg.API.Retry.HTTPTimeout,
			MaxRetries:         cfg.API.Retry.MaxRetries,
			RetryDelay:         cfg.API.Retry.RetryDelay,
			MinRequestInterval: cfg.API.MinRequestInterval,
			SupportsToolCalls:  cfg.Model.SupportsToolCalls,
		})

	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:            cfg.API.OpenAIBaseURL,
			APIKey:             cfg.API.OpenAIKey,
			Model:              cfg.Model.Name,
			Temperature:        cfg.Model.Temperature,
			MaxTokens:          cfg.Model.MaxOutputTokens,
			HTTPTimeout:        cfg.API.Retry.HTTPTimeout,
			MaxRetries:         cfg.API.Retry.MaxRetries,
			RetryDelay:         cfg.API.Retry.RetryDelay,
			MinRequestInterval: cfg.API.MinRequestInterval,
		})
	}

	return nil, fmt.Errorf("unknown provider: %s", provider)
}
