package ai

import (
	"context"
	"strings"

	"github.com/toidukodu/tehiskokk/internal/config"
)

// NewConfiguredRegistry registers every supported provider with the settings
// from cfg. A model passed to Get overrides the configured default.
func NewConfiguredRegistry(cfg config.Config) *Registry {
	reg := NewRegistry()

	pick := func(model, fallback string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return fallback
	}

	reg.Register("groq", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOpenAIProvider(cfg.GroqBaseURL, cfg.GroqAPIKey, pick(model, cfg.GroqModel), cfg.AIMaxTokens, cfg.AITemperature)
	})
	reg.Register("openai", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, pick(model, cfg.OpenAIModel), cfg.AIMaxTokens, cfg.AITemperature)
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, pick(model, cfg.OpenRouterModel), cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
	})
	reg.Register("ollama", func(ctx context.Context, model string) (StreamProvider, error) {
		return NewOllamaProvider(cfg.OllamaBaseURL, pick(model, cfg.OllamaModel)), nil
	})
	return reg
}
