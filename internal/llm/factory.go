package llm

import (
	"fmt"
	"strings"

	"github.com/samsaffron/toolstream/internal/config"
)

// ProviderNames lists the providers NewProvider can build.
var ProviderNames = []string{"anthropic", "openai", "gemini", "scripted"}

// ParseProviderModel parses "provider:model" or just "provider" from a flag value.
// Model will be empty if not specified.
func ParseProviderModel(s string) (string, string, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 || strings.TrimSpace(parts[0]) == "" {
		return "", "", fmt.Errorf("invalid provider format: %q", s)
	}
	provider := strings.TrimSpace(parts[0])
	model := ""
	if len(parts) == 2 {
		model = strings.TrimSpace(parts[1])
	}
	for _, name := range ProviderNames {
		if provider == name {
			return provider, model, nil
		}
	}
	return "", "", fmt.Errorf("unknown provider: %s", provider)
}

// NewProvider creates the configured provider. Hosted providers are wrapped
// with automatic retry for rate limits (429) and transient errors.
func NewProvider(cfg *config.Config) (Provider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Provider == "scripted" || cfg.Agent.Retries <= 0 {
		return provider, nil
	}
	retry := DefaultRetryConfig()
	retry.MaxAttempts = cfg.Agent.Retries
	return WrapWithRetry(provider, retry), nil
}

func newProviderInternal(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "openai":
		return NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	case "gemini":
		return NewGeminiProvider(cfg.Gemini.APIKey, cfg.Gemini.Model)
	case "scripted":
		if cfg.Scripted.Path == "" {
			return nil, fmt.Errorf("scripted provider requires scripted.path")
		}
		script, err := LoadScript(cfg.Scripted.Path)
		if err != nil {
			return nil, err
		}
		return NewScriptedProvider(script), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
}
