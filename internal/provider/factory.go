package provider

import (
	"fmt"
	"log/slog"

	"mailpilot/internal/config"
	"mailpilot/internal/domain"
)

// FromConfig builds the inference backend named by the config,
// wrapped with its configured rate limit.
func FromConfig(cfg *config.Config, logger *slog.Logger) (domain.Inference, error) {
	name := cfg.General.DefaultProvider
	pc, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	if !pc.Enabled {
		return nil, fmt.Errorf("provider %s is disabled", name)
	}

	var inf domain.Inference
	switch name {
	case "openai":
		inf = NewOpenAI(OpenAIConfig{
			APIKey:      pc.APIKey,
			APIBase:     pc.APIBase,
			Model:       pc.Model,
			HTTPTimeout: pc.HTTPTimeoutSecs,
			Logger:      logger,
		})
	case "anthropic":
		inf = NewAnthropic(AnthropicConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  logger,
		})
	default:
		// Anything else is assumed OpenAI-compatible (ollama, vllm,
		// gateway proxies) as long as an apiBase is set.
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: apiBase is required", name)
		}
		inf = NewOpenAI(OpenAIConfig{
			APIKey:  pc.APIKey,
			APIBase: pc.APIBase,
			Model:   pc.Model,
			Logger:  logger,
		})
	}

	if pc.RateLimitPerMin > 0 {
		inf = Throttle(inf, NewRateLimiter(pc.RateBurst, pc.RateLimitPerMin))
	}
	return inf, nil
}

// GenerateParams derives the per-call inference parameters from the
// provider config.
func GenerateParams(pc config.ProviderConfig) domain.GenerateParams {
	return domain.GenerateParams{
		Model:       pc.Model,
		Temperature: pc.Temperature,
		MaxTokens:   pc.MaxTokens,
	}
}
