package providers

import (
	"strings"

	"github.com/opencraw/opencraw/pkg/config"
)

// CreateProviderForModel selects the back-end family from the model name:
// a "claude-" prefix routes to Anthropic, everything else to the
// OpenAI-compatible HTTP path.
func CreateProviderForModel(cfg *config.Config, model string) (LLMProvider, error) {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "claude-") {
		if cfg.Providers.Anthropic.APIKey == "" {
			return nil, &InvalidInputError{Reason: "anthropic api_key is not configured"}
		}
		return NewAnthropicProvider(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.APIBase), nil
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		return nil, &InvalidInputError{Reason: "openai api_key is not configured"}
	}
	return NewHTTPProvider(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, ""), nil
}
