package providers

import "strings"

// InferProviderFromModel infers a provider label from a model identifier.
// This is used for usage reporting and does not affect routing.
func InferProviderFromModel(model string) string {
	m := strings.TrimSpace(strings.ToLower(model))
	if m == "" {
		return "unknown"
	}

	switch {
	case strings.HasPrefix(m, "claude-"), strings.Contains(m, "anthropic"):
		return "anthropic"
	case strings.Contains(m, "gpt"), strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return "openai"
	default:
		return "openai-compatible"
	}
}
