package provider

import (
	"fmt"
	"log/slog"

	"mamacare/internal/config"
	"mamacare/internal/domain"
)

// Select resolves the chat provider once at process startup: the first name
// in the priority list with an API key configured wins. There is no fallback
// between providers at call time; a failed call stays failed.
func Select(priority []string, providers map[string]config.ProviderConfig, logger *slog.Logger) (domain.ChatProvider, error) {
	for _, name := range priority {
		pc, ok := providers[name]
		if !ok || pc.APIKey == "" {
			continue
		}
		switch name {
		case "openai":
			logger.Info("chat provider selected", "provider", name, "model", pc.DefaultModel)
			return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
		case "claude":
			logger.Info("chat provider selected", "provider", name, "model", pc.DefaultModel)
			return NewClaude(ClaudeConfig{APIKey: pc.APIKey, Model: pc.DefaultModel, Logger: logger}), nil
		default:
			// Unknown names with full credentials are treated as OpenAI-compatible.
			if pc.APIBase != "" {
				logger.Info("chat provider selected", "provider", name, "model", pc.DefaultModel, "compat", "openai")
				return NewOpenAI(OpenAIConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger}), nil
			}
		}
	}
	return nil, fmt.Errorf("no chat provider configured (checked: %v)", priority)
}
