package gemini

import (
	"log/slog"

	"vocalis/pkg/config"
	"vocalis/pkg/llm"
)

// GeminiFactory handles creation of Gemini clients
type GeminiFactory struct{}

// Create implements ProviderFactory. API keys rotate across models so
// free-tier quota spreads over multiple keys.
func (f *GeminiFactory) Create(cfg llm.ProviderGroupConfig, sys *config.SystemConfig) ([]llm.ModelClient, error) {
	var clients []llm.ModelClient

	for i, model := range cfg.Models {
		apiKey := ""
		if len(cfg.APIKeys) > 0 {
			apiKey = cfg.APIKeys[i%len(cfg.APIKeys)]
		}

		client, err := NewGeminiClient(apiKey, model, sys.DebugChunks)
		if err != nil {
			slog.Error("Failed to create Gemini client", "model", model, "error", err)
			continue
		}
		clients = append(clients, client)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("gemini", &GeminiFactory{})
}
