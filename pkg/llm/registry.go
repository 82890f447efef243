package llm

import (
	"vocalis/pkg/config"
)

// ProviderGroupConfig configures one group of models from a single provider.
type ProviderGroupConfig struct {
	Type    string         `json:"type"`
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory builds the atomic clients for one provider group.
type ProviderFactory interface {
	Create(group ProviderGroupConfig, system *config.SystemConfig) ([]ModelClient, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider registers a factory under a provider type name.
// Called from provider package init functions via pkg/llm/autoload.
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory returns the factory registered for a provider type.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
