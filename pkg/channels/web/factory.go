package web

import (
	"fmt"

	"vocalis/pkg/api"
	"vocalis/pkg/channels"
	"vocalis/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory builds Web channels from raw config.
type WebFactory struct{}

// Create implements channels.ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	pCfg := WebConfig{Port: 8080}

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	return NewWebChannel(pCfg), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
