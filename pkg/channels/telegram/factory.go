package telegram

import (
	"fmt"

	"vocalis/pkg/api"
	"vocalis/pkg/channels"
	"vocalis/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TelegramFactory builds Telegram channels from raw config.
type TelegramFactory struct{}

// Create implements channels.ChannelFactory
func (f *TelegramFactory) Create(rawConfig jsoniter.RawMessage, system *config.SystemConfig) (api.Channel, error) {
	var pCfg TelegramConfig
	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse telegram config: %w", err)
	}
	if pCfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	return NewTelegramChannel(pCfg)
}

func init() {
	channels.RegisterChannel("telegram", &TelegramFactory{})
}
