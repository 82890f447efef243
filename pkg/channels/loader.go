package channels

import (
	"log/slog"

	"vocalis/pkg/api"
	"vocalis/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// BuildFromConfig resolves a factory for every configured platform and
// instantiates the channels. Unknown platforms and failed creations are
// logged and skipped so one bad channel never blocks startup.
func BuildFromConfig(configs map[string]jsoniter.RawMessage, system *config.SystemConfig) []api.Channel {
	var built []api.Channel

	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}
		if channel == nil {
			continue
		}

		built = append(built, channel)
		slog.Info("Channel created", "name", name)
	}

	return built
}
