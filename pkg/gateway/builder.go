package gateway

import (
	"fmt"

	"vocalis/pkg/api"
	"vocalis/pkg/config"
	"vocalis/pkg/monitor"
)

// Builder provides a fluent interface for constructing and starting a
// Manager with all its dependencies.
//
// Channels and the handler are pre-built and injected as instances; the
// Builder assembles and starts them.
type Builder struct {
	gw             *Manager
	monitor        monitor.Monitor
	systemConfig   *config.SystemConfig
	handlerBuilder func(api.MessageResponder) api.MessageHandler
	channels       []api.Channel
}

// NewBuilder creates a fresh Builder with an internal Manager to configure.
func NewBuilder() *Builder {
	return &Builder{
		gw: NewManager(),
	}
}

// WithMonitor injects a monitoring implementation. The monitor is started
// automatically during Build().
func (b *Builder) WithMonitor(m monitor.Monitor) *Builder {
	b.monitor = m
	return b
}

// WithSystemConfig provides engine-level technical parameters used to set
// up internal buffers.
func (b *Builder) WithSystemConfig(cfg *config.SystemConfig) *Builder {
	b.systemConfig = cfg
	return b
}

// WithChannel adds pre-built channel instances to the gateway.
func (b *Builder) WithChannel(channels ...api.Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// WithHandler registers a strategy that builds the message handler once
// the gateway responder is available.
func (b *Builder) WithHandler(build func(api.MessageResponder) api.MessageHandler) *Builder {
	b.handlerBuilder = build
	return b
}

// Build finalizes the configuration, wires all dependencies, registers
// the channels, and starts everything.
func (b *Builder) Build() (*Manager, error) {
	if b.systemConfig != nil {
		b.gw.SetChannelBuffer(b.systemConfig.InternalChannelBuffer)
	}

	if b.monitor != nil {
		b.gw.SetMonitor(b.monitor)
		if err := b.monitor.Start(); err != nil {
			return nil, fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	for _, c := range b.channels {
		b.gw.Register(c)
	}

	if b.handlerBuilder != nil {
		if handler := b.handlerBuilder(b.gw); handler != nil {
			b.gw.SetMessageHandler(handler)
		}
	}

	if err := b.gw.StartAll(); err != nil {
		return nil, fmt.Errorf("failed to start channels: %w", err)
	}

	return b.gw, nil
}
