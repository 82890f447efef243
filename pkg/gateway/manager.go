package gateway

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vocalis/pkg/api"
	"vocalis/pkg/monitor"
	"vocalis/pkg/pipeline"
)

// Manager owns every registered Channel and routes messages between the
// platforms and the conversation handler.
type Manager struct {
	channels      map[string]api.Channel
	msgHandler    api.MessageHandler
	monitor       monitor.Monitor
	channelBuffer int
	mu            sync.RWMutex
}

// NewManager creates a gateway with no channels registered.
func NewManager() *Manager {
	return &Manager{
		channels:      make(map[string]api.Channel),
		channelBuffer: 100,
	}
}

// SetChannelBuffer sets the internal token channel buffer size.
func (g *Manager) SetChannelBuffer(size int) {
	if size > 0 {
		g.channelBuffer = size
	}
}

// SetMessageHandler sets the core message processing logic.
func (g *Manager) SetMessageHandler(handler api.MessageHandler) {
	g.msgHandler = handler
}

// SetMonitor attaches a monitor that observes all routed messages.
func (g *Manager) SetMonitor(m monitor.Monitor) {
	g.monitor = m
}

// Register adds a Channel under its ID.
func (g *Manager) Register(c api.Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.channels[c.ID()] = c
}

// GetChannel returns a registered Channel by ID.
func (g *Manager) GetChannel(id string) (api.Channel, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.channels[id]
	return c, ok
}

// StartAll starts every registered Channel, passing itself as the context.
func (g *Manager) StartAll() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Starting channel", "channel", id)
		if err := c.Start(g); err != nil {
			return fmt.Errorf("failed to start channel %s: %w", id, err)
		}
	}
	return nil
}

// StopAll stops every registered Channel.
func (g *Manager) StopAll() {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for id, c := range g.channels {
		slog.Info("Stopping channel", "channel", id)
		if err := c.Stop(); err != nil {
			slog.Error("Error stopping channel", "channel", id, "error", err)
		}
	}
}

// SendReply sends a complete message back through the originating channel.
func (g *Manager) SendReply(session api.SessionContext, content string) error {
	if g.monitor != nil {
		g.monitor.OnEvent(monitor.Event{
			Timestamp: time.Now(),
			Kind:      "ASSISTANT",
			ChannelID: session.ChannelID,
			Username:  session.Username,
			Content:   content,
		})
	}

	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}
	return c.Send(session, content)
}

// SendSignal delivers a control signal to channels that support signaling.
// Channels without signal support ignore it silently.
func (g *Manager) SendSignal(session api.SessionContext, signal string) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	if sc, ok := c.(api.SignalingChannel); ok {
		return sc.SendSignal(session, signal)
	}
	return nil
}

// StreamReply forwards a token stream to the originating channel. The
// stream is wrapped so the full text can be broadcast to the monitor once
// it completes.
func (g *Manager) StreamReply(session api.SessionContext, tokens <-chan pipeline.Token) error {
	c, ok := g.GetChannel(session.ChannelID)
	if !ok {
		return fmt.Errorf("channel %s not found", session.ChannelID)
	}

	wrapped := make(chan pipeline.Token, g.channelBuffer)
	go func() {
		defer close(wrapped)
		var full strings.Builder
		for tok := range tokens {
			full.WriteString(tok.Text)
			wrapped <- tok
		}
		if full.Len() > 0 && g.monitor != nil {
			g.monitor.OnEvent(monitor.Event{
				Timestamp: time.Now(),
				Kind:      "ASSISTANT",
				ChannelID: session.ChannelID,
				Username:  session.Username,
				Content:   full.String(),
			})
		}
	}()

	return c.Stream(session, wrapped)
}

// OnMessage implements api.ChannelContext and receives messages from Channels.
func (g *Manager) OnMessage(channelID string, msg *api.UnifiedMessage) {
	if msg.Interrupt {
		slog.Info("Interrupt received", "channel", channelID, "user", msg.Session.Username)
	} else {
		slog.Info("Message received", "channel", channelID, "user", msg.Session.Username, "content", msg.Content)
	}

	if g.monitor != nil {
		kind := "USER"
		if msg.Interrupt {
			kind = "INTERRUPT"
		}
		g.monitor.OnEvent(monitor.Event{
			Timestamp: time.Now(),
			Kind:      kind,
			ChannelID: channelID,
			Username:  msg.Session.Username,
			Content:   msg.Content,
		})
	}

	if g.msgHandler != nil {
		g.msgHandler(msg)
	} else {
		slog.Warn("No message handler set")
	}
}
