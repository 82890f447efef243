package mcp

import (
	"context"
	"fmt"
	"log/slog"

	jsoniter "github.com/json-iterator/go"
)

// ServerManager holds the configured MCP server definitions and knows how
// to populate a Registry from their advertised capabilities.
type ServerManager struct {
	servers map[string]ServerConfig
}

// NewServerManager creates a manager over a fixed server list.
func NewServerManager(servers []ServerConfig) *ServerManager {
	m := &ServerManager{servers: make(map[string]ServerConfig, len(servers))}
	for _, s := range servers {
		m.servers[s.Name] = s
	}
	return m
}

// NewServerManagerFromConfig parses the raw "mcp_servers" config section.
func NewServerManagerFromConfig(raw jsoniter.RawMessage) (*ServerManager, error) {
	var servers []ServerConfig
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &servers); err != nil {
			return nil, fmt.Errorf("failed to parse 'mcp_servers' config: %w", err)
		}
	}
	return NewServerManager(servers), nil
}

// Lookup returns the configuration of a named server.
func (m *ServerManager) Lookup(name string) (ServerConfig, bool) {
	s, ok := m.servers[name]
	return s, ok
}

// Names lists the configured server names.
func (m *ServerManager) Names() []string {
	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	return names
}

// DiscoverTools connects to every configured server, lists its tools, and
// registers them. A server that fails discovery is skipped so one broken
// server does not take down the capability set.
func (m *ServerManager) DiscoverTools(ctx context.Context, registry *Registry) {
	for name, server := range m.servers {
		tools, err := m.discoverServer(ctx, server)
		if err != nil {
			slog.Warn("MCP tool discovery failed", "server", name, "error", err)
			continue
		}
		for _, t := range tools {
			registry.Register(t)
		}
		slog.Info("MCP server tools registered", "server", name, "count", len(tools))
	}
}

func (m *ServerManager) discoverServer(ctx context.Context, server ServerConfig) ([]ToolDescriptor, error) {
	session, err := Connect(ctx, server)
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.ListTools(ctx)
}
