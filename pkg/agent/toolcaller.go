package agent

import (
	"context"
	"fmt"
	"time"

	"vocalis/pkg/mcp"
)

// MCPToolCaller executes tool calls over scoped MCP connections: each
// call spawns the owning server, runs the tool, and tears the connection
// down again. Connections never outlive a single call.
type MCPToolCaller struct {
	Servers *mcp.ServerManager
	// CallTimeout bounds one tool execution, connection setup included.
	CallTimeout time.Duration
}

func (c *MCPToolCaller) Call(ctx context.Context, call mcp.PendingToolCall) (string, error) {
	server, ok := c.Servers.Lookup(call.Server)
	if !ok {
		return "", fmt.Errorf("unknown MCP server '%s'", call.Server)
	}

	if c.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()
	}

	session, err := mcp.Connect(ctx, server)
	if err != nil {
		return "", fmt.Errorf("connect to MCP server '%s': %w", call.Server, err)
	}
	defer session.Close()

	return session.CallTool(ctx, call.Name, call.Args)
}
