package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	jsoniter "github.com/json-iterator/go"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is a scoped connection to one MCP server subprocess. It is
// acquired immediately before use and must be closed on every exit path;
// closing also terminates the subprocess.
type Session struct {
	server string
	conn   *mcpsdk.ClientSession
}

// Connect launches the server subprocess and performs the MCP handshake.
func Connect(ctx context.Context, server ServerConfig) (*Session, error) {
	cmd := exec.Command(server.Command, server.Args...)
	cmd.Stderr = os.Stderr
	if len(server.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "vocalis", Version: "v1.0.0"}, nil)
	conn, err := client.Connect(ctx, mcpsdk.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, fmt.Errorf("failed to connect to MCP server '%s': %w", server.Name, err)
	}

	return &Session{server: server.Name, conn: conn}, nil
}

// ListTools pages through the server's tool list and returns descriptors.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var out []ToolDescriptor
	params := &mcpsdk.ListToolsParams{}
	for {
		list, err := s.conn.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools from MCP server '%s': %w", s.server, err)
		}

		for _, t := range list.Tools {
			schema := make(map[string]any)
			if t.InputSchema != nil {
				if raw, err := json.Marshal(t.InputSchema); err == nil {
					json.Unmarshal(raw, &schema)
				}
			}
			out = append(out, ToolDescriptor{
				Name:          t.Name,
				Description:   t.Description,
				RelatedServer: s.server,
				InputSchema:   schema,
			})
		}

		if list.NextCursor == "" {
			return out, nil
		}
		params.Cursor = list.NextCursor
	}
}

// CallTool invokes a tool and flattens its text content into one string.
// A tool-side error result is returned as an error carrying the flattened
// text.
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := s.conn.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("failed to call tool '%s': %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}

	if result.IsError {
		return "", fmt.Errorf("tool '%s' reported an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close terminates the connection and the server subprocess.
func (s *Session) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
