package mcp

// ServerConfig describes one MCP server launched as a subprocess and
// spoken to over stdio.
type ServerConfig struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
}

// ToolDescriptor is the registry entry for one discovered tool.
// Immutable once registered.
type ToolDescriptor struct {
	Name          string
	Description   string
	RelatedServer string
	InputSchema   map[string]any
}

// PendingToolCall is a tool invocation detected in a model round, waiting
// to be executed. ID is empty in prompt-fallback mode, which has no native
// call identifiers.
type PendingToolCall struct {
	Name   string
	Server string
	Args   map[string]any
	ID     string
}
