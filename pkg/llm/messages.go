package llm

import "time"

// Role constants for conversation messages. Providers must map these to
// their native wire roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation log. Content is always flat
// text; multi-part payloads are flattened by the memory layer before a
// Message is created.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Name and Avatar carry display metadata for character front-ends.
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`

	// ToolCalls holds the native tool-call encoding of an assistant
	// message that requested tool invocations (role: assistant only).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-result message back to the call that
	// produced it (role: tool only).
	ToolCallID string `json:"tool_call_id,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// ToolCall mirrors the OpenAI-style tool call object carried on
// assistant messages.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the tool and carries its arguments as a JSON string.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ContentPart is one element of a structured multi-part message payload.
// Only text parts survive normalization into memory.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// NewMessage creates a message with the current timestamp.
func NewMessage(role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().Unix(),
	}
}

// NewToolCall builds a tool call in the native assistant-message encoding.
func NewToolCall(id, name, arguments string) ToolCall {
	return ToolCall{
		ID:   id,
		Type: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// FlattenParts concatenates the text parts of a structured payload,
// dropping everything else.
func FlattenParts(parts []ContentPart) string {
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
