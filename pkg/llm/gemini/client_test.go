package gemini

import (
	"testing"

	"vocalis/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestConvertMessagesKeepsSystemRoleMessages(t *testing.T) {
	g := &GeminiClient{}

	contents := g.convertMessages([]llm.Message{
		llm.NewMessage(llm.RoleUser, "tell me a story"),
		llm.NewMessage(llm.RoleAssistant, "Once upon a..."),
		llm.NewMessage(llm.RoleSystem, "[Interrupted by user]"),
	})

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	assert.Equal(t, genai.RoleModel, contents[1].Role)
	// No in-conversation system role exists; the marker rides as a user turn.
	assert.Equal(t, genai.RoleUser, contents[2].Role)
	assert.Equal(t, "[Interrupted by user]", contents[2].Parts[0].Text)
}

func TestConvertMessagesToolRoundtrip(t *testing.T) {
	g := &GeminiClient{}

	call := llm.NewMessage(llm.RoleAssistant, "Waiting for tool call response...")
	call.ToolCalls = []llm.ToolCall{llm.NewToolCall("c1", "get_weather", `{"city":"SF"}`)}
	result := llm.NewMessage(llm.RoleTool, "sunny")
	result.ToolCallID = "c1"

	contents := g.convertMessages([]llm.Message{call, result})
	require.Len(t, contents, 2)

	require.Len(t, contents[0].Parts, 2)
	fc := contents[0].Parts[1].FunctionCall
	require.NotNil(t, fc)
	assert.Equal(t, "c1", fc.ID)
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, map[string]any{"city": "SF"}, fc.Args)

	fr := contents[1].Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "c1", fr.ID)
	assert.Equal(t, map[string]any{"output": "sunny"}, fr.Response)
}
