package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"vocalis/pkg/llm"
	"vocalis/pkg/mcp"
	"vocalis/pkg/memory"
	"vocalis/pkg/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedClient replays one pre-scripted event sequence per model round
// and records what each round was asked.
type scriptedClient struct {
	mu       sync.Mutex
	rounds   [][]llm.StreamEvent
	calls    int
	gotTools [][]llm.ToolSchema
	gotMsgs  [][]llm.Message
	gotSys   []string
}

func (s *scriptedClient) ChatCompletion(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (<-chan llm.StreamEvent, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.gotTools = append(s.gotTools, tools)
	s.gotMsgs = append(s.gotMsgs, messages)
	s.gotSys = append(s.gotSys, system)
	s.mu.Unlock()

	if idx >= len(s.rounds) {
		return nil, fmt.Errorf("unexpected model round %d", idx+1)
	}

	ch := make(chan llm.StreamEvent, len(s.rounds[idx])+1)
	for _, ev := range s.rounds[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (s *scriptedClient) IsTransientError(error) bool { return false }

// recordingCaller returns canned results per tool name.
type recordingCaller struct {
	mu      sync.Mutex
	results map[string]string
	errs    map[string]error
	calls   []mcp.PendingToolCall
}

func (c *recordingCaller) Call(ctx context.Context, call mcp.PendingToolCall) (string, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()

	if err, ok := c.errs[call.Name]; ok {
		return "", err
	}
	return c.results[call.Name], nil
}

func weatherRegistry() *mcp.Registry {
	r := mcp.NewRegistry()
	r.Register(mcp.ToolDescriptor{
		Name:          "get_weather",
		Description:   "Current weather for a city",
		RelatedServer: "weather",
		InputSchema:   map[string]any{"type": "object"},
	})
	return r
}

func collect(t *testing.T, ch <-chan pipeline.Token) (string, error) {
	t.Helper()
	text, err := pipeline.Collect(ch)
	return text, err
}

func TestChatPlainTextRound(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent("Hello"), llm.TextEvent(" world")},
	}}
	mem := memory.New("sys", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry()})

	text, err := collect(t, r.Chat(context.Background(), "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
	assert.Equal(t, 1, client.calls)
	assert.False(t, r.PromptMode())

	msgs := mem.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestChatStructuredToolRoundtrip(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{
			llm.TextEvent("Let me check. "),
			{ToolCalls: []llm.ToolCallDelta{{ID: "c1", Name: "get_weather", Arguments: `{"city":"SF"}`}}},
		},
		{llm.TextEvent("Sunny, 22 degrees.")},
	}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "sunny, 22C"}}
	mem := memory.New("sys", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	text, err := collect(t, r.Chat(context.Background(), "weather in SF?", nil))
	require.NoError(t, err)
	assert.Equal(t, "Let me check. Sunny, 22 degrees.", text)
	assert.Equal(t, 2, client.calls)

	// Round one advertises tools, round two includes the results.
	require.Len(t, client.gotTools, 2)
	assert.Len(t, client.gotTools[0], 1)

	require.Len(t, caller.calls, 1)
	assert.Equal(t, "get_weather", caller.calls[0].Name)
	assert.Equal(t, "weather", caller.calls[0].Server)
	assert.Equal(t, map[string]any{"city": "SF"}, caller.calls[0].Args)

	// Memory ordering: user, assistant(tool calls), tool result, final.
	msgs := mem.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[1].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "sunny, 22C", msgs[2].Content)
	assert.Equal(t, "Sunny, 22 degrees.", msgs[3].Content)
}

func TestChatToolCallWithoutIDGetsOne(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{{ToolCalls: []llm.ToolCallDelta{{Name: "get_weather", Arguments: `{}`}}}},
		{llm.TextEvent("done")},
	}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "ok"}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	_, err := collect(t, r.Chat(context.Background(), "x", nil))
	require.NoError(t, err)
	require.Len(t, caller.calls, 1)
	assert.NotEmpty(t, caller.calls[0].ID)
}

func TestChatUnknownToolYieldsDiagnostic(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{{ToolCalls: []llm.ToolCallDelta{{ID: "c1", Name: "make_coffee", Arguments: `{}`}}}},
	}}
	caller := &recordingCaller{}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	text, err := collect(t, r.Chat(context.Background(), "coffee please", nil))
	require.NoError(t, err)
	assert.Contains(t, text, "'make_coffee' not found")
	assert.Equal(t, 1, client.calls)
	assert.Empty(t, caller.calls)

	// The diagnostic becomes the assistant message of the turn.
	msgs := mem.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[1].Content, "not found")
}

func TestChatUndecodableArgumentsYieldDiagnostic(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{{ToolCalls: []llm.ToolCallDelta{{ID: "c1", Name: "get_weather", Arguments: `{broken`}}}},
	}}
	caller := &recordingCaller{}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	text, err := collect(t, r.Chat(context.Background(), "weather?", nil))
	require.NoError(t, err)
	assert.Contains(t, text, "failed to decode arguments")
	assert.Empty(t, caller.calls)
}

func TestChatToolExecutionFailureBecomesResultMessage(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{{ToolCalls: []llm.ToolCallDelta{{ID: "c1", Name: "get_weather", Arguments: `{}`}}}},
		{llm.TextEvent("I could not reach the weather service.")},
	}}
	caller := &recordingCaller{errs: map[string]error{"get_weather": errors.New("server exploded")}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	text, err := collect(t, r.Chat(context.Background(), "weather?", nil))
	require.NoError(t, err)
	assert.Equal(t, "I could not reach the weather service.", text)

	msgs := mem.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleTool, msgs[2].Role)
	assert.Contains(t, msgs[2].Content, "Error calling tool 'get_weather'")
	assert.Contains(t, msgs[2].Content, "server exploded")
}

func TestChatEmptyTranscriptGetsPlaceholder(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{{ToolCalls: []llm.ToolCallDelta{{ID: "c1", Name: "get_weather", Arguments: `{}`}}}},
		{llm.TextEvent("done")},
	}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "ok"}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller})

	_, err := collect(t, r.Chat(context.Background(), "x", nil))
	require.NoError(t, err)

	msgs := mem.Messages()
	assert.Equal(t, toolCallPlaceholder, msgs[1].Content)
}

func TestChatFallbackToPromptMode(t *testing.T) {
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		// Structured attempt rejected.
		{{ToolsUnsupported: true}},
		// Re-issued request answered with an embedded JSON tool request.
		{
			llm.TextEvent(`Checking. `),
			llm.TextEvent(`[{"mcp_server":"weather","tool":"get_weather","arguments":"{\"city\":\"SF\"}"}]`),
		},
		// Round after the tool result.
		{llm.TextEvent("Sunny.")},
	}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "sunny"}}
	registry := weatherRegistry()
	mem := memory.New("base", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{
		Registry:  registry,
		Caller:    caller,
		MCPPrompt: "Reply with a JSON tool list when you need tools.",
	})

	text, err := collect(t, r.Chat(context.Background(), "weather in SF?", nil))
	require.NoError(t, err)
	assert.Equal(t, "Checking. Sunny.", text)

	assert.True(t, r.PromptMode())
	assert.True(t, registry.Disabled())
	assert.Contains(t, mem.System(), "JSON tool list")

	// Tools advertised once, then never again.
	require.Equal(t, 3, client.calls)
	assert.NotEmpty(t, client.gotTools[0])
	assert.Empty(t, client.gotTools[1])
	assert.Empty(t, client.gotTools[2])

	require.Len(t, caller.calls, 1)
	assert.Equal(t, map[string]any{"city": "SF"}, caller.calls[0].Args)

	// Prompt mode records the result as a user message.
	msgs := mem.Messages()
	var toolResult *llm.Message
	for i := range msgs {
		if msgs[i].Role == llm.RoleUser && msgs[i].Content == "sunny" {
			toolResult = &msgs[i]
		}
	}
	require.NotNil(t, toolResult)
}

func TestChatPromptModeFromDisabledRegistry(t *testing.T) {
	registry := weatherRegistry()
	registry.Disable()

	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent("plain answer")},
	}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: registry})

	assert.True(t, r.PromptMode())

	text, err := collect(t, r.Chat(context.Background(), "hi", nil))
	require.NoError(t, err)
	assert.Equal(t, "plain answer", text)
	assert.Empty(t, client.gotTools[0])
}

func TestChatPromptModeDropsIncompleteEntries(t *testing.T) {
	registry := weatherRegistry()
	registry.Disable()

	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent(`[{"tool":"get_weather"},{"mcp_server":"weather","tool":"get_weather","arguments":{}}]`)},
		{llm.TextEvent("done")},
	}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "ok"}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: registry, Caller: caller})

	_, err := collect(t, r.Chat(context.Background(), "x", nil))
	require.NoError(t, err)

	// Only the complete entry executes.
	require.Len(t, caller.calls, 1)
	assert.Equal(t, "weather", caller.calls[0].Server)
}

func TestChatPromptModeUnterminatedJSONSurfacesAsText(t *testing.T) {
	registry := weatherRegistry()
	registry.Disable()

	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent(`answer: `), llm.TextEvent(`[{"mcp_server":"weather"`)},
	}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: registry})

	text, err := collect(t, r.Chat(context.Background(), "x", nil))
	require.NoError(t, err)
	assert.Equal(t, `answer: [{"mcp_server":"weather"`, text)
}

func TestChatMaxRoundsGuard(t *testing.T) {
	toolRound := []llm.StreamEvent{
		{ToolCalls: []llm.ToolCallDelta{{ID: "c", Name: "get_weather", Arguments: `{}`}}},
	}
	client := &scriptedClient{rounds: [][]llm.StreamEvent{toolRound, toolRound}}
	caller := &recordingCaller{results: map[string]string{"get_weather": "ok"}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Caller: caller, MaxRounds: 2})

	text, err := collect(t, r.Chat(context.Background(), "loop forever", nil))
	require.ErrorIs(t, err, ErrToolLoopExceeded)
	assert.Contains(t, text, "Tool call limit")
	assert.Equal(t, 2, client.calls)
	assert.Len(t, caller.calls, 2)
}

func TestChatStreamErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent("partial"), llm.ErrorEvent(boom)},
	}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry()})

	text, err := collect(t, r.Chat(context.Background(), "x", nil))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", text)

	// A failed round commits nothing but the user input.
	msgs := mem.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llm.RoleUser, msgs[0].Role)
}

func TestChatCancellationStopsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{rounds: [][]llm.StreamEvent{
		{llm.TextEvent("a"), llm.TextEvent("b"), llm.TextEvent("c")},
	}}
	mem := memory.New("", memory.InterruptAsSystem)
	r := NewResolver(client, mem, Options{Registry: weatherRegistry(), Buffer: 1})

	out := r.Chat(ctx, "x", nil)
	// The stream must terminate; partial output is acceptable.
	for range out {
	}
}
