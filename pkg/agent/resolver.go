package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"vocalis/pkg/llm"
	"vocalis/pkg/mcp"
	"vocalis/pkg/memory"
	"vocalis/pkg/pipeline"
	"vocalis/pkg/utils"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrToolLoopExceeded terminates a turn in which the model kept requesting
// tools past the configured round limit.
var ErrToolLoopExceeded = errors.New("tool-call loop exceeded configured round limit")

// toolCallPlaceholder stands in for an empty assistant transcript when a
// tool-call round must still be recorded: the model API requires the
// assistant message carrying the calls to precede the tool results.
const toolCallPlaceholder = "Waiting for tool call response..."

// ToolCaller executes one pending tool call and returns its textual result.
type ToolCaller interface {
	Call(ctx context.Context, call mcp.PendingToolCall) (string, error)
}

// Options configures a Resolver.
type Options struct {
	// Registry is the capability set advertised in structured mode.
	Registry *mcp.Registry
	// Caller executes pending tool calls. Required when Registry holds tools.
	Caller ToolCaller
	// MCPPrompt is appended to the system prompt on fallback to prompt mode.
	MCPPrompt string
	// MaxRounds bounds the model/tools loop per turn. Zero falls back to
	// the default limit of 10 rounds.
	MaxRounds int
	// Buffer sizes the output token channel.
	Buffer int
}

// Resolver drives the rounds of one conversation turn: it consumes the
// model stream, distinguishes plain text from tool invocations across the
// two protocols, executes tools, feeds results back into memory, and
// loops until the model produces a final answer.
//
// A Resolver processes one turn at a time; its state (including the
// one-way promptMode switch) is private to one agent instance.
type Resolver struct {
	client    llm.ModelClient
	memory    *memory.Memory
	registry  *mcp.Registry
	caller    ToolCaller
	mcpPrompt string
	maxRounds int
	buffer    int

	// promptMode records the irreversible structured → prompt-fallback
	// protocol transition. Never reset within an agent's lifetime.
	promptMode bool
}

// NewResolver creates a resolver with constructor-injected collaborators.
func NewResolver(client llm.ModelClient, mem *memory.Memory, opts Options) *Resolver {
	registry := opts.Registry
	if registry == nil {
		registry = mcp.NewRegistry()
	}
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 10
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 100
	}
	return &Resolver{
		client:    client,
		memory:    mem,
		registry:  registry,
		caller:    opts.Caller,
		mcpPrompt: opts.MCPPrompt,
		maxRounds: maxRounds,
		buffer:    buffer,
		// A registry that already fell back binds new agent instances
		// to prompt-mode from the start.
		promptMode: registry.Disabled(),
	}
}

// Memory exposes the conversation memory of this agent instance.
func (r *Resolver) Memory() *memory.Memory {
	return r.memory
}

// PromptMode reports whether the protocol has fallen back to prompt-mode
// tool calling.
func (r *Resolver) PromptMode() bool {
	return r.promptMode
}

// Chat runs one conversation turn. The user input is appended to memory
// immediately; text tokens stream on the returned channel, which closes
// when the turn completes. A token with Err set is the final item of a
// failed turn.
func (r *Resolver) Chat(ctx context.Context, input string, meta *memory.DisplayMeta) <-chan pipeline.Token {
	out := make(chan pipeline.Token, r.buffer)
	go func() {
		defer close(out)
		r.memory.RenderForModel(input, meta)
		r.run(ctx, out)
	}()
	return out
}

// run is the round loop. Each iteration requests one model round; rounds
// that yield tool calls execute them sequentially and loop with no new
// user input. The loop terminates when a round produces no tool calls or
// the round limit is hit.
func (r *Resolver) run(ctx context.Context, out chan<- pipeline.Token) {
	for round := 1; ; round++ {
		if round > r.maxRounds {
			slog.Error("Tool-call loop exceeded round limit", "limit", r.maxRounds)
			r.forward(ctx, out, fmt.Sprintf("Tool call limit of %d rounds exceeded, stopping here.", r.maxRounds))
			r.emitErr(ctx, out, ErrToolLoopExceeded)
			return
		}

		pending, err := r.modelRound(ctx, out)
		if err != nil {
			slog.Error("Model round failed", "round", round, "error", err)
			r.emitErr(ctx, out, err)
			return
		}
		if len(pending) == 0 {
			return
		}

		r.executeTools(ctx, pending)
	}
}

// modelRound requests one model stream and runs it to completion,
// forwarding text and collecting pending tool calls per the active
// protocol. Memory is only mutated once the stream has fully ended.
func (r *Resolver) modelRound(ctx context.Context, out chan<- pipeline.Token) ([]mcp.PendingToolCall, error) {
	messages := r.memory.Messages()

	var tools []llm.ToolSchema
	if !r.promptMode {
		if schemas := r.registry.Schemas(); len(schemas) > 0 {
			tools = schemas
		}
	}

	stream, err := r.client.ChatCompletion(ctx, messages, r.memory.System(), tools)
	if err != nil {
		return nil, err
	}

	var transcript strings.Builder
	var pending []mcp.PendingToolCall

	if r.promptMode {
		if err := r.consumePromptStream(ctx, stream, out, &transcript, &pending); err != nil {
			return nil, err
		}
	} else {
	structured:
		for event := range stream {
			switch {
			case event.Err != nil:
				return nil, event.Err

			case event.ToolsUnsupported:
				// One-way protocol fallback: structured tool
				// advertisement is abandoned for good.
				slog.Info("Model lacks native tool support, switching to prompt-mode tool calling")
				r.registry.Disable()
				r.memory.AppendSystemSuffix(r.mcpPrompt)
				r.promptMode = true

				restream, rerr := r.client.ChatCompletion(ctx, messages, r.memory.System(), nil)
				if rerr != nil {
					return nil, rerr
				}
				if err := r.consumePromptStream(ctx, restream, out, &transcript, &pending); err != nil {
					return nil, err
				}
				for range stream {
					// drain whatever follows the sentinel
				}
				break structured

			case len(event.ToolCalls) > 0:
				pending = append(pending, r.resolveDeltas(ctx, out, &transcript, event.ToolCalls)...)

			case event.Text != "":
				if !r.forward(ctx, out, event.Text) {
					return nil, ctx.Err()
				}
				transcript.WriteString(event.Text)
			}
		}
	}

	if len(pending) > 0 {
		r.recordToolCallRound(transcript.String(), pending)
		return pending, nil
	}

	if transcript.Len() > 0 {
		r.memory.Append(llm.RoleAssistant, transcript.String(), nil)
	}
	return nil, nil
}

// resolveDeltas maps structured tool-call deltas onto registry entries.
// An unknown name or undecodable arguments drops the call and yields one
// inline diagnostic token; the round continues.
func (r *Resolver) resolveDeltas(ctx context.Context, out chan<- pipeline.Token, transcript *strings.Builder, deltas []llm.ToolCallDelta) []mcp.PendingToolCall {
	var calls []mcp.PendingToolCall
	for _, delta := range deltas {
		descriptor, ok := r.registry.Lookup(delta.Name)
		if !ok {
			slog.Error("Unknown tool requested", "tool", delta.Name)
			r.diagnose(ctx, out, transcript, fmt.Sprintf("Tool '%s' not found, skipping this call.", delta.Name))
			continue
		}

		var args map[string]any
		if err := json.UnmarshalFromString(delta.Arguments, &args); err != nil {
			slog.Error("Failed to decode tool call arguments", "tool", delta.Name, "error", err)
			r.diagnose(ctx, out, transcript, fmt.Sprintf("Error calling tool '%s': failed to decode arguments.", delta.Name))
			continue
		}

		// Some providers omit call IDs in streams; the tool-result
		// message still needs one to pair with.
		id := delta.ID
		if id == "" {
			id = utils.GenerateID()
		}

		calls = append(calls, mcp.PendingToolCall{
			Name:   delta.Name,
			Server: descriptor.RelatedServer,
			Args:   args,
			ID:     id,
		})
	}
	return calls
}

// consumePromptStream feeds every fragment through the JSON detector:
// plain text is forwarded, detected values become pending tool calls.
// An unterminated value at stream end is surfaced as plain text so
// nothing the model said is silently lost.
func (r *Resolver) consumePromptStream(ctx context.Context, stream <-chan llm.StreamEvent, out chan<- pipeline.Token, transcript *strings.Builder, pending *[]mcp.PendingToolCall) error {
	detector := mcp.NewStreamJSONDetector()

	for event := range stream {
		if event.Err != nil {
			return event.Err
		}
		if event.Text == "" {
			continue
		}

		value, passthrough := detector.ProcessChunk(event.Text)
		if passthrough != "" {
			if !r.forward(ctx, out, passthrough) {
				return ctx.Err()
			}
			transcript.WriteString(passthrough)
		}
		if value != nil {
			calls := parseToolList(value)
			if len(calls) > 0 {
				slog.Info("Tool call detected through prompt", "count", len(calls))
				*pending = append(*pending, calls...)
			}
		}
	}

	if leftover := detector.Flush(); leftover != "" {
		slog.Warn("Prompt stream ended inside an unterminated JSON value", "accumulated", len(leftover))
		if !r.forward(ctx, out, leftover) {
			return ctx.Err()
		}
		transcript.WriteString(leftover)
	}
	return nil
}

// recordToolCallRound appends the assistant message for a round that
// produced tool calls. In structured mode it carries the native tool-call
// encoding so the tool-result messages that follow satisfy the model
// API's ordering requirement.
func (r *Resolver) recordToolCallRound(transcript string, pending []mcp.PendingToolCall) {
	response := transcript
	if response == "" {
		response = toolCallPlaceholder
	}

	if r.promptMode {
		r.memory.Append(llm.RoleAssistant, response, nil)
		return
	}

	msg := llm.NewMessage(llm.RoleAssistant, response)
	for _, call := range pending {
		argsJSON, err := json.MarshalToString(call.Args)
		if err != nil {
			argsJSON = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, llm.NewToolCall(call.ID, call.Name, argsJSON))
	}
	r.memory.AppendMessage(msg)
}

// executeTools runs the pending calls sequentially. Every call yields
// exactly one result message; failures become error-content results and
// never abort the batch.
func (r *Resolver) executeTools(ctx context.Context, calls []mcp.PendingToolCall) {
	for _, call := range calls {
		slog.Info("Calling tool", "tool", call.Name, "server", call.Server)

		var result string
		if r.caller == nil {
			result = fmt.Sprintf("Error calling tool '%s': no tool transport configured", call.Name)
		} else if res, err := r.caller.Call(ctx, call); err != nil {
			slog.Error("Tool call failed", "tool", call.Name, "server", call.Server, "error", err)
			result = fmt.Sprintf("Error calling tool '%s': %v", call.Name, err)
		} else {
			result = res
		}

		if r.promptMode {
			// Prompt mode has no native tool-result role.
			r.memory.Append(llm.RoleUser, result, nil)
		} else {
			msg := llm.NewMessage(llm.RoleTool, result)
			msg.ToolCallID = call.ID
			r.memory.AppendMessage(msg)
		}
	}
}

// parseToolList interprets a detected JSON value as the prompt-mode tool
// request schema: an array of {mcp_server, tool, arguments} objects.
// Entries missing any of the three fields are dropped.
func parseToolList(value any) []mcp.PendingToolCall {
	items, ok := value.([]any)
	if !ok {
		if single, isMap := value.(map[string]any); isMap {
			items = []any{single}
		} else {
			return nil
		}
	}

	var calls []mcp.PendingToolCall
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		server, _ := entry["mcp_server"].(string)
		tool, _ := entry["tool"].(string)
		if server == "" || tool == "" || entry["arguments"] == nil {
			continue
		}

		var args map[string]any
		switch raw := entry["arguments"].(type) {
		case string:
			if err := json.UnmarshalFromString(raw, &args); err != nil {
				slog.Warn("Dropping prompt tool call with undecodable arguments", "tool", tool, "error", err)
				continue
			}
		case map[string]any:
			args = raw
		default:
			continue
		}

		calls = append(calls, mcp.PendingToolCall{Name: tool, Server: server, Args: args})
	}
	return calls
}

// diagnose forwards a diagnostic as an inline text token and records it
// on the round transcript.
func (r *Resolver) diagnose(ctx context.Context, out chan<- pipeline.Token, transcript *strings.Builder, text string) {
	if r.forward(ctx, out, text) {
		transcript.WriteString(text)
	}
}

// forward sends one text token, honoring cancellation. It reports false
// when the caller abandoned the stream.
func (r *Resolver) forward(ctx context.Context, out chan<- pipeline.Token, text string) bool {
	select {
	case out <- pipeline.Token{Text: text}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Resolver) emitErr(ctx context.Context, out chan<- pipeline.Token, err error) {
	select {
	case out <- pipeline.Token{Err: err}:
	case <-ctx.Done():
	}
}
