package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"vocalis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"github.com/ollama/ollama/api"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OllamaClient wraps the Ollama API client.
type OllamaClient struct {
	client       *api.Client
	model        string
	options      map[string]any
	debugEnabled bool
}

// NewOllamaClient creates an Ollama client
func NewOllamaClient(model string, baseURL string, options map[string]any, debug bool) (*OllamaClient, error) {
	var client *api.Client
	var err error

	// Streaming generations can stay open for minutes; the client must
	// not impose its own timeout.
	customClient := &http.Client{Timeout: 0}

	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base URL: %w", err)
		}
		client = api.NewClient(u, customClient)
	} else {
		client, err = api.ClientFromEnvironment()
	}

	if err != nil {
		return nil, err
	}

	slog.Info("Ollama client initialized", "model", model, "base_url", baseURL)

	return &OllamaClient{
		client:       client,
		model:        model,
		options:      options,
		debugEnabled: debug,
	}, nil
}

func (o *OllamaClient) ChatCompletion(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (<-chan llm.StreamEvent, error) {
	apiMessages := o.convertMessages(messages, system)

	eventCh := make(chan llm.StreamEvent, 100)
	startResultCh := make(chan error) // Unbuffered to detect if reader is present

	go func() {
		defer close(eventCh)

		// Convert tools via JSON roundtrip to work around SDK type
		// mismatch issues.
		var ollamaTools []api.Tool
		if len(tools) > 0 {
			wrapped := make([]map[string]any, 0, len(tools))
			for _, t := range tools {
				wrapped = append(wrapped, map[string]any{
					"type": "function",
					"function": map[string]any{
						"name":        t.Name,
						"description": t.Description,
						"parameters":  t.Parameters,
					},
				})
			}
			rawB, err := json.Marshal(wrapped)
			if err != nil {
				slog.Error("Failed to marshal tools", "provider", "ollama", "error", err)
			} else if err := json.Unmarshal(rawB, &ollamaTools); err != nil {
				slog.Error("Failed to unmarshal to api.Tool", "provider", "ollama", "error", err)
			}
		}

		streamVal := true
		req := &api.ChatRequest{
			Model:    o.model,
			Messages: apiMessages,
			Options:  o.options,
			Tools:    ollamaTools,
			Stream:   &streamVal,
		}

		started := false

		debugger := llm.NewStreamDebugger("ollama", o.debugEnabled)
		defer debugger.Close()

		err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if o.debugEnabled {
				if jsonData, err := json.Marshal(resp); err == nil {
					debugger.WriteString(string(jsonData))
				}
			}

			// First callback indicates success
			if !started {
				started = true
				select {
				case startResultCh <- nil:
				default:
				}
			}

			if resp.Message.Content != "" {
				eventCh <- llm.TextEvent(resp.Message.Content)
			}

			if len(resp.Message.ToolCalls) > 0 {
				var deltas []llm.ToolCallDelta
				for _, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						slog.Warn("Failed to marshal tool call arguments", "provider", "ollama", "error", err)
						argsB = []byte("{}")
					}
					deltas = append(deltas, llm.ToolCallDelta{
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: string(argsB),
					})
					slog.Debug("Tool call", "provider", "ollama", "name", tc.Function.Name, "args", string(argsB), "id", tc.ID)
				}
				eventCh <- llm.StreamEvent{ToolCalls: deltas}
			}

			return nil
		})

		if err != nil {
			// Models without tool support reject the request outright.
			if len(tools) > 0 && llm.IsToolsUnsupported(err) {
				slog.Info("Model lacks tool support", "provider", "ollama", "model", o.model)
				select {
				case startResultCh <- nil:
				default:
				}
				eventCh <- llm.StreamEvent{ToolsUnsupported: true}
				return
			}

			slog.Error("Stream error", "provider", "ollama", "model", o.model, "error", err)
			if !started {
				select {
				case startResultCh <- err:
				default:
					// Waiter timed out, surface the error in-stream instead
					eventCh <- llm.ErrorEvent(fmt.Errorf("error loading model %s: %w", o.model, err))
				}
			} else {
				eventCh <- llm.ErrorEvent(fmt.Errorf("stream interrupted: %w", err))
			}
		} else if !started {
			select {
			case startResultCh <- nil:
			default:
			}
		}
	}()

	// Wait for initialization result
	select {
	case err := <-startResultCh:
		if err != nil {
			return nil, err
		}
		return eventCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// convertMessages converts messages to Ollama API format
func (o *OllamaClient) convertMessages(messages []llm.Message, system string) []api.Message {
	var ollamaMsgs []api.Message

	if system != "" {
		ollamaMsgs = append(ollamaMsgs, api.Message{Role: "system", Content: system})
	}

	for _, m := range messages {
		msg := api.Message{
			Role:    m.Role,
			Content: m.Content,
		}

		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			var ollamaToolCalls []api.ToolCall
			for _, tc := range m.ToolCalls {
				// api.ToolCallFunctionArguments unmarshals from a JSON object
				var apiArgs api.ToolCallFunctionArguments
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &apiArgs); err != nil {
					slog.Warn("Failed to unmarshal tool arguments for history", "provider", "ollama", "error", err)
				}

				ollamaToolCalls = append(ollamaToolCalls, api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Function.Name,
						Arguments: apiArgs,
					},
				})
			}
			msg.ToolCalls = ollamaToolCalls
		}

		if m.Role == llm.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}

		ollamaMsgs = append(ollamaMsgs, msg)
	}

	return ollamaMsgs
}

// IsTransientError implements the llm.ModelClient interface
func (o *OllamaClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()

	if strings.Contains(errMsg, "connection refused") || strings.Contains(errMsg, "connection reset") {
		return true
	}

	if strings.Contains(strings.ToLower(errMsg), "overloaded") {
		return true
	}

	return false
}
