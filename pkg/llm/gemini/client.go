package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"vocalis/pkg/llm"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/genai"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GeminiClient wraps the Google GenAI SDK.
type GeminiClient struct {
	client       *genai.Client
	model        string
	debugEnabled bool
}

// NewGeminiClient creates a Gemini client with a single model and API key
func NewGeminiClient(apiKey string, model string, debug bool) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		model:        model,
		debugEnabled: debug,
	}, nil
}

func (g *GeminiClient) ChatCompletion(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (<-chan llm.StreamEvent, error) {
	apiMessages := g.convertMessages(messages)

	var genaiTools []*genai.Tool
	if len(tools) > 0 {
		var fds []*genai.FunctionDeclaration
		for _, t := range tools {
			fd := &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
			}
			if t.Parameters != nil {
				schemaB, _ := json.Marshal(t.Parameters)
				var schema genai.Schema
				if err := json.Unmarshal(schemaB, &schema); err == nil {
					fd.Parameters = &schema
				}
			}
			fds = append(fds, fd)
		}
		if len(fds) > 0 {
			genaiTools = append(genaiTools, &genai.Tool{
				FunctionDeclarations: fds,
			})
		}
	}

	var systemInstruction *genai.Content
	if system != "" {
		systemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	eventCh := make(chan llm.StreamEvent, 100)
	startResultCh := make(chan error, 1)

	go func() {
		defer close(eventCh)

		iter := g.client.Models.GenerateContentStream(ctx, g.model, apiMessages, &genai.GenerateContentConfig{
			SystemInstruction: systemInstruction,
			Tools:             genaiTools,
		})

		started := false

		debugger := llm.NewStreamDebugger("gemini", g.debugEnabled)
		defer debugger.Close()

		for resp, err := range iter {
			if g.debugEnabled && resp != nil {
				if jsonData, merr := json.Marshal(resp); merr == nil {
					debugger.WriteString(string(jsonData))
				}
			}

			if err != nil {
				// The SDK iterator may hand back data alongside the error.
				if resp == nil {
					if len(tools) > 0 && llm.IsToolsUnsupported(err) {
						slog.Info("Model lacks tool support", "provider", "gemini", "model", g.model)
						if !started {
							started = true
							startResultCh <- nil
						}
						eventCh <- llm.StreamEvent{ToolsUnsupported: true}
						return
					}
					slog.Error("Stream error", "provider", "gemini", "error", err)
					if !started {
						startResultCh <- err
					} else {
						eventCh <- llm.ErrorEvent(fmt.Errorf("stream interrupted: %w", err))
					}
					return
				}
				slog.Error("Stream error with data", "provider", "gemini", "error", err)
			}

			if !started {
				started = true
				startResultCh <- nil
			}

			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}

				var deltas []llm.ToolCallDelta
				for _, part := range candidate.Content.Parts {
					if part.Text != "" && !part.Thought {
						eventCh <- llm.TextEvent(part.Text)
					}

					if part.FunctionCall != nil {
						argsB, _ := json.Marshal(part.FunctionCall.Args)
						deltas = append(deltas, llm.ToolCallDelta{
							ID:        part.FunctionCall.ID,
							Name:      part.FunctionCall.Name,
							Arguments: string(argsB),
						})
						slog.Debug("Tool call", "provider", "gemini", "name", part.FunctionCall.Name, "args", string(argsB))
					}
				}

				if len(deltas) > 0 {
					eventCh <- llm.StreamEvent{ToolCalls: deltas}
				}
			}
		}
	}()

	// Wait for initialization result (first chunk or immediate error)
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

// convertMessages converts the message list to GenAI contents. Gemini
// has no native tool-result role; results are mapped onto FunctionResponse
// parts, and tool-call encodings onto FunctionCall parts.
func (g *GeminiClient) convertMessages(messages []llm.Message) []*genai.Content {
	var contents []*genai.Content

	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleSystem:
			// Gemini has no in-conversation system role; mid-log system
			// messages (e.g. the interruption marker) ride as user turns
			// so they are not lost.
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})

		case llm.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				if err := json.UnmarshalFromString(tc.Function.Arguments, &args); err != nil {
					slog.Warn("Failed to unmarshal tool arguments for history", "provider", "gemini", "error", err)
				}
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   tc.ID,
						Name: tc.Function.Name,
						Args: args,
					},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{
					Role:  genai.RoleModel,
					Parts: parts,
				})
			}

		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Response: map[string]any{"output": m.Content},
					},
				}},
			})
		}
	}

	return contents
}

// IsTransientError implements the llm.ModelClient interface
func (g *GeminiClient) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "internal") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "resource exhausted")
}
