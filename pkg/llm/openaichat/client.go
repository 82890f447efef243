package openaichat

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"vocalis/pkg/llm"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
)

// Client is a wrapper around the official OpenAI Go SDK. It also serves
// any OpenAI-compatible endpoint via a custom base URL.
type Client struct {
	client       *openai.Client
	provider     string
	model        string
	debugEnabled bool
	options      map[string]any
}

// NewClient creates a new OpenAI client
func NewClient(provider string, apiKey string, model string, baseURL string, options map[string]any, debug bool) (*Client, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}

	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(opts...)

	return &Client{
		client:       &client,
		provider:     provider,
		model:        model,
		options:      options,
		debugEnabled: debug,
	}, nil
}

func (c *Client) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	// Transient: network-level issues
	if strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") {
		return true
	}

	// Transient: server-side temporary failures
	if strings.Contains(msg, "500 internal") ||
		strings.Contains(msg, "502 bad gateway") ||
		strings.Contains(msg, "503 service unavailable") ||
		strings.Contains(msg, "overloaded") {
		return true
	}

	// Everything else (400 Bad Request, 401 Unauthorized, etc.) is non-transient
	return false
}

func (c *Client) ChatCompletion(ctx context.Context, messages []llm.Message, system string, tools []llm.ToolSchema) (<-chan llm.StreamEvent, error) {
	eventCh := make(chan llm.StreamEvent, 100)

	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: c.convertMessages(messages, system),
		},
	}

	opts := []option.RequestOption{}

	if t, ok := c.options["temperature"].(float64); ok {
		opts = append(opts, option.WithJSONSet("temperature", t))
	}
	if p, ok := c.options["top_p"].(float64); ok {
		opts = append(opts, option.WithJSONSet("top_p", p))
	}
	if maxTok, ok := c.options["max_tokens"].(float64); ok {
		opts = append(opts, option.WithJSONSet("max_completion_tokens", int(maxTok)))
	}

	if converted := convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	go func() {
		defer close(eventCh)

		stream := c.client.Responses.NewStreaming(ctx, params, opts...)
		defer stream.Close()

		debugger := llm.NewStreamDebugger(c.provider, c.debugEnabled)
		defer debugger.Close()

		toolCallsMap := make(map[string]*llm.ToolCallDelta)
		var toolCallOrder []string

		for stream.Next() {
			event := stream.Current()

			// Use reflection to get unexported 'raw' string from
			// event.JSON for debug capture.
			var raw string
			rv := reflect.ValueOf(event.JSON)
			if rv.Kind() == reflect.Struct {
				rt := rv.Type()
				for i := 0; i < rt.NumField(); i++ {
					if rt.Field(i).Name == "raw" {
						raw = rv.Field(i).String()
						break
					}
				}
			}
			if raw != "" {
				debugger.WriteString(raw)
			}

			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				eventCh <- llm.TextEvent(variant.Delta)

			case responses.ResponseFunctionCallArgumentsDeltaEvent:
				tc, ok := toolCallsMap[variant.ItemID]
				if !ok {
					tc = &llm.ToolCallDelta{ID: variant.ItemID}
					toolCallsMap[variant.ItemID] = tc
					toolCallOrder = append(toolCallOrder, variant.ItemID)
				}
				tc.Arguments += variant.Delta

			case responses.ResponseOutputItemAddedEvent:
				if variant.Item.Type == "function_call" {
					tc, ok := toolCallsMap[variant.Item.ID]
					if !ok {
						tc = &llm.ToolCallDelta{ID: variant.Item.ID}
						toolCallsMap[variant.Item.ID] = tc
						toolCallOrder = append(toolCallOrder, variant.Item.ID)
					}
					if variant.Item.Name != "" {
						tc.Name = variant.Item.Name
					}
				}

			case responses.ResponseOutputItemDoneEvent:
				// Ensure name is captured even if late
				if variant.Item.Type == "function_call" {
					if tc, ok := toolCallsMap[variant.Item.ID]; ok && variant.Item.Name != "" {
						tc.Name = variant.Item.Name
					}
				}

			case responses.ResponseFailedEvent:
				eventCh <- llm.ErrorEvent(fmt.Errorf("api response failed"))

			case responses.ResponseErrorEvent:
				eventCh <- llm.ErrorEvent(fmt.Errorf("api error: %s", variant.Message))
			}
		}

		if err := stream.Err(); err != nil {
			if len(tools) > 0 && llm.IsToolsUnsupported(err) {
				slog.Info("Provider rejected tool advertisement", "provider", c.provider, "model", c.model)
				eventCh <- llm.StreamEvent{ToolsUnsupported: true}
				return
			}
			eventCh <- llm.ErrorEvent(fmt.Errorf("stream error: %w", err))
			return
		}

		// Emit accumulated tool calls once arguments are complete.
		if len(toolCallOrder) > 0 {
			deltas := make([]llm.ToolCallDelta, 0, len(toolCallOrder))
			for _, id := range toolCallOrder {
				deltas = append(deltas, *toolCallsMap[id])
			}
			eventCh <- llm.StreamEvent{ToolCalls: deltas}
		}
	}()

	return eventCh, nil
}

func (c *Client) convertMessages(messages []llm.Message, system string) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages)+1)

	if system != "" {
		items = append(items, responses.ResponseInputItemParamOfMessage(
			system,
			responses.EasyInputMessageRoleSystem,
		))
	}

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleSystem,
			))
		case llm.RoleUser:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content,
				responses.EasyInputMessageRoleUser,
			))
		case llm.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.Content,
					responses.EasyInputMessageRoleAssistant,
				))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					tc.Function.Arguments,
					tc.ID,
					tc.Function.Name,
				))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID,
				m.Content,
			))
		}
	}

	return items
}

func convertTools(tools []llm.ToolSchema) []responses.ToolUnionParam {
	var converted []responses.ToolUnionParam
	for _, t := range tools {
		converted = append(converted, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return converted
}
