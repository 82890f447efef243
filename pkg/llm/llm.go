package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ToolCallDelta is one tool invocation decoded from a provider stream.
// Arguments is the raw JSON string exactly as the provider emitted it.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

// StreamEvent is one item of a model output stream. Exactly one of the
// fields is meaningful per event:
//   - Text: a plain text token
//   - ToolCalls: a list of structured tool-call deltas
//   - ToolsUnsupported: the provider signalled that this model/API has no
//     native tool-call support (one-way protocol fallback trigger)
//   - Err: a stream-level failure; terminates the stream
type StreamEvent struct {
	Text             string
	ToolCalls        []ToolCallDelta
	ToolsUnsupported bool
	Err              error
}

// TextEvent wraps a plain text token.
func TextEvent(text string) StreamEvent { return StreamEvent{Text: text} }

// ErrorEvent wraps a stream-level failure.
func ErrorEvent(err error) StreamEvent { return StreamEvent{Err: err} }

// ToolSchema is the provider-facing advertisement of one callable tool.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ModelClient is the contract for a chat-completion provider. The returned
// channel is closed when the stream ends; a StreamEvent with Err set is the
// last event of a failed stream.
type ModelClient interface {
	ChatCompletion(ctx context.Context, messages []Message, system string, tools []ToolSchema) (<-chan StreamEvent, error)

	// IsTransientError reports whether err is worth retrying
	// (rate limits, 5xx, connection resets).
	IsTransientError(err error) bool
}

// IsToolsUnsupported recognizes provider errors that mean the selected
// model or API cannot accept native tool declarations. Providers translate
// such failures into the ToolsUnsupported sentinel instead of a stream error.
func IsToolsUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not support tools") ||
		strings.Contains(msg, "tools are not supported") ||
		strings.Contains(msg, "tool use is not supported") ||
		strings.Contains(msg, "no tool support")
}

// FallbackClient tries a list of providers in order, retrying transient
// failures before moving to the next one.
type FallbackClient struct {
	Clients    []ModelClient
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) ChatCompletion(ctx context.Context, messages []Message, system string, tools []ToolSchema) (<-chan StreamEvent, error) {
	var lastErr error
	for i, client := range f.Clients {
		if i > 0 {
			slog.Warn("Provider failed, trying fallback", "provider", i+1)
		}

		maxRetries := f.MaxRetries
		if maxRetries <= 0 {
			maxRetries = 1
		}

		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}

			ch, err := client.ChatCompletion(ctx, messages, system, tools)
			if err == nil {
				return ch, nil
			}
			lastErr = err

			if client.IsTransientError(err) && retry < maxRetries {
				slog.Warn("Transient provider error, retrying", "provider", i+1, "attempt", retry, "error", err)
				continue
			}
			slog.Error("Provider failed", "provider", i+1, "error", err)
			break
		}
	}
	return nil, fmt.Errorf("all fallback providers failed, last error: %w", lastErr)
}

// IsTransientError implements ModelClient. A FallbackClient error means
// every child already exhausted its retries.
func (f *FallbackClient) IsTransientError(err error) bool {
	return false
}
