package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient fails a configured number of times before succeeding.
type fakeClient struct {
	failures  int
	err       error
	transient bool
	calls     int
}

func (f *fakeClient) ChatCompletion(ctx context.Context, messages []Message, system string, tools []ToolSchema) (<-chan StreamEvent, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	ch := make(chan StreamEvent, 1)
	ch <- TextEvent("ok")
	close(ch)
	return ch, nil
}

func (f *fakeClient) IsTransientError(err error) bool { return f.transient }

func TestFallbackFirstProviderSucceeds(t *testing.T) {
	primary := &fakeClient{}
	secondary := &fakeClient{}
	f := &FallbackClient{Clients: []ModelClient{primary, secondary}}

	ch, err := f.ChatCompletion(context.Background(), nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", (<-ch).Text)
	assert.Equal(t, 1, primary.calls)
	assert.Zero(t, secondary.calls)
}

func TestFallbackRetriesTransientErrors(t *testing.T) {
	primary := &fakeClient{failures: 2, err: errors.New("connection reset"), transient: true}
	f := &FallbackClient{Clients: []ModelClient{primary}, MaxRetries: 3}

	_, err := f.ChatCompletion(context.Background(), nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, primary.calls)
}

func TestFallbackSkipsRetryOnPermanentError(t *testing.T) {
	primary := &fakeClient{failures: 5, err: errors.New("invalid api key")}
	secondary := &fakeClient{}
	f := &FallbackClient{Clients: []ModelClient{primary, secondary}, MaxRetries: 3}

	ch, err := f.ChatCompletion(context.Background(), nil, "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", (<-ch).Text)
	// A non-transient failure moves on after a single attempt.
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackAllProvidersFail(t *testing.T) {
	cause := errors.New("model gone")
	f := &FallbackClient{Clients: []ModelClient{
		&fakeClient{failures: 9, err: errors.New("first down")},
		&fakeClient{failures: 9, err: cause},
	}}

	_, err := f.ChatCompletion(context.Background(), nil, "", nil)
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "all fallback providers failed")
}

func TestFallbackIsNeverTransient(t *testing.T) {
	f := &FallbackClient{}
	assert.False(t, f.IsTransientError(errors.New("anything")))
}

func TestIsToolsUnsupported(t *testing.T) {
	assert.False(t, IsToolsUnsupported(nil))
	assert.False(t, IsToolsUnsupported(errors.New("rate limited")))

	for _, msg := range []string{
		"registry.ollama.ai/library/llama2 does not support tools",
		"Tools are not supported for this model",
		"tool use is not supported in this API version",
		"model has no tool support",
	} {
		assert.True(t, IsToolsUnsupported(errors.New(msg)), msg)
	}
}

func TestFlattenParts(t *testing.T) {
	text := FlattenParts([]ContentPart{
		{Type: "text", Text: "see "},
		{Type: "image_url", Text: "ignored"},
		{Type: "text", Text: "this"},
	})
	assert.Equal(t, "see this", text)
}

func TestNewToolCall(t *testing.T) {
	tc := NewToolCall("id-1", "get_weather", `{"city":"SF"}`)
	assert.Equal(t, "id-1", tc.ID)
	assert.Equal(t, "function", tc.Type)
	assert.Equal(t, "get_weather", tc.Function.Name)
	assert.Equal(t, `{"city":"SF"}`, tc.Function.Arguments)
}
