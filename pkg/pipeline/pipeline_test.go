package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func source(tokens ...Token) <-chan Token {
	ch := make(chan Token, len(tokens))
	for _, tok := range tokens {
		ch <- tok
	}
	close(ch)
	return ch
}

func upperStage(ctx context.Context, in <-chan Token) <-chan Token {
	out := make(chan Token, 1)
	go func() {
		defer close(out)
		for tok := range in {
			if tok.Err == nil {
				tok.Text = strings.ToUpper(tok.Text)
			}
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func TestZeroPipelineIsPassthrough(t *testing.T) {
	p := NewBuilder().Build()
	out := p.Run(context.Background(), source(Token{Text: "a"}, Token{Text: "b"}))

	text, err := Collect(out)
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
}

func TestStagesRunInOrder(t *testing.T) {
	var order []string
	tag := func(name string) Stage {
		return func(ctx context.Context, in <-chan Token) <-chan Token {
			out := make(chan Token, 1)
			go func() {
				defer close(out)
				for tok := range in {
					order = append(order, name)
					out <- tok
				}
			}()
			return out
		}
	}

	p := NewBuilder().Append(tag("first")).Append(tag("second")).Build()
	_, err := Collect(p.Run(context.Background(), source(Token{Text: "x"})))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestStageTransformsTokens(t *testing.T) {
	p := NewBuilder().Append(upperStage).Build()
	out := p.Run(context.Background(), source(Token{Text: "hello "}, Token{Text: "world"}))

	text, err := Collect(out)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", text)
}

func TestErrorTokensPassThroughStages(t *testing.T) {
	boom := errors.New("boom")
	p := NewBuilder().Append(upperStage).Build()
	out := p.Run(context.Background(), source(Token{Text: "partial"}, Token{Err: boom}))

	text, err := Collect(out)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "PARTIAL", text)
}

func TestAdaptPreservesOrderAndCompletion(t *testing.T) {
	out := Adapt(context.Background(), source(Token{Text: "1"}, Token{Text: "2"}, Token{Text: "3"}), 2)

	text, err := Collect(out)
	require.NoError(t, err)
	assert.Equal(t, "123", text)
}

func TestAdaptStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	in := make(chan Token)
	out := Adapt(ctx, in, 1)

	in <- Token{Text: "a"}
	cancel()
	// With the output buffer full and the context cancelled, delivering
	// one more token makes the forwarding goroutine exit; goleak verifies
	// nothing is left running.
	in <- Token{Text: "b"}
	close(in)

	for range out {
	}
}

func TestCollectReturnsFirstError(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")

	text, err := Collect(source(Token{Text: "a"}, Token{Err: first}, Token{Err: second}, Token{Text: "b"}))
	require.ErrorIs(t, err, first)
	assert.Equal(t, "ab", text)
}
