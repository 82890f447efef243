package pipeline

import (
	"context"
	"strings"
)

// Adapt wraps a raw resolver output channel as a pipeline source. Token
// order is preserved and the upstream channel's completion propagates to
// the returned stream; cancellation stops the forwarding goroutine.
func Adapt(ctx context.Context, in <-chan Token, buffer int) <-chan Token {
	if buffer <= 0 {
		buffer = 1
	}
	out := make(chan Token, buffer)
	go func() {
		defer close(out)
		for tok := range in {
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Collect drains a token stream, concatenating the text and returning the
// first error encountered. Useful for non-streaming consumers and tests.
func Collect(in <-chan Token) (string, error) {
	var sb strings.Builder
	var firstErr error
	for tok := range in {
		if tok.Err != nil && firstErr == nil {
			firstErr = tok.Err
			continue
		}
		sb.WriteString(tok.Text)
	}
	return sb.String(), firstErr
}
