package pipeline

import (
	"context"
)

// Token is one item of the text stream flowing from the resolver to a
// front-end. A Token with Err set is the last item of a failed stream.
type Token struct {
	Text string
	Err  error
}

// Stage transforms a token stream into another token stream. A stage must
// preserve upstream completion (close its output when its input closes)
// and forward error tokens without reordering.
type Stage func(ctx context.Context, in <-chan Token) <-chan Token

// Pipeline is an explicit ordered list of stages. The zero pipeline is a
// passthrough.
type Pipeline struct {
	stages []Stage
}

// Builder assembles a Pipeline stage by stage, making stage order visible
// and each stage testable in isolation.
type Builder struct {
	stages []Stage
}

// NewBuilder creates an empty pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Append adds stages to the end of the pipeline.
func (b *Builder) Append(stages ...Stage) *Builder {
	b.stages = append(b.stages, stages...)
	return b
}

// Build finalizes the stage list.
func (b *Builder) Build() *Pipeline {
	stages := make([]Stage, len(b.stages))
	copy(stages, b.stages)
	return &Pipeline{stages: stages}
}

// Run connects the stages in order and returns the sink of the chain.
func (p *Pipeline) Run(ctx context.Context, in <-chan Token) <-chan Token {
	out := in
	for _, stage := range p.stages {
		out = stage(ctx, out)
	}
	return out
}
