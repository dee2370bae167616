// Package provider defines the external capability interfaces the engine
// consumes: text embedding and response generation. Providers are long
// latency and may be unconfigured; callers bound every call with a timeout
// and treat any error as a provider failure with a documented fallback.
package provider

import (
	"context"
	"errors"
)

// ErrUnconfigured signals that a capability has no backing provider (for
// example, missing credentials). It is a first-class, non-fatal condition.
var ErrUnconfigured = errors.New("provider not configured")

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator produces a response for a query given assembled context.
type Generator interface {
	Generate(ctx context.Context, query, contextText string) (string, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, query, contextText string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, query, contextText string) (string, error) {
	return f(ctx, query, contextText)
}
