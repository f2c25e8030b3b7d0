// Package embedding defines the text-embedding provider contract and the
// Ollama-backed implementation used in production.
package embedding

import "context"

// Provider converts text into a fixed-dimension embedding vector. All
// vectors produced by one provider share the same dimension.
type Provider interface {
	// Embed returns the embedding for text. Implementations honor ctx
	// cancellation and bound their own request time.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the length of vectors this provider produces.
	Dimension() int
}
