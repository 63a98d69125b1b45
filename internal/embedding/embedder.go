// Package embedding turns text into fixed-dimension vectors: an OpenAI-compatible remote
// embedder, an ONNX local embedder, an LRU cache wrapper, and a deterministic mock.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a provider returns vectors of unexpected length.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, in input order. On error no vectors are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

func checkDimensions(vecs [][]float32, want int) error {
	if want <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("vector %d has %d dimensions, want %d: %w", i, len(v), want, ErrDimensionMismatch)
		}
	}
	return nil
}
