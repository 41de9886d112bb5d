// Package embed defines the embedding contract shared by the indexer
// and the chat orchestrator.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Dimension is the fixed embedding vector length. The pgvector column
// is declared with the same dimension; a vector of any other length
// is rejected before it reaches the database.
const Dimension = 768

// ErrProvider indicates the embedding provider call failed, timed out,
// or returned a malformed vector. Callers decide retry policy.
var ErrProvider = errors.New("embedding provider error")

// Embedder turns text into a fixed-dimension vector.
//
// Implementations must either return exactly Dimension values or an
// error wrapping ErrProvider; a short vector is never a partial
// success.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ValidateVector enforces the fixed-dimension contract.
func ValidateVector(vec []float32) error {
	if len(vec) != Dimension {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrProvider, len(vec), Dimension)
	}
	return nil
}
