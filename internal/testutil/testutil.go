// Package testutil provides deterministic fakes shared across package
// tests.
package testutil

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/foliolabs/folio/internal/embed"
)

// Embedder is a deterministic in-memory embed.Embedder. The vector is
// derived from the text, so equal texts embed identically and distinct
// texts almost never collide.
type Embedder struct {
	mu    sync.Mutex
	calls int

	// Err, when set, is returned by Embed.
	Err error

	// FailOn, when non-empty, restricts Err to the call embedding that
	// exact text; other calls succeed.
	FailOn string
}

// Embed returns a deterministic vector for text.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Err != nil && (e.FailOn == "" || e.FailOn == text) {
		return nil, e.Err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, embed.Dimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)%1000) / 1000
	}
	return vec, nil
}

// Calls reports how many times Embed ran.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
