// Package search exposes similarity lookups over the chunk index,
// including the related-content helper with its non-similarity
// fallback.
package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/index"
)

// ChunkSearcher is the slice of the chunk store the searcher needs.
// *index.Store satisfies it.
type ChunkSearcher interface {
	Search(ctx context.Context, vec []float32, lang content.Language, k int, minSimilarity float64) ([]index.Hit, error)
	SimilarEntities(ctx context.Context, vec []float32, typ content.SourceType, lang content.Language, excludeID string, k int) ([]index.EntityDistance, error)
	FirstChunkVector(ctx context.Context, typ content.SourceType, id string, lang content.Language) ([]float32, error)
}

// RecentLister backs the recency fallback. *content.Store satisfies it.
type RecentLister interface {
	MostRecent(ctx context.Context, typ content.SourceType, excludeID string, k int) ([]content.EntityRef, error)
}

// RelatedEntity identifies one entity surfaced as related content.
type RelatedEntity struct {
	SourceType content.SourceType `json:"sourceType"`
	SourceID   string             `json:"sourceId"`
}

// Searcher answers similarity queries.
type Searcher struct {
	chunks ChunkSearcher
	recent RecentLister
	logger *slog.Logger
}

// NewSearcher creates a Searcher.
func NewSearcher(chunks ChunkSearcher, recent RecentLister, logger *slog.Logger) (*Searcher, error) {
	if chunks == nil {
		return nil, fmt.Errorf("chunk searcher is required")
	}
	if recent == nil {
		return nil, fmt.Errorf("recent lister is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{chunks: chunks, recent: recent, logger: logger}, nil
}

// Search returns ranked chunk hits for a query vector. Zero hits is a
// valid outcome, not an error.
func (s *Searcher) Search(ctx context.Context, vec []float32, lang content.Language, k int, minSimilarity float64) ([]index.Hit, error) {
	return s.chunks.Search(ctx, vec, lang, k, minSimilarity)
}

// FindSimilarEntities returns up to k entities of the same type most
// similar to the given entity, using the entity's own first-chunk
// vector as the query and excluding the entity itself.
//
// Similarity augments but never gates related-content display: when
// the vector lookup fails or comes back empty, the most recently
// created entities (excluding self) are returned instead.
func (s *Searcher) FindSimilarEntities(ctx context.Context, typ content.SourceType, id string, lang content.Language, k int) ([]RelatedEntity, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	related, err := s.bySimilarity(ctx, typ, id, lang, k)
	if err != nil {
		s.logger.Warn("similarity lookup failed, falling back to recency",
			"source_type", typ, "source_id", id, "error", err)
	}
	if len(related) > 0 {
		return related, nil
	}

	refs, err := s.recent.MostRecent(ctx, typ, id, k)
	if err != nil {
		return nil, fmt.Errorf("recency fallback for %s %s: %w", typ, id, err)
	}
	out := make([]RelatedEntity, 0, len(refs))
	for _, ref := range refs {
		out = append(out, RelatedEntity{SourceType: ref.Type, SourceID: ref.ID})
	}
	return out, nil
}

func (s *Searcher) bySimilarity(ctx context.Context, typ content.SourceType, id string, lang content.Language, k int) ([]RelatedEntity, error) {
	vec, err := s.chunks.FirstChunkVector(ctx, typ, id, lang)
	if err != nil {
		return nil, err
	}
	distances, err := s.chunks.SimilarEntities(ctx, vec, typ, lang, id, k)
	if err != nil {
		return nil, err
	}
	out := make([]RelatedEntity, 0, len(distances))
	for _, d := range distances {
		out = append(out, RelatedEntity{SourceType: d.SourceType, SourceID: d.SourceID})
	}
	return out, nil
}
