package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foliolabs/folio/internal/chunker"
	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/embed"
)

// syncConcurrency bounds the SyncAll fan-out. Entities are independent
// units of work; each entity's embed+replace stays sequential so the
// all-or-nothing commit per entity+language holds.
const syncConcurrency = 4

// ContentSource provides the entity text and references the indexer
// works from. *content.Store satisfies it.
type ContentSource interface {
	ListEntityRefs(ctx context.Context, types ...content.SourceType) ([]content.EntityRef, error)
	TranslatedText(ctx context.Context, typ content.SourceType, id string, lang content.Language) (string, time.Time, error)
}

// ChunkStore persists and summarizes chunk sets. *Store satisfies it.
type ChunkStore interface {
	Replace(ctx context.Context, typ content.SourceType, id string, lang content.Language, chunks []Chunk) error
	Delete(ctx context.Context, typ content.SourceType, id string, langs ...content.Language) error
	DeleteAll(ctx context.Context) error
	Chunks(ctx context.Context, typ content.SourceType, id string) ([]Chunk, error)
	Summaries(ctx context.Context) ([]Summary, error)
}

// Indexer reconciles entity content with the chunk index.
type Indexer struct {
	source      ContentSource
	chunks      ChunkStore
	embedder    embed.Embedder
	maxChunkLen int
	logger      *slog.Logger
}

// NewIndexer creates an Indexer. maxChunkLen <= 0 selects the chunker
// default.
func NewIndexer(source ContentSource, chunks ChunkStore, embedder embed.Embedder, maxChunkLen int, logger *slog.Logger) (*Indexer, error) {
	if source == nil {
		return nil, fmt.Errorf("content source is required")
	}
	if chunks == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if maxChunkLen <= 0 {
		maxChunkLen = chunker.DefaultMaxLen
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		source:      source,
		chunks:      chunks,
		embedder:    embedder,
		maxChunkLen: maxChunkLen,
		logger:      logger,
	}, nil
}

// SyncOne re-chunks and re-embeds every supported language of one
// entity. Each language commits all-or-nothing: an embedding failure
// leaves that language's stored chunks untouched.
//
// Re-indexing is triggered explicitly (admin action or CLI), not on
// content save.
func (ix *Indexer) SyncOne(ctx context.Context, typ content.SourceType, id string) error {
	if !typ.Valid() {
		return fmt.Errorf("unknown source type %q", typ)
	}

	for _, lang := range content.Languages {
		if err := ix.syncLanguage(ctx, typ, id, lang); err != nil {
			return fmt.Errorf("syncing %s %s (%s): %w", typ, id, lang, err)
		}
	}
	return nil
}

// syncLanguage reconciles one entity+language. A missing translation
// clears any stale chunks for that locale.
func (ix *Indexer) syncLanguage(ctx context.Context, typ content.SourceType, id string, lang content.Language) error {
	text, _, err := ix.source.TranslatedText(ctx, typ, id, lang)
	if errors.Is(err, content.ErrNotFound) {
		return ix.chunks.Delete(ctx, typ, id, lang)
	}
	if err != nil {
		return err
	}

	pieces := chunker.Split(text, ix.maxChunkLen)

	// Embed the full set before any write; a partial chunk set must
	// never reach the store.
	chunks := make([]Chunk, 0, len(pieces))
	for i, piece := range pieces {
		vec, err := ix.embedder.Embed(ctx, piece)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		chunks = append(chunks, Chunk{
			SourceType: typ,
			SourceID:   id,
			Language:   lang,
			Index:      i,
			Text:       piece,
			Vector:     vec,
		})
	}

	return ix.chunks.Replace(ctx, typ, id, lang, chunks)
}

// SyncAll sweeps every entity of every type. Entities fan out with
// bounded concurrency; per-entity failures are collected into the
// report instead of aborting the sweep.
func (ix *Indexer) SyncAll(ctx context.Context) (*Report, error) {
	start := time.Now()

	refs, err := ix.source.ListEntityRefs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}

	report := &Report{Total: len(refs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncConcurrency)
	for _, ref := range refs {
		g.Go(func() error {
			err := ix.SyncOne(gctx, ref.Type, ref.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Failures = append(report.Failures, EntityError{
					SourceType: ref.Type,
					SourceID:   ref.ID,
					Err:        err.Error(),
				})
				ix.logger.Warn("entity sync failed",
					"source_type", ref.Type, "source_id", ref.ID, "error", err)
				return nil // isolate the failure, keep sweeping
			}
			report.Synced++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Failures, func(i, j int) bool {
		if report.Failures[i].SourceType != report.Failures[j].SourceType {
			return report.Failures[i].SourceType < report.Failures[j].SourceType
		}
		return report.Failures[i].SourceID < report.Failures[j].SourceID
	})

	report.Duration = time.Since(start)
	ix.logger.Info("bulk sync finished",
		"total", report.Total, "synced", report.Synced,
		"failed", report.Failed, "duration", report.Duration)
	return report, nil
}

// ClearOne deletes an entity's chunks across all languages without
// resyncing.
func (ix *Indexer) ClearOne(ctx context.Context, typ content.SourceType, id string) error {
	if !typ.Valid() {
		return fmt.Errorf("unknown source type %q", typ)
	}
	return ix.chunks.Delete(ctx, typ, id)
}

// ClearAll deletes every chunk without resyncing.
func (ix *Indexer) ClearAll(ctx context.Context) error {
	return ix.chunks.DeleteAll(ctx)
}

// ChunkDetails returns an entity's stored chunks for admin inspection.
func (ix *Indexer) ChunkDetails(ctx context.Context, typ content.SourceType, id string) ([]Chunk, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown source type %q", typ)
	}
	return ix.chunks.Chunks(ctx, typ, id)
}

// StatusReport derives synced/outdated/missing for every
// entity+language, to drive the admin dashboard and per-item resync.
func (ix *Indexer) StatusReport(ctx context.Context, types ...content.SourceType) ([]EntityStatus, error) {
	refs, err := ix.source.ListEntityRefs(ctx, types...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	summaries, err := ix.chunks.Summaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("summarizing index: %w", err)
	}

	type key struct {
		typ  content.SourceType
		id   string
		lang content.Language
	}
	byKey := make(map[key]Summary, len(summaries))
	for _, sum := range summaries {
		byKey[key{sum.SourceType, sum.SourceID, sum.Language}] = sum
	}

	statuses := make([]EntityStatus, 0, len(refs)*len(content.Languages))
	for _, ref := range refs {
		for _, lang := range content.Languages {
			st := EntityStatus{
				SourceType: ref.Type,
				SourceID:   ref.ID,
				Language:   lang,
				State:      StateMissing,
			}
			if sum, ok := byKey[key{ref.Type, ref.ID, lang}]; ok {
				indexedAt := sum.OldestUpdatedAt
				st.ChunkCount = sum.ChunkCount
				st.IndexedAt = &indexedAt
				if ref.UpdatedAt.After(sum.OldestUpdatedAt) {
					st.State = StateOutdated
				} else {
					st.State = StateSynced
				}
			}
			statuses = append(statuses, st)
		}
	}
	return statuses, nil
}
