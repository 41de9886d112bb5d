package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/embed"
)

// searchTimeout bounds a vector search so a cold index cannot block a
// chat request indefinitely.
const searchTimeout = 10 * time.Second

// Store persists chunks in PostgreSQL + pgvector. The unique index on
// (source_type, source_id, language, chunk_index) plus replace-as-one-
// transaction is the concurrency-safety mechanism: concurrent syncs of
// the same entity race benignly (last writer wins), different entities
// never conflict.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a chunk Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Replace atomically swaps the stored chunk set for one entity+language
// with the given set. Shrinking sets drop trailing indices; an empty
// set clears the key entirely.
//
// The set is validated first: contiguous 0-based indices and
// fixed-dimension vectors. A malformed set fails with ErrInconsistent
// and writes nothing.
func (s *Store) Replace(ctx context.Context, typ content.SourceType, id string, lang content.Language, chunks []Chunk) error {
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInconsistent, i, c.Index)
		}
		if len(c.Vector) != embed.Dimension {
			return fmt.Errorf("%w: chunk %d vector has %d dimensions, want %d",
				ErrInconsistent, i, len(c.Vector), embed.Dimension)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning chunk transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("chunk transaction rollback", "error", rbErr)
		}
	}()

	if _, err := tx.Exec(ctx,
		`DELETE FROM content_chunks WHERE source_type = $1 AND source_id = $2 AND language = $3`,
		string(typ), id, string(lang)); err != nil {
		return fmt.Errorf("deleting stale chunks: %w", err)
	}

	for _, c := range chunks {
		vec := pgvector.NewVector(c.Vector)
		if _, err := tx.Exec(ctx,
			`INSERT INTO content_chunks (source_type, source_id, language, chunk_index, content, embedding, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, now())`,
			string(typ), id, string(lang), c.Index, c.Text, vec); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", c.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing chunk replacement: %w", err)
	}

	s.logger.Debug("replaced chunks",
		"source_type", typ, "source_id", id, "language", lang, "count", len(chunks))
	return nil
}

// Delete removes stored chunks for an entity. With no languages given
// it clears every locale.
func (s *Store) Delete(ctx context.Context, typ content.SourceType, id string, langs ...content.Language) error {
	var err error
	if len(langs) == 0 {
		_, err = s.pool.Exec(ctx,
			`DELETE FROM content_chunks WHERE source_type = $1 AND source_id = $2`,
			string(typ), id)
	} else {
		codes := make([]string, len(langs))
		for i, l := range langs {
			codes[i] = string(l)
		}
		_, err = s.pool.Exec(ctx,
			`DELETE FROM content_chunks WHERE source_type = $1 AND source_id = $2 AND language = ANY($3)`,
			string(typ), id, codes)
	}
	if err != nil {
		return fmt.Errorf("deleting chunks for %s %s: %w", typ, id, err)
	}
	return nil
}

// DeleteAll clears the entire index.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM content_chunks`); err != nil {
		return fmt.Errorf("clearing chunk index: %w", err)
	}
	s.logger.Info("cleared chunk index")
	return nil
}

// Search returns up to k chunks ranked by ascending cosine distance,
// restricted to one language and to hits meeting minSimilarity.
// Equal distances order by chunk_index for determinism. Fewer than k
// results, or none, is a valid outcome.
func (s *Store) Search(ctx context.Context, vec []float32, lang content.Language, k int, minSimilarity float64) ([]Hit, error) {
	if err := embed.ValidateVector(vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	qv := pgvector.NewVector(vec)
	rows, err := s.pool.Query(queryCtx,
		`SELECT source_type, source_id, language, chunk_index, content,
		        1 - (embedding <=> $1) AS similarity
		 FROM content_chunks
		 WHERE language = $2 AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1, chunk_index
		 LIMIT $4`,
		qv, string(lang), minSimilarity, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var typ, language string
		if err := rows.Scan(&typ, &h.SourceID, &language, &h.Index, &h.Text, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		h.SourceType = content.SourceType(typ)
		h.Language = content.Language(language)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SimilarEntities groups chunk distances by entity (keeping each
// entity's minimum) for related-content lookups. The entity's own id
// is excluded.
func (s *Store) SimilarEntities(ctx context.Context, vec []float32, typ content.SourceType, lang content.Language, excludeID string, k int) ([]EntityDistance, error) {
	if err := embed.ValidateVector(vec); err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	qv := pgvector.NewVector(vec)
	rows, err := s.pool.Query(queryCtx,
		`SELECT source_type, source_id, MIN(embedding <=> $1) AS distance
		 FROM content_chunks
		 WHERE source_type = $2 AND language = $3 AND source_id <> $4
		 GROUP BY source_type, source_id
		 ORDER BY distance
		 LIMIT $5`,
		qv, string(typ), string(lang), excludeID, k)
	if err != nil {
		return nil, fmt.Errorf("similar entities search: %w", err)
	}
	defer rows.Close()

	var out []EntityDistance
	for rows.Next() {
		var d EntityDistance
		var st string
		if err := rows.Scan(&st, &d.SourceID, &d.Distance); err != nil {
			return nil, fmt.Errorf("scanning entity distance: %w", err)
		}
		d.SourceType = content.SourceType(st)
		out = append(out, d)
	}
	return out, rows.Err()
}

// FirstChunkVector returns the stored vector of chunk 0 for one
// entity+language, used as the query vector for related-content
// lookups.
func (s *Store) FirstChunkVector(ctx context.Context, typ content.SourceType, id string, lang content.Language) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT embedding FROM content_chunks
		 WHERE source_type = $1 AND source_id = $2 AND language = $3 AND chunk_index = 0`,
		string(typ), id, string(lang)).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no indexed chunks for %s %s (%s)", typ, id, lang)
	}
	if err != nil {
		return nil, fmt.Errorf("loading first chunk vector: %w", err)
	}
	return vec.Slice(), nil
}

// Chunks returns every stored chunk of one entity across all
// languages, for admin inspection. Vectors are omitted; the dashboard
// shows text and freshness, not 768 floats.
func (s *Store) Chunks(ctx context.Context, typ content.SourceType, id string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_type, source_id, language, chunk_index, content, updated_at
		 FROM content_chunks
		 WHERE source_type = $1 AND source_id = $2
		 ORDER BY language, chunk_index`,
		string(typ), id)
	if err != nil {
		return nil, fmt.Errorf("loading chunks for %s %s: %w", typ, id, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var st, lang string
		if err := rows.Scan(&st, &c.SourceID, &lang, &c.Index, &c.Text, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		c.SourceType = content.SourceType(st)
		c.Language = content.Language(lang)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Summaries aggregates chunk counts and freshness per entity+language
// for status derivation.
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_type, source_id, language, COUNT(*), MIN(updated_at)
		 FROM content_chunks
		 GROUP BY source_type, source_id, language`)
	if err != nil {
		return nil, fmt.Errorf("summarizing chunks: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		var st, lang string
		if err := rows.Scan(&st, &sum.SourceID, &lang, &sum.ChunkCount, &sum.OldestUpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.SourceType = content.SourceType(st)
		sum.Language = content.Language(lang)
		out = append(out, sum)
	}
	return out, rows.Err()
}
