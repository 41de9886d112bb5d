// Package index maintains the vector chunk index: chunking + embedding
// orchestration, atomic per-entity replacement, similarity queries,
// and per-entity sync status.
package index

import (
	"errors"
	"time"

	"github.com/foliolabs/folio/internal/content"
)

// ErrInconsistent indicates an upsert would leave a partial or
// malformed chunk set. Replace refuses the whole set rather than
// committing part of it; queries must never observe a half-indexed
// entity.
var ErrInconsistent = errors.New("inconsistent chunk set")

// Chunk is the atomic indexed unit: one bounded slice of an entity's
// translated text plus its embedding vector.
type Chunk struct {
	SourceType content.SourceType
	SourceID   string
	Language   content.Language
	Index      int
	Text       string
	Vector     []float32
	UpdatedAt  time.Time
}

// Hit is one similarity-search result.
type Hit struct {
	SourceType content.SourceType
	SourceID   string
	Language   content.Language
	Index      int
	Text       string
	Similarity float64
}

// EntityDistance is an entity-level aggregate used by related-content
// lookups: the minimum chunk distance for one entity.
type EntityDistance struct {
	SourceType content.SourceType
	SourceID   string
	Distance   float64
}

// Summary aggregates the stored chunks of one entity+language.
type Summary struct {
	SourceType content.SourceType
	SourceID   string
	Language   content.Language
	ChunkCount int
	// OldestUpdatedAt is the minimum chunk updated_at; comparing the
	// oldest chunk against the entity keeps a partially stale set from
	// reporting as fresh.
	OldestUpdatedAt time.Time
}

// SyncState is the derived freshness of one entity+language index.
type SyncState string

const (
	StateSynced   SyncState = "synced"
	StateOutdated SyncState = "outdated"
	StateMissing  SyncState = "missing"
)

// EntityStatus is one row of the admin status report.
type EntityStatus struct {
	SourceType content.SourceType `json:"sourceType"`
	SourceID   string             `json:"sourceId"`
	Language   content.Language   `json:"language"`
	State      SyncState          `json:"state"`
	ChunkCount int                `json:"chunkCount"`
	IndexedAt  *time.Time         `json:"indexedAt,omitempty"`
}

// EntityError records one entity's failure during a bulk sync.
type EntityError struct {
	SourceType content.SourceType `json:"sourceType"`
	SourceID   string             `json:"sourceId"`
	Err        string             `json:"error"`
}

// Report aggregates the outcome of a bulk sync. Per-entity failures
// are collected here instead of aborting the sweep.
type Report struct {
	Total    int           `json:"total"`
	Synced   int           `json:"synced"`
	Failed   int           `json:"failed"`
	Failures []EntityError `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}
