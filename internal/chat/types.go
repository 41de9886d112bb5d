// Package chat implements per-caller session continuity, daily quota
// enforcement, and the retrieval-augmented chat orchestrator.
package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQuotaExceeded indicates the caller hit the daily request
	// limit. No embedding or model cost is incurred past this point.
	ErrQuotaExceeded = errors.New("daily chat quota exceeded")

	// ErrGeneration indicates the generative model call failed or
	// timed out. No assistant message is persisted for a failed
	// generation.
	ErrGeneration = errors.New("model generation failed")
)

// Message roles. Transcripts are append-only; nothing in this
// subsystem mutates or deletes a persisted message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is one conversational continuity window for one caller.
type Session struct {
	ID            uuid.UUID
	CallerAddress string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Usage is the token accounting of one generation call.
type Usage struct {
	PromptTokens int32 `json:"promptTokens"`
	OutputTokens int32 `json:"outputTokens"`
	TotalTokens  int32 `json:"totalTokens"`
}

// Generation is the result of one model call.
type Generation struct {
	Text  string
	Usage Usage
}

// Metadata is stored with assistant messages: the exact prompt, the
// token usage, and the source URLs surfaced with the answer (used for
// per-conversation source de-duplication).
type Metadata struct {
	Prompt     string   `json:"prompt,omitempty"`
	Usage      Usage    `json:"usage"`
	SourceURLs []string `json:"sourceUrls,omitempty"`
}

// Message is one transcript entry.
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      string
	Content   string
	Metadata  *Metadata
	CreatedAt time.Time
}

// Turn is one caller-supplied history entry. The history window passed
// to the model is bounded independently of the unbounded persisted
// transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
