package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/embed"
	"github.com/foliolabs/folio/internal/fusion"
	"github.com/foliolabs/folio/internal/index"
)

// Orchestrator defaults.
const (
	// DefaultDailyLimit is the per-caller, per-calendar-day request cap.
	DefaultDailyLimit = 20

	// SessionIdleWindow is the inactivity gap after which a caller gets
	// a fresh session.
	SessionIdleWindow = 2 * time.Hour

	// DefaultTopK and DefaultMinSimilarity parameterize retrieval.
	DefaultTopK          = 8
	DefaultMinSimilarity = 0.55
)

// SessionStore is the persistence the orchestrator needs. *Store
// satisfies it.
type SessionStore interface {
	Latest(ctx context.Context, callerAddress string) (*Session, error)
	Create(ctx context.Context, callerAddress string) (*Session, error)
	Touch(ctx context.Context, id uuid.UUID) error
	AddMessage(ctx context.Context, msg *Message) error
	SourceURLs(ctx context.Context, sessionID uuid.UUID) ([]string, error)
	IncrementDailyCount(ctx context.Context, callerAddress string, day time.Time) (int, error)
}

// Searcher retrieves ranked chunk hits. *search.Searcher satisfies it.
type Searcher interface {
	Search(ctx context.Context, vec []float32, lang content.Language, k int, minSimilarity float64) ([]index.Hit, error)
}

// Fuser renders hits into context blocks and source cards.
// *fusion.Fuser satisfies it.
type Fuser interface {
	Fuse(ctx context.Context, hits []index.Hit, lang content.Language) (*fusion.Result, error)
}

// Generator produces the model response. *gemini.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Generation, error)
}

// Auth resolves caller privilege; privileged callers bypass the daily
// quota. The session/auth machinery behind it is external.
type Auth interface {
	IsPrivileged(ctx context.Context, callerAddress string) bool
}

// Notifier receives fire-and-forget notifications about answered
// questions. Delivery failures are the notifier's to log, never the
// request's.
type Notifier interface {
	Notify(ctx context.Context, message, image string)
}

// Request is one inbound chat message.
type Request struct {
	CallerAddress string
	Message       string
	Language      content.Language
	History       []Turn
}

// Response is the answer plus its deduplicated source cards.
type Response struct {
	Response string              `json:"response"`
	Sources  []fusion.SourceItem `json:"sources"`
}

// Orchestrator handles one chat request end to end: quota, session,
// embedding, retrieval, fusion, prompt assembly, generation,
// persistence.
type Orchestrator struct {
	sessions      SessionStore
	embedder      embed.Embedder
	searcher      Searcher
	fuser         Fuser
	generator     Generator
	auth          Auth
	notifier      Notifier
	dailyLimit    int
	topK          int
	minSimilarity float64
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithDailyLimit overrides the per-caller daily request cap.
func WithDailyLimit(n int) Option {
	return func(o *Orchestrator) { o.dailyLimit = n }
}

// WithRetrieval overrides the retrieval parameters.
func WithRetrieval(topK int, minSimilarity float64) Option {
	return func(o *Orchestrator) {
		o.topK = topK
		o.minSimilarity = minSimilarity
	}
}

// WithClock overrides time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator wires the chat pipeline.
func NewOrchestrator(sessions SessionStore, embedder embed.Embedder, searcher Searcher,
	fuser Fuser, generator Generator, auth Auth, notifier Notifier,
	logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if fuser == nil {
		return nil, fmt.Errorf("fuser is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		sessions:      sessions,
		embedder:      embedder,
		searcher:      searcher,
		fuser:         fuser,
		generator:     generator,
		auth:          auth,
		notifier:      notifier,
		dailyLimit:    DefaultDailyLimit,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		logger:        logger,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// HandleMessage runs the full chat sequence for one user message.
// Quota is checked first, cheaply, before any embedding or model cost.
func (o *Orchestrator) HandleMessage(ctx context.Context, req Request) (*Response, error) {
	if req.Message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if !req.Language.Valid() {
		return nil, fmt.Errorf("unsupported language %q", req.Language)
	}

	// 1. Privilege + quota admission.
	privileged := o.auth != nil && o.auth.IsPrivileged(ctx, req.CallerAddress)
	if !privileged {
		count, err := o.sessions.IncrementDailyCount(ctx, req.CallerAddress, o.now())
		if err != nil {
			return nil, fmt.Errorf("checking quota: %w", err)
		}
		if count > o.dailyLimit {
			return nil, fmt.Errorf("%w: %d requests today, limit %d",
				ErrQuotaExceeded, count, o.dailyLimit)
		}
	}

	// 2. Session continuity.
	sess, err := o.resolveSession(ctx, req.CallerAddress)
	if err != nil {
		return nil, err
	}

	// 3. Persist the user turn before any fallible model work, so the
	// transcript records the question even when generation fails.
	if err := o.sessions.AddMessage(ctx, &Message{
		SessionID: sess.ID,
		Role:      RoleUser,
		Content:   req.Message,
	}); err != nil {
		return nil, err
	}

	// 4. Embed the question.
	vec, err := o.embedder.Embed(ctx, req.Message)
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	// 5. Retrieve.
	hits, err := o.searcher.Search(ctx, vec, req.Language, o.topK, o.minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	// 6-7. Fuse context; zero hits yields the explicit absent-context
	// marker downstream, not an empty string.
	fused := &fusion.Result{}
	if len(hits) > 0 {
		fused, err = o.fuser.Fuse(ctx, hits, req.Language)
		if err != nil {
			return nil, fmt.Errorf("fusing context: %w", err)
		}
	}

	shownURLs, err := o.sessions.SourceURLs(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	// 8-9. Assemble prompt, call the model.
	prompt := BuildPrompt(req.History, fused.Blocks, req.Message)
	gen, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	// 11. De-duplicate sources against the conversation before
	// recording, so repeated questions do not re-surface cards.
	sources := dedupeSources(fused.Sources, shownURLs)

	// 10. Persist the assistant turn with prompt + usage metadata.
	md := &Metadata{Prompt: prompt, Usage: gen.Usage}
	for _, s := range sources {
		md.SourceURLs = append(md.SourceURLs, s.URL)
	}
	if err := o.sessions.AddMessage(ctx, &Message{
		SessionID: sess.ID,
		Role:      RoleAssistant,
		Content:   gen.Text,
		Metadata:  md,
	}); err != nil {
		return nil, err
	}

	// Side channel, after the primary path has committed.
	if o.notifier != nil {
		notifyCtx := context.WithoutCancel(ctx)
		go o.notifier.Notify(notifyCtx,
			fmt.Sprintf("Q: %s\nA: %s", req.Message, gen.Text), "")
	}

	o.logger.Info("chat answered",
		"caller", req.CallerAddress, "session", sess.ID,
		"hits", len(hits), "sources", len(sources),
		"tokens", gen.Usage.TotalTokens)

	return &Response{Response: gen.Text, Sources: sources}, nil
}

// resolveSession applies the continuity state machine: reuse the
// caller's latest session while it is fresh, otherwise start a new one.
func (o *Orchestrator) resolveSession(ctx context.Context, callerAddress string) (*Session, error) {
	latest, err := o.sessions.Latest(ctx, callerAddress)
	if err != nil {
		return nil, err
	}
	if latest == nil || o.now().Sub(latest.UpdatedAt) > SessionIdleWindow {
		return o.sessions.Create(ctx, callerAddress)
	}
	if err := o.sessions.Touch(ctx, latest.ID); err != nil {
		return nil, err
	}
	return latest, nil
}

// dedupeSources drops sources whose URL was already shown earlier in
// the conversation, and repeats within this response.
func dedupeSources(sources []fusion.SourceItem, shownURLs []string) []fusion.SourceItem {
	seen := make(map[string]struct{}, len(shownURLs)+len(sources))
	for _, u := range shownURLs {
		seen[u] = struct{}{}
	}
	out := make([]fusion.SourceItem, 0, len(sources))
	for _, s := range sources {
		if _, dup := seen[s.URL]; dup {
			continue
		}
		seen[s.URL] = struct{}{}
		out = append(out, s)
	}
	return out
}
