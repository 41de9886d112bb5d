package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/fusion"
	"github.com/foliolabs/folio/internal/index"
	"github.com/foliolabs/folio/internal/log"
	"github.com/foliolabs/folio/internal/testutil"
)

type fakeSessions struct {
	latest   *Session
	created  int
	touched  int
	messages []*Message
	counts   map[string]int
	shown    []string

	latestErr error
	countErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{counts: make(map[string]int)}
}

func (f *fakeSessions) Latest(_ context.Context, _ string) (*Session, error) {
	return f.latest, f.latestErr
}

func (f *fakeSessions) Create(_ context.Context, caller string) (*Session, error) {
	f.created++
	now := time.Now()
	f.latest = &Session{ID: uuid.New(), CallerAddress: caller, CreatedAt: now, UpdatedAt: now}
	return f.latest, nil
}

func (f *fakeSessions) Touch(_ context.Context, _ uuid.UUID) error {
	f.touched++
	return nil
}

func (f *fakeSessions) AddMessage(_ context.Context, msg *Message) error {
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeSessions) SourceURLs(_ context.Context, _ uuid.UUID) ([]string, error) {
	return f.shown, nil
}

func (f *fakeSessions) IncrementDailyCount(_ context.Context, caller string, day time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	key := caller + "|" + day.Format("2006-01-02")
	f.counts[key]++
	return f.counts[key], nil
}

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string

	Response string
	Usage    Usage
	Err      error
}

func (g *fakeGenerator) Generate(_ context.Context, prompt string) (*Generation, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.Err != nil {
		return nil, g.Err
	}
	return &Generation{Text: g.Response, Usage: g.Usage}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *fakeGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fakeSearcher struct {
	hits  []index.Hit
	err   error
	calls int
}

func (f *fakeSearcher) Search(_ context.Context, _ []float32, _ content.Language, _ int, _ float64) ([]index.Hit, error) {
	f.calls++
	return f.hits, f.err
}

type fakeFuser struct {
	result *fusion.Result
	calls  int
}

func (f *fakeFuser) Fuse(_ context.Context, _ []index.Hit, _ content.Language) (*fusion.Result, error) {
	f.calls++
	if f.result == nil {
		return &fusion.Result{}, nil
	}
	return f.result, nil
}

type allowAll struct{}

func (allowAll) IsPrivileged(context.Context, string) bool { return true }

type denyAll struct{}

func (denyAll) IsPrivileged(context.Context, string) bool { return false }

type deps struct {
	sessions *fakeSessions
	embedder *testutil.Embedder
	searcher *fakeSearcher
	fuser    *fakeFuser
	gen      *fakeGenerator
}

func newOrchestrator(t *testing.T, d *deps, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(d.sessions, d.embedder, d.searcher, d.fuser, d.gen,
		denyAll{}, nil, log.NewNop(), opts...)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o
}

func defaultDeps() *deps {
	return &deps{
		sessions: newFakeSessions(),
		embedder: &testutil.Embedder{},
		searcher: &fakeSearcher{},
		fuser:    &fakeFuser{},
		gen:      &fakeGenerator{Response: "answer"},
	}
}

func TestHandleMessageQuotaExceeded(t *testing.T) {
	d := defaultDeps()
	o := newOrchestrator(t, d, WithDailyLimit(2))

	ctx := context.Background()
	req := Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN}

	for i := 0; i < 2; i++ {
		if _, err := o.HandleMessage(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}

	embedsBefore := d.embedder.Calls()
	gensBefore := d.gen.Calls()
	msgsBefore := len(d.sessions.messages)

	_, err := o.HandleMessage(ctx, req)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("got %v, want ErrQuotaExceeded", err)
	}
	if d.embedder.Calls() != embedsBefore {
		t.Errorf("blocked request embedded: %d calls, want %d", d.embedder.Calls(), embedsBefore)
	}
	if d.gen.Calls() != gensBefore {
		t.Errorf("blocked request generated: %d calls, want %d", d.gen.Calls(), gensBefore)
	}
	if len(d.sessions.messages) != msgsBefore {
		t.Errorf("blocked request persisted messages: %d, want %d", len(d.sessions.messages), msgsBefore)
	}
}

func TestHandleMessagePrivilegedBypassesQuota(t *testing.T) {
	d := defaultDeps()
	o, err := NewOrchestrator(d.sessions, d.embedder, d.searcher, d.fuser, d.gen,
		allowAll{}, nil, log.NewNop(), WithDailyLimit(1))
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}

	ctx := context.Background()
	req := Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN}
	for i := 0; i < 5; i++ {
		if _, err := o.HandleMessage(ctx, req); err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
	}
	if len(d.sessions.counts) != 0 {
		t.Errorf("privileged caller consumed quota: %v", d.sessions.counts)
	}
}

func TestHandleMessageSessionContinuity(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		idle        time.Duration
		wantCreated int
		wantTouched int
	}{
		{"fresh session reused", time.Hour, 0, 1},
		{"just inside window", SessionIdleWindow - time.Minute, 0, 1},
		{"expired session replaced", SessionIdleWindow + time.Minute, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := defaultDeps()
			d.sessions.latest = &Session{
				ID:            uuid.New(),
				CallerAddress: "1.2.3.4",
				UpdatedAt:     now.Add(-tt.idle),
			}
			o := newOrchestrator(t, d, WithClock(func() time.Time { return now }))

			_, err := o.HandleMessage(context.Background(),
				Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN})
			if err != nil {
				t.Fatalf("HandleMessage: %v", err)
			}
			if d.sessions.created != tt.wantCreated {
				t.Errorf("created = %d, want %d", d.sessions.created, tt.wantCreated)
			}
			if d.sessions.touched != tt.wantTouched {
				t.Errorf("touched = %d, want %d", d.sessions.touched, tt.wantTouched)
			}
		})
	}
}

func TestHandleMessageNoSessionCreatesOne(t *testing.T) {
	d := defaultDeps()
	o := newOrchestrator(t, d)

	_, err := o.HandleMessage(context.Background(),
		Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if d.sessions.created != 1 {
		t.Errorf("created = %d, want 1", d.sessions.created)
	}
}

func TestHandleMessageEmptyContextMarker(t *testing.T) {
	d := defaultDeps()
	o := newOrchestrator(t, d)

	_, err := o.HandleMessage(context.Background(),
		Request{CallerAddress: "1.2.3.4", Message: "what is your favorite color", Language: content.LanguageEN})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if d.fuser.calls != 0 {
		t.Errorf("fuser ran with zero hits: %d calls", d.fuser.calls)
	}
	if prompt := d.gen.LastPrompt(); !strings.Contains(prompt, NoContextMarker) {
		t.Errorf("prompt missing %q:\n%s", NoContextMarker, prompt)
	}
}

func TestHandleMessageContextBlocksInPrompt(t *testing.T) {
	d := defaultDeps()
	d.searcher.hits = []index.Hit{{SourceType: content.SourceTypeProject, SourceID: "p1"}}
	d.fuser.result = &fusion.Result{Blocks: []string{"[PROJECT]\nTITLE: Folio"}}
	o := newOrchestrator(t, d)

	_, err := o.HandleMessage(context.Background(),
		Request{CallerAddress: "1.2.3.4", Message: "tell me about folio", Language: content.LanguageEN})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	prompt := d.gen.LastPrompt()
	if !strings.Contains(prompt, "TITLE: Folio") {
		t.Errorf("prompt missing context block:\n%s", prompt)
	}
	if strings.Contains(prompt, NoContextMarker) {
		t.Errorf("prompt contains absent-context marker despite hits:\n%s", prompt)
	}
}

func TestHandleMessageGenerationFailure(t *testing.T) {
	d := defaultDeps()
	d.gen.Err = errors.New("model unavailable")
	o := newOrchestrator(t, d)

	_, err := o.HandleMessage(context.Background(),
		Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN})
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("got %v, want ErrGeneration", err)
	}

	// The user turn is recorded; no assistant turn is.
	if len(d.sessions.messages) != 1 {
		t.Fatalf("persisted %d messages, want 1", len(d.sessions.messages))
	}
	if got := d.sessions.messages[0].Role; got != RoleUser {
		t.Errorf("persisted role = %q, want %q", got, RoleUser)
	}
}

func TestHandleMessageSourceDedup(t *testing.T) {
	d := defaultDeps()
	d.searcher.hits = []index.Hit{{SourceType: content.SourceTypeProject, SourceID: "p1"}}
	d.fuser.result = &fusion.Result{
		Blocks: []string{"[PROJECT]\nTITLE: A", "[BLOG POST]\nTITLE: B"},
		Sources: []fusion.SourceItem{
			{Type: content.SourceTypeProject, ID: "p1", URL: "https://site/projects/p1"},
			{Type: content.SourceTypeBlog, ID: "b1", URL: "https://site/blog/b1"},
		},
	}
	d.sessions.shown = []string{"https://site/projects/p1"}
	o := newOrchestrator(t, d)

	resp, err := o.HandleMessage(context.Background(),
		Request{CallerAddress: "1.2.3.4", Message: "hi", Language: content.LanguageEN})
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("got %d sources, want 1 (dedup against conversation)", len(resp.Sources))
	}
	if resp.Sources[0].URL != "https://site/blog/b1" {
		t.Errorf("kept source %q, want the unseen blog post", resp.Sources[0].URL)
	}

	// Assistant metadata records only the newly shown URL.
	last := d.sessions.messages[len(d.sessions.messages)-1]
	if last.Role != RoleAssistant || last.Metadata == nil {
		t.Fatalf("last message = %+v, want assistant with metadata", last)
	}
	if len(last.Metadata.SourceURLs) != 1 || last.Metadata.SourceURLs[0] != "https://site/blog/b1" {
		t.Errorf("metadata sourceUrls = %v, want [https://site/blog/b1]", last.Metadata.SourceURLs)
	}
}

func TestHandleMessageValidation(t *testing.T) {
	d := defaultDeps()
	o := newOrchestrator(t, d)
	ctx := context.Background()

	if _, err := o.HandleMessage(ctx, Request{CallerAddress: "a", Language: content.LanguageEN}); err == nil {
		t.Error("empty message accepted")
	}
	if _, err := o.HandleMessage(ctx, Request{CallerAddress: "a", Message: "hi", Language: "xx"}); err == nil {
		t.Error("unsupported language accepted")
	}
	if d.embedder.Calls() != 0 {
		t.Errorf("invalid requests embedded %d times", d.embedder.Calls())
	}
}

func TestDedupeSourcesWithinResponse(t *testing.T) {
	sources := []fusion.SourceItem{
		{URL: "https://site/projects/p1"},
		{URL: "https://site/projects/p1"},
		{URL: "https://site/blog/b1"},
	}
	got := dedupeSources(sources, nil)
	if len(got) != 2 {
		t.Fatalf("got %d sources, want 2", len(got))
	}
}
