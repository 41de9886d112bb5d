package fusion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/index"
	"github.com/foliolabs/folio/internal/log"
)

type fakeFetcher struct {
	projects    map[string]content.Project
	posts       map[string]content.Post
	profiles    map[string]content.Profile
	experiences map[string]content.Experience
	err         error
}

func (f *fakeFetcher) ProjectsByIDs(_ context.Context, ids []string, _ content.Language) (map[string]content.Project, error) {
	return pick(f.projects, ids), f.err
}

func (f *fakeFetcher) PostsByIDs(_ context.Context, ids []string, _ content.Language) (map[string]content.Post, error) {
	return pick(f.posts, ids), f.err
}

func (f *fakeFetcher) ProfilesByIDs(_ context.Context, ids []string, _ content.Language) (map[string]content.Profile, error) {
	return pick(f.profiles, ids), f.err
}

func (f *fakeFetcher) ExperiencesByIDs(_ context.Context, ids []string, _ content.Language) (map[string]content.Experience, error) {
	return pick(f.experiences, ids), f.err
}

func pick[T any](all map[string]T, ids []string) map[string]T {
	out := make(map[string]T)
	for _, id := range ids {
		if v, ok := all[id]; ok {
			out[id] = v
		}
	}
	return out
}

func newTestFuser(t *testing.T, fetcher ContentFetcher) *Fuser {
	t.Helper()
	f, err := NewFuser(fetcher, "https://example.com/", log.NewNop())
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	return f
}

func TestFusePreservesHitOrderAcrossTypes(t *testing.T) {
	fetcher := &fakeFetcher{
		projects: map[string]content.Project{
			"p1": {ID: "p1", Title: "Folio", Description: "A site backend"},
		},
		posts: map[string]content.Post{
			"b1": {ID: "b1", Title: "Notes", Summary: "Some notes"},
		},
		profiles: map[string]content.Profile{
			"me": {ID: "me", Name: "Deniz", Headline: "Engineer"},
		},
	}
	f := newTestFuser(t, fetcher)

	hits := []index.Hit{
		{SourceType: content.SourceTypeBlog, SourceID: "b1"},
		{SourceType: content.SourceTypeProject, SourceID: "p1"},
		{SourceType: content.SourceTypeBlog, SourceID: "b1"}, // repeat hit, same entity
		{SourceType: content.SourceTypeProfile, SourceID: "me"},
	}
	result, err := f.Fuse(context.Background(), hits, content.LanguageEN)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	if len(result.Blocks) != 3 {
		t.Fatalf("got %d blocks, want 3 (distinct entities)", len(result.Blocks))
	}
	if !strings.HasPrefix(result.Blocks[0], "[BLOG POST]") {
		t.Errorf("block 0 = %q, want blog post first (hit order)", result.Blocks[0])
	}
	if !strings.HasPrefix(result.Blocks[1], "[PROJECT]") {
		t.Errorf("block 1 = %q, want project second", result.Blocks[1])
	}
	if !strings.HasPrefix(result.Blocks[2], "[PROFILE]") {
		t.Errorf("block 2 = %q, want profile third", result.Blocks[2])
	}
}

func TestFuseOnlyProjectAndBlogProduceSources(t *testing.T) {
	end := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		projects: map[string]content.Project{
			"p1": {ID: "p1", Title: "Folio", GithubURL: "https://github.com/x/folio"},
		},
		posts: map[string]content.Post{
			"b1": {ID: "b1", Title: "Notes", Tags: []string{"go"}},
		},
		profiles: map[string]content.Profile{
			"me": {ID: "me", Name: "Deniz"},
		},
		experiences: map[string]content.Experience{
			"e1": {ID: "e1", Company: "Acme", Role: "Engineer",
				StartDate: time.Date(2022, 1, 10, 0, 0, 0, 0, time.UTC), EndDate: &end},
		},
	}
	f := newTestFuser(t, fetcher)

	hits := []index.Hit{
		{SourceType: content.SourceTypeProject, SourceID: "p1"},
		{SourceType: content.SourceTypeProfile, SourceID: "me"},
		{SourceType: content.SourceTypeExperience, SourceID: "e1"},
		{SourceType: content.SourceTypeBlog, SourceID: "b1"},
	}
	result, err := f.Fuse(context.Background(), hits, content.LanguageEN)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}

	if len(result.Blocks) != 4 {
		t.Errorf("got %d blocks, want 4", len(result.Blocks))
	}
	if len(result.Sources) != 2 {
		t.Fatalf("got %d sources, want 2 (project and blog only)", len(result.Sources))
	}
	if result.Sources[0].URL != "https://example.com/projects/p1" {
		t.Errorf("project URL = %q", result.Sources[0].URL)
	}
	if result.Sources[1].URL != "https://example.com/blog/b1" {
		t.Errorf("post URL = %q", result.Sources[1].URL)
	}
	if got := result.Sources[0].Links["github"]; got != "https://github.com/x/folio" {
		t.Errorf("project github link = %q", got)
	}

	// Experience block carries the rendered period.
	var expBlock string
	for _, b := range result.Blocks {
		if strings.HasPrefix(b, "[EXPERIENCE]") {
			expBlock = b
		}
	}
	if !strings.Contains(expBlock, "PERIOD: Jan 2022 - Jun 2024") {
		t.Errorf("experience block missing period:\n%s", expBlock)
	}
}

func TestFuseSkipsDeletedEntities(t *testing.T) {
	fetcher := &fakeFetcher{
		projects: map[string]content.Project{
			"alive": {ID: "alive", Title: "Alive"},
		},
	}
	f := newTestFuser(t, fetcher)

	hits := []index.Hit{
		{SourceType: content.SourceTypeProject, SourceID: "gone"},
		{SourceType: content.SourceTypeProject, SourceID: "alive"},
	}
	result, err := f.Fuse(context.Background(), hits, content.LanguageEN)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if len(result.Blocks) != 1 || !strings.Contains(result.Blocks[0], "TITLE: Alive") {
		t.Errorf("blocks = %v, want only the surviving entity", result.Blocks)
	}
}

func TestFuseEmptyHits(t *testing.T) {
	f := newTestFuser(t, &fakeFetcher{})
	result, err := f.Fuse(context.Background(), nil, content.LanguageEN)
	if err != nil {
		t.Fatalf("Fuse: %v", err)
	}
	if len(result.Blocks) != 0 || len(result.Sources) != 0 {
		t.Errorf("non-empty result for zero hits: %+v", result)
	}
}

func TestFuseFetchError(t *testing.T) {
	f := newTestFuser(t, &fakeFetcher{err: errors.New("db down")})
	_, err := f.Fuse(context.Background(),
		[]index.Hit{{SourceType: content.SourceTypeProject, SourceID: "p1"}},
		content.LanguageEN)
	if err == nil {
		t.Fatal("fetch error swallowed")
	}
}

func TestRenderProjectSkipsEmptyFields(t *testing.T) {
	f := newTestFuser(t, &fakeFetcher{})
	block := f.renderProject(content.Project{ID: "p1", Title: "Folio"})

	if !strings.Contains(block, "TITLE: Folio") {
		t.Errorf("block missing title:\n%s", block)
	}
	for _, absent := range []string{"CATEGORY:", "TECHNOLOGIES:", "GITHUB:", "LIVE DEMO:"} {
		if strings.Contains(block, absent) {
			t.Errorf("block contains empty field %q:\n%s", absent, block)
		}
	}
}
