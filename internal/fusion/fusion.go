// Package fusion maps raw retrieval hits back to their owning entities
// and renders structured prompt context plus user-facing source cards.
//
// Blocks are rendered from each entity's *current* display metadata,
// fetched fresh per request; stored chunk text may be stale relative
// to live fields like a cover image.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/index"
)

// ContentFetcher is the slice of the content store fusion needs.
// *content.Store satisfies it.
type ContentFetcher interface {
	ProjectsByIDs(ctx context.Context, ids []string, lang content.Language) (map[string]content.Project, error)
	PostsByIDs(ctx context.Context, ids []string, lang content.Language) (map[string]content.Post, error)
	ProfilesByIDs(ctx context.Context, ids []string, lang content.Language) (map[string]content.Profile, error)
	ExperiencesByIDs(ctx context.Context, ids []string, lang content.Language) (map[string]content.Experience, error)
}

// SourceItem is the display-ready projection of one hit entity,
// returned alongside the chat answer. Only project and blog entities
// surface as cards; profile and experience context informs the answer
// without one.
type SourceItem struct {
	Type        content.SourceType `json:"type"`
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	URL         string             `json:"url"`
	Image       string             `json:"image,omitempty"`
	Category    string             `json:"category,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Technologies []string          `json:"technologies,omitempty"`
	Links       map[string]string  `json:"links,omitempty"`
}

// Result is the fused output: context blocks in hit order plus the
// source cards.
type Result struct {
	Blocks  []string
	Sources []SourceItem
}

// Fuser renders retrieval hits into prompt context.
type Fuser struct {
	fetcher ContentFetcher
	baseURL string
	logger  *slog.Logger
}

// NewFuser creates a Fuser. baseURL is the site origin used to build
// canonical entity URLs.
func NewFuser(fetcher ContentFetcher, baseURL string, logger *slog.Logger) (*Fuser, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("content fetcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fuser{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}, nil
}

// entityKey identifies one distinct entity among the hits.
type entityKey struct {
	typ content.SourceType
	id  string
}

// Fuse fetches current display metadata for each distinct hit entity
// (one batched query per type, run concurrently) and renders one
// context block per entity, preserving hit ranking order. Entities
// whose metadata no longer exists (deleted since indexing) are
// skipped.
func (f *Fuser) Fuse(ctx context.Context, hits []index.Hit, lang content.Language) (*Result, error) {
	if len(hits) == 0 {
		return &Result{}, nil
	}

	// Distinct entities in first-hit order.
	var order []entityKey
	seen := make(map[entityKey]struct{})
	idsByType := make(map[content.SourceType][]string)
	for _, h := range hits {
		k := entityKey{h.SourceType, h.SourceID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		order = append(order, k)
		idsByType[h.SourceType] = append(idsByType[h.SourceType], h.SourceID)
	}

	// Batched metadata fetches touch disjoint entity sets; run them
	// concurrently.
	var (
		projects    map[string]content.Project
		posts       map[string]content.Post
		profiles    map[string]content.Profile
		experiences map[string]content.Experience
	)
	g, gctx := errgroup.WithContext(ctx)
	if ids := idsByType[content.SourceTypeProject]; len(ids) > 0 {
		g.Go(func() (err error) {
			projects, err = f.fetcher.ProjectsByIDs(gctx, ids, lang)
			return err
		})
	}
	if ids := idsByType[content.SourceTypeBlog]; len(ids) > 0 {
		g.Go(func() (err error) {
			posts, err = f.fetcher.PostsByIDs(gctx, ids, lang)
			return err
		})
	}
	if ids := idsByType[content.SourceTypeProfile]; len(ids) > 0 {
		g.Go(func() (err error) {
			profiles, err = f.fetcher.ProfilesByIDs(gctx, ids, lang)
			return err
		})
	}
	if ids := idsByType[content.SourceTypeExperience]; len(ids) > 0 {
		g.Go(func() (err error) {
			experiences, err = f.fetcher.ExperiencesByIDs(gctx, ids, lang)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetching entity metadata: %w", err)
	}

	result := &Result{}
	for _, k := range order {
		switch k.typ {
		case content.SourceTypeProject:
			p, ok := projects[k.id]
			if !ok {
				f.logger.Debug("hit references missing project", "id", k.id)
				continue
			}
			result.Blocks = append(result.Blocks, f.renderProject(p))
			result.Sources = append(result.Sources, f.projectSource(p))
		case content.SourceTypeBlog:
			p, ok := posts[k.id]
			if !ok {
				f.logger.Debug("hit references missing post", "id", k.id)
				continue
			}
			result.Blocks = append(result.Blocks, f.renderPost(p))
			result.Sources = append(result.Sources, f.postSource(p))
		case content.SourceTypeProfile:
			p, ok := profiles[k.id]
			if !ok {
				continue
			}
			result.Blocks = append(result.Blocks, f.renderProfile(p))
		case content.SourceTypeExperience:
			e, ok := experiences[k.id]
			if !ok {
				continue
			}
			result.Blocks = append(result.Blocks, f.renderExperience(e))
		}
	}
	return result, nil
}

func (f *Fuser) projectURL(id string) string { return f.baseURL + "/projects/" + id }
func (f *Fuser) postURL(id string) string    { return f.baseURL + "/blog/" + id }

func (f *Fuser) renderProject(p content.Project) string {
	var b strings.Builder
	b.WriteString("[PROJECT]\n")
	writeField(&b, "TITLE", p.Title)
	writeField(&b, "DESCRIPTION", p.Description)
	writeField(&b, "URL", f.projectURL(p.ID))
	writeField(&b, "CATEGORY", p.Category)
	writeField(&b, "TECHNOLOGIES", strings.Join(p.Technologies, ", "))
	writeField(&b, "GITHUB", p.GithubURL)
	writeField(&b, "LIVE DEMO", p.DemoURL)
	return strings.TrimRight(b.String(), "\n")
}

func (f *Fuser) renderPost(p content.Post) string {
	var b strings.Builder
	b.WriteString("[BLOG POST]\n")
	writeField(&b, "TITLE", p.Title)
	writeField(&b, "DESCRIPTION", p.Summary)
	writeField(&b, "URL", f.postURL(p.ID))
	writeField(&b, "TAGS", strings.Join(p.Tags, ", "))
	return strings.TrimRight(b.String(), "\n")
}

func (f *Fuser) renderProfile(p content.Profile) string {
	var b strings.Builder
	b.WriteString("[PROFILE]\n")
	writeField(&b, "NAME", p.Name)
	writeField(&b, "TITLE", p.Headline)
	writeField(&b, "DESCRIPTION", p.About)
	return strings.TrimRight(b.String(), "\n")
}

func (f *Fuser) renderExperience(e content.Experience) string {
	var b strings.Builder
	b.WriteString("[EXPERIENCE]\n")
	writeField(&b, "TITLE", e.Role)
	writeField(&b, "COMPANY", e.Company)
	writeField(&b, "PERIOD", e.Period())
	writeField(&b, "DESCRIPTION", e.Description)
	return strings.TrimRight(b.String(), "\n")
}

func (f *Fuser) projectSource(p content.Project) SourceItem {
	links := make(map[string]string)
	if p.GithubURL != "" {
		links["github"] = p.GithubURL
	}
	if p.DemoURL != "" {
		links["demo"] = p.DemoURL
	}
	if len(links) == 0 {
		links = nil
	}
	return SourceItem{
		Type:         content.SourceTypeProject,
		ID:           p.ID,
		Title:        p.Title,
		Description:  p.Description,
		URL:          f.projectURL(p.ID),
		Image:        p.CoverImage,
		Category:     p.Category,
		Technologies: p.Technologies,
		Links:        links,
	}
}

func (f *Fuser) postSource(p content.Post) SourceItem {
	return SourceItem{
		Type:        content.SourceTypeBlog,
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Summary,
		URL:         f.postURL(p.ID),
		Image:       p.CoverImage,
		Tags:        p.Tags,
	}
}

func writeField(b *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\n")
}
