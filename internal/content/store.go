package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested entity or translation does not exist.
var ErrNotFound = errors.New("content not found")

// Store reads content entities and their translations from PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a content Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// refQueries maps each source type to the query producing (id, updated_at)
// pairs for every entity of that type.
var refQueries = map[SourceType]string{
	SourceTypeProject:    `SELECT id, updated_at FROM projects ORDER BY created_at`,
	SourceTypeBlog:       `SELECT id, updated_at FROM posts ORDER BY created_at`,
	SourceTypeProfile:    `SELECT id, updated_at FROM profiles ORDER BY id`,
	SourceTypeExperience: `SELECT id, updated_at FROM experiences ORDER BY start_date`,
}

// ListEntityRefs returns a reference for every entity of the given
// types. With no types it sweeps all of them, in SourceTypes order.
func (s *Store) ListEntityRefs(ctx context.Context, types ...SourceType) ([]EntityRef, error) {
	if len(types) == 0 {
		types = SourceTypes
	}

	var refs []EntityRef
	for _, t := range types {
		q, ok := refQueries[t]
		if !ok {
			return nil, fmt.Errorf("unknown source type %q", t)
		}
		rows, err := s.pool.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("listing %s refs: %w", t, err)
		}
		for rows.Next() {
			ref := EntityRef{Type: t}
			if err := rows.Scan(&ref.ID, &ref.UpdatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning %s ref: %w", t, err)
			}
			refs = append(refs, ref)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("listing %s refs: %w", t, err)
		}
	}
	return refs, nil
}

// translationQueries produce (text, entity updated_at) for one
// entity+language. The text concatenates the fields worth indexing.
var translationQueries = map[SourceType]string{
	SourceTypeProject: `SELECT concat_ws(E'\n\n', t.title, t.description, t.body), p.updated_at
		FROM projects p JOIN project_translations t ON t.project_id = p.id
		WHERE p.id = $1 AND t.language = $2`,
	SourceTypeBlog: `SELECT concat_ws(E'\n\n', t.title, t.summary, t.body), p.updated_at
		FROM posts p JOIN post_translations t ON t.post_id = p.id
		WHERE p.id = $1 AND t.language = $2`,
	SourceTypeProfile: `SELECT concat_ws(E'\n\n', t.headline, t.about), p.updated_at
		FROM profiles p JOIN profile_translations t ON t.profile_id = p.id
		WHERE p.id = $1 AND t.language = $2`,
	SourceTypeExperience: `SELECT concat_ws(E'\n\n', t.role, t.description), e.updated_at
		FROM experiences e JOIN experience_translations t ON t.experience_id = e.id
		WHERE e.id = $1 AND t.language = $2`,
}

// TranslatedText returns the long-form indexable text of one
// entity+language plus the entity's updated_at. A missing translation
// returns ErrNotFound; callers treat that as "nothing to index for
// this locale", not a failure.
func (s *Store) TranslatedText(ctx context.Context, typ SourceType, id string, lang Language) (string, time.Time, error) {
	q, ok := translationQueries[typ]
	if !ok {
		return "", time.Time{}, fmt.Errorf("unknown source type %q", typ)
	}

	var text string
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, q, id, string(lang)).Scan(&text, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, fmt.Errorf("%s %s (%s): %w", typ, id, lang, ErrNotFound)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("loading %s %s translation: %w", typ, id, err)
	}
	return text, updatedAt, nil
}

// ProjectsByIDs fetches display metadata for the given projects in one
// query, translated into lang. Unknown IDs are silently absent from
// the result, so callers can tolerate stale chunk hits.
func (s *Store) ProjectsByIDs(ctx context.Context, ids []string, lang Language) (map[string]Project, error) {
	if len(ids) == 0 {
		return map[string]Project{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, t.title, t.description, p.cover_image, p.category,
		        p.technologies, p.github_url, p.demo_url, p.created_at
		 FROM projects p JOIN project_translations t ON t.project_id = p.id
		 WHERE p.id = ANY($1) AND t.language = $2`, ids, string(lang))
	if err != nil {
		return nil, fmt.Errorf("loading projects: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Project, len(ids))
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.CoverImage, &p.Category,
			&p.Technologies, &p.GithubURL, &p.DemoURL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// PostsByIDs fetches display metadata for the given blog posts in one query.
func (s *Store) PostsByIDs(ctx context.Context, ids []string, lang Language) (map[string]Post, error) {
	if len(ids) == 0 {
		return map[string]Post{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, t.title, t.summary, p.cover_image, p.tags, p.created_at
		 FROM posts p JOIN post_translations t ON t.post_id = p.id
		 WHERE p.id = ANY($1) AND t.language = $2`, ids, string(lang))
	if err != nil {
		return nil, fmt.Errorf("loading posts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Post, len(ids))
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.Title, &p.Summary, &p.CoverImage, &p.Tags, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ProfilesByIDs fetches display metadata for the given profiles in one query.
func (s *Store) ProfilesByIDs(ctx context.Context, ids []string, lang Language) (map[string]Profile, error) {
	if len(ids) == 0 {
		return map[string]Profile{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.name, t.headline, t.about
		 FROM profiles p JOIN profile_translations t ON t.profile_id = p.id
		 WHERE p.id = ANY($1) AND t.language = $2`, ids, string(lang))
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Profile, len(ids))
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Headline, &p.About); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ExperiencesByIDs fetches display metadata for the given experiences in one query.
func (s *Store) ExperiencesByIDs(ctx context.Context, ids []string, lang Language) (map[string]Experience, error) {
	if len(ids) == 0 {
		return map[string]Experience{}, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT e.id, e.company, t.role, t.description, e.start_date, e.end_date
		 FROM experiences e JOIN experience_translations t ON t.experience_id = e.id
		 WHERE e.id = ANY($1) AND t.language = $2`, ids, string(lang))
	if err != nil {
		return nil, fmt.Errorf("loading experiences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Experience, len(ids))
	for rows.Next() {
		var e Experience
		if err := rows.Scan(&e.ID, &e.Company, &e.Role, &e.Description, &e.StartDate, &e.EndDate); err != nil {
			return nil, fmt.Errorf("scanning experience: %w", err)
		}
		out[e.ID] = e
	}
	return out, rows.Err()
}

// recentQueries back the non-similarity fallback for related content.
var recentQueries = map[SourceType]string{
	SourceTypeProject: `SELECT id, updated_at FROM projects WHERE id <> $1 ORDER BY created_at DESC LIMIT $2`,
	SourceTypeBlog:    `SELECT id, updated_at FROM posts WHERE id <> $1 ORDER BY created_at DESC LIMIT $2`,
}

// MostRecent returns up to k entities of the given type, newest first,
// excluding excludeID. Only project and blog entities participate in
// related-content listings.
func (s *Store) MostRecent(ctx context.Context, typ SourceType, excludeID string, k int) ([]EntityRef, error) {
	q, ok := recentQueries[typ]
	if !ok {
		return nil, fmt.Errorf("no recency listing for source type %q", typ)
	}
	rows, err := s.pool.Query(ctx, q, excludeID, k)
	if err != nil {
		return nil, fmt.Errorf("listing recent %s: %w", typ, err)
	}
	defer rows.Close()

	var refs []EntityRef
	for rows.Next() {
		ref := EntityRef{Type: typ}
		if err := rows.Scan(&ref.ID, &ref.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning recent %s: %w", typ, err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}
