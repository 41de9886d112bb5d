// Package content provides read access to the site's content entities.
//
// The CRUD admin surface that writes these tables lives outside this
// module; everything here is a read-only collaborator used by the
// indexing and chat subsystems.
package content

import (
	"fmt"
	"time"
)

// SourceType identifies which kind of content entity owns a chunk or hit.
type SourceType string

const (
	SourceTypeProject    SourceType = "project"
	SourceTypeBlog       SourceType = "blog"
	SourceTypeProfile    SourceType = "profile"
	SourceTypeExperience SourceType = "experience"
)

// SourceTypes lists every indexable entity type in iteration order.
var SourceTypes = []SourceType{
	SourceTypeProject,
	SourceTypeBlog,
	SourceTypeProfile,
	SourceTypeExperience,
}

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeProject, SourceTypeBlog, SourceTypeProfile, SourceTypeExperience:
		return true
	}
	return false
}

// ParseSourceType validates a raw string from an API path or CLI argument.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return t, nil
}

// Language is a supported content locale.
type Language string

const (
	LanguageEN Language = "en"
	LanguageTR Language = "tr"
)

// Languages is the fixed locale set every entity may be translated into.
var Languages = []Language{LanguageEN, LanguageTR}

// Valid reports whether l is a supported locale.
func (l Language) Valid() bool {
	return l == LanguageEN || l == LanguageTR
}

// ParseLanguage validates a raw locale string, defaulting to English
// when empty.
func ParseLanguage(s string) (Language, error) {
	if s == "" {
		return LanguageEN, nil
	}
	l := Language(s)
	if !l.Valid() {
		return "", fmt.Errorf("unsupported language %q", s)
	}
	return l, nil
}

// EntityRef identifies one content entity and its last content change.
type EntityRef struct {
	Type      SourceType
	ID        string
	UpdatedAt time.Time
}

// Project is the display metadata for one portfolio project,
// translated into the requested language.
type Project struct {
	ID           string
	Title        string
	Description  string
	CoverImage   string
	Category     string
	Technologies []string
	GithubURL    string
	DemoURL      string
	CreatedAt    time.Time
}

// Post is the display metadata for one blog post.
type Post struct {
	ID         string
	Title      string
	Summary    string
	CoverImage string
	Tags       []string
	CreatedAt  time.Time
}

// Profile is the display metadata for the site owner's profile.
type Profile struct {
	ID       string
	Name     string
	Headline string
	About    string
}

// Experience is the display metadata for one work-history entry.
type Experience struct {
	ID          string
	Company     string
	Role        string
	Description string
	StartDate   time.Time
	EndDate     *time.Time
}

// Period renders the experience time span for prompt context.
func (e Experience) Period() string {
	start := e.StartDate.Format("Jan 2006")
	if e.EndDate == nil {
		return start + " - present"
	}
	return start + " - " + e.EndDate.Format("Jan 2006")
}
