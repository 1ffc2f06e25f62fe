// Package models defines the domain types for quill.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/slug"
)

// Kind distinguishes the two families of authored content.
type Kind string

const (
	KindNote Kind = "note"
	KindPost Kind = "post"
)

// Kinds lists every supported kind in sweep order.
var Kinds = []Kind{KindNote, KindPost}

// ParseKind validates a kind coming from a URL or flag.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNote, KindPost:
		return Kind(s), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", apperr.ErrValidation, s)
}

// KeyPrefix returns the record store key prefix for the kind.
func (k Kind) KeyPrefix() string {
	if k == KindPost {
		return "blog-post:"
	}
	return "note:"
}

// Key returns the record store key for id.
func (k Kind) Key(id string) string {
	return k.KeyPrefix() + id
}

const maxTags = 32

var idRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Record is the authoritative, store-held representation of one note or post.
type Record struct {
	ID            string     `json:"id"`
	Slug          string     `json:"slug,omitempty"`
	Title         string     `json:"title"`
	Content       string     `json:"content"`
	Description   string     `json:"description,omitempty"`
	Author        string     `json:"author,omitempty"`
	Image         string     `json:"image,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	Published     bool       `json:"published,omitempty"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	UnpublishedAt *time.Time `json:"unpublishedAt,omitempty"`
}

// NewID returns a fresh record id: creation millis plus a random suffix.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", now.UnixMilli(), suffix)
}

// Validate checks the record schema. A published record must carry a slug,
// a title and content.
func (r *Record) Validate() error {
	err := validation.ValidateStruct(r,
		validation.Field(&r.ID, validation.Required, validation.Match(idRe)),
		validation.Field(&r.Slug, validation.When(r.Published, validation.Required),
			validation.By(func(any) error {
				if r.Slug != "" && !slug.Valid(r.Slug) {
					return fmt.Errorf("must be lower-case words joined by hyphens")
				}
				return nil
			})),
		validation.Field(&r.Title, validation.When(r.Published, validation.Required)),
		validation.Field(&r.Content, validation.When(r.Published, validation.Required)),
		validation.Field(&r.CreatedAt, validation.Required),
		validation.Field(&r.Tags, validation.Length(0, maxTags), validation.Each(validation.Required)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r *Record) Clone() *Record {
	c := *r
	if r.Tags != nil {
		c.Tags = append([]string(nil), r.Tags...)
	}
	if r.PublishedAt != nil {
		t := *r.PublishedAt
		c.PublishedAt = &t
	}
	if r.UnpublishedAt != nil {
		t := *r.UnpublishedAt
		c.UnpublishedAt = &t
	}
	return &c
}
