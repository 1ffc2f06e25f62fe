// Package publish executes the draft → published → unpublished transitions
// and keeps the artifact files in step where the writer allows it.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/metrics"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/recordstore"
	"github.com/starford/quill/internal/slug"
)

// Events emitted after a successful transition.
const (
	EventPublished   = "published"
	EventUnpublished = "unpublished"
)

// EventFunc is called after each successful transition.
type EventFunc func(kind models.Kind, event string, rec *models.Record)

// Result is what a transition reports back to the caller.
type Result struct {
	Slug    string           `json:"slug"`
	Outcome artifact.Outcome `json:"outcome"`
	Record  *models.Record   `json:"-"`
}

// Deferred reports whether the artifact change waits for the next sweep.
func (r *Result) Deferred() bool {
	return r.Outcome == artifact.Deferred
}

// Reconciler runs transitions against a record store and an artifact writer.
type Reconciler struct {
	store   recordstore.Store
	writer  artifact.Writer
	logger  *slog.Logger
	now     func() time.Time
	onEvent EventFunc
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithEvents registers fn to be called after each transition.
func WithEvents(fn EventFunc) Option {
	return func(r *Reconciler) { r.onEvent = fn }
}

// New creates a Reconciler.
func New(store recordstore.Store, writer artifact.Writer, logger *slog.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reconciler{store: store, writer: writer, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish marks the record published, assigning a slug from the title when it
// has none, and writes its artifact. A slug, once assigned, never changes.
func (r *Reconciler) Publish(ctx context.Context, kind models.Kind, id string) (*Result, error) {
	rec, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", kind.Key(id), err)
	}
	if strings.TrimSpace(rec.Title) == "" || strings.TrimSpace(rec.Content) == "" {
		return nil, fmt.Errorf("%w: title and content are required to publish", apperr.ErrValidation)
	}

	s := rec.Slug
	if s == "" {
		s = slug.Make(rec.Title)
		if s == "" {
			return nil, fmt.Errorf("%w: title %q does not produce a usable slug", apperr.ErrValidation, rec.Title)
		}
		if err := r.claimSlug(ctx, kind, rec.ID, s); err != nil {
			return nil, err
		}
	}

	now := r.now()
	next := rec.Clone()
	next.Slug = s
	next.Published = true
	next.PublishedAt = &now
	next.UpdatedAt = now
	if err := r.store.Put(ctx, kind, next); err != nil {
		return nil, fmt.Errorf("publish %s: %w", kind.Key(id), err)
	}

	outcome, err := r.writer.Publish(ctx, kind, next)
	if err != nil {
		metrics.ObserveTransition(string(kind), "publish", "failed")
		r.logger.Error("publish: artifact write failed",
			slog.String("kind", string(kind)),
			slog.String("id", id),
			slog.String("slug", s),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("publish %s: %w", kind.Key(id), err)
	}

	metrics.ObserveTransition(string(kind), "publish", string(outcome))
	r.logger.Info("record published",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.String("slug", s),
		slog.String("artifact", string(outcome)))
	r.emit(kind, EventPublished, next)
	return &Result{Slug: s, Outcome: outcome, Record: next}, nil
}

// Unpublish marks a previously published record unpublished. The slug is kept
// and the artifact stays on disk with its header flipped.
func (r *Reconciler) Unpublish(ctx context.Context, kind models.Kind, id string) (*Result, error) {
	rec, err := r.store.Get(ctx, kind, id)
	if err != nil {
		return nil, fmt.Errorf("unpublish %s: %w", kind.Key(id), err)
	}
	if rec.Slug == "" {
		return nil, fmt.Errorf("%w: record %s has never been published", apperr.ErrInvalidTransition, id)
	}

	now := r.now()
	next := rec.Clone()
	next.Published = false
	next.UnpublishedAt = &now
	next.UpdatedAt = now
	if err := r.store.Put(ctx, kind, next); err != nil {
		return nil, fmt.Errorf("unpublish %s: %w", kind.Key(id), err)
	}

	outcome, err := r.writer.Unpublish(ctx, kind, next)
	if err != nil {
		metrics.ObserveTransition(string(kind), "unpublish", "failed")
		r.logger.Error("unpublish: artifact write failed",
			slog.String("kind", string(kind)),
			slog.String("id", id),
			slog.String("slug", next.Slug),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("unpublish %s: %w", kind.Key(id), err)
	}

	metrics.ObserveTransition(string(kind), "unpublish", string(outcome))
	r.logger.Info("record unpublished",
		slog.String("kind", string(kind)),
		slog.String("id", id),
		slog.String("slug", next.Slug),
		slog.String("artifact", string(outcome)))
	r.emit(kind, EventUnpublished, next)
	return &Result{Slug: next.Slug, Outcome: outcome, Record: next}, nil
}

// claimSlug fails with ErrConflict when another record of kind already owns s.
func (r *Reconciler) claimSlug(ctx context.Context, kind models.Kind, id, s string) error {
	recs, err := r.store.List(ctx, kind)
	if err != nil {
		return fmt.Errorf("publish %s: slug check: %w", kind.Key(id), err)
	}
	for _, other := range recs {
		if other.ID != id && other.Slug == s {
			return fmt.Errorf("%w: slug %q is already used by %s", apperr.ErrConflict, s, other.ID)
		}
	}
	return nil
}

func (r *Reconciler) emit(kind models.Kind, event string, rec *models.Record) {
	if r.onEvent != nil {
		r.onEvent(kind, event, rec)
	}
}

// IsClientError reports whether err is the caller's fault rather than an
// infrastructure failure.
func IsClientError(err error) bool {
	return errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrInvalidTransition) ||
		errors.Is(err, apperr.ErrConflict)
}
