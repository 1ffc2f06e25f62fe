// Package recordservice implements the authoring operations on content
// records: list, get, save and delete. Publication is delegated to the
// reconciler.
package recordservice

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordstore"
)

// Events emitted by the service.
const (
	EventSaved   = "saved"
	EventDeleted = "deleted"
)

// EventFunc is called after a record is saved or deleted.
type EventFunc func(kind models.Kind, event, id string)

// Input carries the authoring fields of a record. An empty ID creates a new
// draft.
type Input struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Author      string   `json:"author"`
	Image       string   `json:"image"`
	Tags        []string `json:"tags"`
	Publish     bool     `json:"publish,omitempty"`
}

// ListFilter narrows List. A nil Published returns every record.
type ListFilter struct {
	Published *bool
}

// Service coordinates the record store and the reconciler.
type Service struct {
	store    recordstore.Store
	rc       *publish.Reconciler
	logger   *slog.Logger
	now      func() time.Time
	onChange EventFunc
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEvents registers fn to be called after saves and deletes.
func WithEvents(fn EventFunc) Option {
	return func(s *Service) { s.onChange = fn }
}

// NewService creates a new record service.
func NewService(store recordstore.Store, rc *publish.Reconciler, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, rc: rc, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the records of kind, most recently updated first.
func (s *Service) List(ctx context.Context, kind models.Kind, f ListFilter) ([]*models.Record, error) {
	recs, err := s.store.List(ctx, kind)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, r := range recs {
		if f.Published != nil && r.Published != *f.Published {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Get returns a single record.
func (s *Service) Get(ctx context.Context, kind models.Kind, id string) (*models.Record, error) {
	return s.store.Get(ctx, kind, id)
}

// Save creates a draft when in.ID is empty and updates the existing record
// otherwise. Updating a published record regenerates its artifact. It reports
// whether a record was created.
//
// When in.Publish is set on create and publishing fails, the draft is kept and
// the publish error is returned alongside it.
func (s *Service) Save(ctx context.Context, kind models.Kind, in Input) (*models.Record, bool, error) {
	if in.ID == "" {
		return s.create(ctx, kind, in)
	}
	rec, err := s.update(ctx, kind, in)
	return rec, false, err
}

func (s *Service) create(ctx context.Context, kind models.Kind, in Input) (*models.Record, bool, error) {
	now := s.now()
	rec := &models.Record{
		ID:        models.NewID(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	apply(rec, in)
	if err := s.store.Put(ctx, kind, rec); err != nil {
		return nil, false, err
	}
	s.logger.Info("record created", slog.String("kind", string(kind)), slog.String("id", rec.ID))
	s.emit(kind, EventSaved, rec.ID)

	if !in.Publish {
		return rec, true, nil
	}
	res, err := s.rc.Publish(ctx, kind, rec.ID)
	if err != nil {
		return rec, true, err
	}
	return res.Record, true, nil
}

func (s *Service) update(ctx context.Context, kind models.Kind, in Input) (*models.Record, error) {
	existing, err := s.store.Get(ctx, kind, in.ID)
	if err != nil {
		return nil, err
	}
	next := existing.Clone()
	apply(next, in)
	next.UpdatedAt = s.now()
	if next.Published && (strings.TrimSpace(next.Title) == "" || strings.TrimSpace(next.Content) == "") {
		return nil, fmt.Errorf("%w: a published record needs a title and content", apperr.ErrValidation)
	}
	if err := s.store.Put(ctx, kind, next); err != nil {
		return nil, err
	}
	s.logger.Info("record updated", slog.String("kind", string(kind)), slog.String("id", next.ID))
	s.emit(kind, EventSaved, next.ID)

	if !next.Published && !in.Publish {
		return next, nil
	}
	res, err := s.rc.Publish(ctx, kind, next.ID)
	if err != nil {
		return nil, err
	}
	return res.Record, nil
}

// Delete removes a record. Its artifact, if any, stays on disk.
func (s *Service) Delete(ctx context.Context, kind models.Kind, id string) error {
	ok, err := s.store.Delete(ctx, kind, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("delete %s: %w", kind.Key(id), apperr.ErrNotFound)
	}
	s.logger.Info("record deleted", slog.String("kind", string(kind)), slog.String("id", id))
	s.emit(kind, EventDeleted, id)
	return nil
}

func (s *Service) emit(kind models.Kind, event, id string) {
	if s.onChange != nil {
		s.onChange(kind, event, id)
	}
}

func apply(rec *models.Record, in Input) {
	rec.Title = in.Title
	rec.Content = in.Content
	rec.Description = in.Description
	rec.Author = in.Author
	rec.Image = in.Image
	rec.Tags = nonNilSlice(in.Tags)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
