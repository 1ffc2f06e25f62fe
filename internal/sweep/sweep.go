// Package sweep implements the build-time pass that reconciles every record
// with its artifact file.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/metrics"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/recordstore"
	"github.com/starford/quill/internal/storage"
)

// Result is the per-record outcome of a sweep.
type Result string

const (
	ResultSkipped     Result = "skipped"
	ResultCreated     Result = "created"
	ResultRepublished Result = "republished"
	ResultUnpublished Result = "unpublished"
	ResultUnchanged   Result = "unchanged"
	ResultFailed      Result = "failed"
)

// Summary aggregates a sweep run.
type Summary struct {
	Scanned     int           `json:"scanned"`
	Skipped     int           `json:"skipped"`
	Created     int           `json:"created"`
	Republished int           `json:"republished"`
	Unpublished int           `json:"unpublished"`
	Unchanged   int           `json:"unchanged"`
	Failed      int           `json:"failed"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Writes returns how many artifacts the run touched.
func (s Summary) Writes() int {
	return s.Created + s.Republished + s.Unpublished
}

func (s *Summary) add(r Result) {
	switch r {
	case ResultSkipped:
		s.Skipped++
	case ResultCreated:
		s.Created++
	case ResultRepublished:
		s.Republished++
	case ResultUnpublished:
		s.Unpublished++
	case ResultUnchanged:
		s.Unchanged++
	case ResultFailed:
		s.Failed++
	}
}

// Sweeper walks the record store and fixes artifacts left stale by deferred writes.
type Sweeper struct {
	store  recordstore.Store
	files  storage.Provider
	layout artifact.Layout
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Sweeper. files must be writable.
func New(store recordstore.Store, files storage.Provider, layout artifact.Layout, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, files: files, layout: layout, logger: logger, now: time.Now}
}

// Run sweeps the given kinds (all kinds when none are given) one record at a
// time. Per-record failures are logged and counted, never returned.
func (s *Sweeper) Run(ctx context.Context, kinds ...models.Kind) Summary {
	if len(kinds) == 0 {
		kinds = models.Kinds
	}
	start := time.Now()
	var sum Summary

	for _, kind := range kinds {
		if ctx.Err() != nil {
			s.logger.Warn("sweep: cancelled", slog.String("error", ctx.Err().Error()))
			break
		}
		recs, err := s.store.List(ctx, kind)
		if err != nil {
			sum.Failed++
			metrics.ObserveSweepRecord(string(kind), string(ResultFailed))
			s.logger.Error("sweep: list failed",
				slog.String("kind", string(kind)), slog.String("error", err.Error()))
			continue
		}
		for _, rec := range recs {
			sum.Scanned++
			res, err := s.reconcile(kind, rec)
			if err != nil {
				res = ResultFailed
				s.logger.Error("sweep: reconcile failed",
					slog.String("kind", string(kind)),
					slog.String("id", rec.ID),
					slog.String("slug", rec.Slug),
					slog.String("error", err.Error()))
			} else if res != ResultSkipped && res != ResultUnchanged {
				s.logger.Info("sweep: artifact reconciled",
					slog.String("kind", string(kind)),
					slog.String("slug", rec.Slug),
					slog.String("result", string(res)))
			}
			sum.add(res)
			metrics.ObserveSweepRecord(string(kind), string(res))
		}
	}

	sum.Elapsed = time.Since(start)
	metrics.ObserveSweep(sum.Elapsed, sum.Failed)
	s.logger.Info("sweep: finished",
		slog.Int("scanned", sum.Scanned),
		slog.Int("skipped", sum.Skipped),
		slog.Int("created", sum.Created),
		slog.Int("republished", sum.Republished),
		slog.Int("unpublished", sum.Unpublished),
		slog.Int("unchanged", sum.Unchanged),
		slog.Int("failed", sum.Failed),
		slog.Duration("elapsed", sum.Elapsed))
	return sum
}

func (s *Sweeper) reconcile(kind models.Kind, rec *models.Record) (Result, error) {
	if rec.Slug == "" {
		return ResultSkipped, nil
	}
	p := s.layout.Path(kind, rec.Slug)
	data, err := s.files.Read(p)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	switch {
	case !rec.Published && !exists:
		return ResultUnchanged, nil

	case !rec.Published:
		current, _, err := artifact.Parse(data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, err)
		}
		updated, changed, err := artifact.SetUnpublished(data, artifact.UnpublishTimestamp(rec, current, s.now()))
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, err)
		}
		if !changed {
			return ResultUnchanged, nil
		}
		if err := s.files.Write(p, updated); err != nil {
			return "", err
		}
		return ResultUnpublished, nil

	case !exists:
		if rec.Content == "" {
			return ResultSkipped, nil
		}
		if err := s.render(p, rec); err != nil {
			return "", err
		}
		return ResultCreated, nil

	default:
		current, _, err := artifact.Parse(data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p, err)
		}
		if current.Published {
			return ResultUnchanged, nil // content drift is left alone
		}
		if err := s.render(p, rec); err != nil {
			return "", err
		}
		return ResultRepublished, nil
	}
}

func (s *Sweeper) render(p string, rec *models.Record) error {
	data, err := artifact.Render(rec)
	if err != nil {
		return err
	}
	return s.files.Write(p, data)
}
