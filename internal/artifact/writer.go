package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/storage"
)

// Outcome describes what a Writer did with an artifact.
type Outcome string

const (
	Written   Outcome = "written"
	Unchanged Outcome = "unchanged"
	Deferred  Outcome = "deferred"
)

// Writer projects record transitions onto artifact files.
type Writer interface {
	// Publish writes the full artifact for a published record.
	Publish(ctx context.Context, kind models.Kind, rec *models.Record) (Outcome, error)
	// Unpublish flips an existing artifact's header to unpublished.
	Unpublish(ctx context.Context, kind models.Kind, rec *models.Record) (Outcome, error)
}

// DirectWriter writes artifacts straight to the content directory.
type DirectWriter struct {
	files  storage.Provider
	layout Layout
	now    func() time.Time
}

var _ Writer = (*DirectWriter)(nil)

// NewDirectWriter creates a writer over files using layout for paths.
func NewDirectWriter(files storage.Provider, layout Layout) *DirectWriter {
	return &DirectWriter{files: files, layout: layout, now: time.Now}
}

// Publish renders rec and replaces the artifact unless the bytes already match.
func (w *DirectWriter) Publish(_ context.Context, kind models.Kind, rec *models.Record) (Outcome, error) {
	data, err := Render(rec)
	if err != nil {
		return "", err
	}
	p := w.layout.Path(kind, rec.Slug)
	existing, err := w.files.Read(p)
	if err == nil && bytes.Equal(existing, data) {
		return Unchanged, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %v", apperr.ErrFileSystem, err)
	}
	if err := w.files.Write(p, data); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrFileSystem, err)
	}
	return Written, nil
}

// Unpublish rewrites the header of an existing artifact. A missing artifact
// is left missing.
func (w *DirectWriter) Unpublish(_ context.Context, kind models.Kind, rec *models.Record) (Outcome, error) {
	p := w.layout.Path(kind, rec.Slug)
	data, err := w.files.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Unchanged, nil
		}
		return "", fmt.Errorf("%w: %v", apperr.ErrFileSystem, err)
	}
	current, _, err := Parse(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	updated, changed, err := SetUnpublished(data, UnpublishTimestamp(rec, current, w.now()))
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	if !changed {
		return Unchanged, nil
	}
	if err := w.files.Write(p, updated); err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrFileSystem, err)
	}
	return Written, nil
}

// PendingOp is an artifact change left for the next sweep.
type PendingOp struct {
	Kind   models.Kind `json:"kind"`
	ID     string      `json:"id"`
	Slug   string      `json:"slug"`
	Action string      `json:"action"`
	At     time.Time   `json:"at"`
}

// maxPending bounds the deferred queue; the oldest entries go first.
const maxPending = 1024

// DeferredWriter performs no file I/O. It queues each change so operators can
// see what the next build-time sweep will pick up. The queue keeps the most
// recent maxPending changes.
type DeferredWriter struct {
	logger *slog.Logger
	now    func() time.Time
	limit  int

	mu      sync.Mutex
	pending []PendingOp
	dropped int
}

var _ Writer = (*DeferredWriter)(nil)

// NewDeferredWriter creates an empty queue.
func NewDeferredWriter(logger *slog.Logger) *DeferredWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeferredWriter{logger: logger, now: time.Now, limit: maxPending}
}

func (w *DeferredWriter) enqueue(kind models.Kind, rec *models.Record, action string) Outcome {
	op := PendingOp{Kind: kind, ID: rec.ID, Slug: rec.Slug, Action: action, At: w.now()}
	w.mu.Lock()
	w.pending = append(w.pending, op)
	if over := len(w.pending) - w.limit; over > 0 {
		w.pending = append(w.pending[:0:0], w.pending[over:]...)
		w.dropped += over
		if w.dropped == over {
			w.logger.Warn("deferred artifact queue full, dropping oldest entries",
				slog.Int("limit", w.limit))
		}
	}
	w.mu.Unlock()
	w.logger.Info("artifact write deferred to sweep",
		slog.String("kind", string(kind)),
		slog.String("id", rec.ID),
		slog.String("slug", rec.Slug),
		slog.String("action", action))
	return Deferred
}

// Publish queues a publish.
func (w *DeferredWriter) Publish(_ context.Context, kind models.Kind, rec *models.Record) (Outcome, error) {
	return w.enqueue(kind, rec, "publish"), nil
}

// Unpublish queues an unpublish.
func (w *DeferredWriter) Unpublish(_ context.Context, kind models.Kind, rec *models.Record) (Outcome, error) {
	return w.enqueue(kind, rec, "unpublish"), nil
}

// Pending returns a copy of the queue, oldest first.
// Dropped entries are still picked up by the sweep, which reads the store.
func (w *DeferredWriter) Pending() []PendingOp {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]PendingOp(nil), w.pending...)
}

// Write modes accepted by Select.
const (
	ModeAuto     = "auto"
	ModeDirect   = "direct"
	ModeDeferred = "deferred"
)

// Prober reports whether a directory accepts new files.
type Prober interface {
	Probe(dir string) error
}

// Select picks the writer for mode. In auto mode every layout directory is
// probed once; any failure selects the deferred writer.
func Select(mode string, files storage.Provider, layout Layout, logger *slog.Logger) (Writer, error) {
	switch mode {
	case ModeDirect:
		if files == nil {
			return nil, fmt.Errorf("artifact: direct writes need a content directory")
		}
		return NewDirectWriter(files, layout), nil
	case ModeDeferred:
		return NewDeferredWriter(logger), nil
	case ModeAuto, "":
		if files == nil {
			return NewDeferredWriter(logger), nil
		}
		if p, ok := files.(Prober); ok {
			for _, kind := range models.Kinds {
				if err := p.Probe(layout.Dirs[kind]); err != nil {
					logger.Warn("content directory not writable, deferring artifact writes",
						slog.String("kind", string(kind)), slog.String("error", err.Error()))
					return NewDeferredWriter(logger), nil
				}
			}
		}
		return NewDirectWriter(files, layout), nil
	}
	return nil, fmt.Errorf("artifact: unknown write mode %q", mode)
}
