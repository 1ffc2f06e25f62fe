// Package watch reports artifact file activity under the content directories.
package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/quill/internal/checksum"
	"github.com/starford/quill/internal/storage"
)

// Operations passed to the callback.
const (
	OpWrite  = "write"
	OpRemove = "remove"
)

const settle = 150 * time.Millisecond

// Callback is called once per settled change. path is relative to the
// content root, slash separated.
type Callback func(op, path string)

// Watch watches dirs (relative to the content root) for files ending in ext
// and calls cb until ctx is cancelled. Bursts of events for the same path are
// coalesced, and writes that leave the content unchanged are not reported.
// Missing directories are skipped.
func Watch(ctx context.Context, files storage.Provider, dirs []string, ext string, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := files.Root()
	seen := make(map[string]string)
	for _, d := range dirs {
		abs := filepath.Join(root, d)
		if info, statErr := os.Stat(abs); statErr != nil || !info.IsDir() {
			logger.Warn("watcher: skipping missing dir", slog.String("dir", d))
			continue
		}
		if err := addDirsRecursive(w, abs); err != nil {
			return err
		}
		items, listErr := files.List(d, ext)
		if listErr != nil {
			logger.Warn("watcher: initial list failed", slog.String("dir", d), slog.String("error", listErr.Error()))
		}
		for _, it := range items {
			seen[it.Path] = it.Checksum
		}
	}

	logger.Info("watcher: started", slog.String("root", root), slog.Any("dirs", dirs))

	pending := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time
	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(settle)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settle)
		}
	}

	flush := func(rel string) {
		data, readErr := files.Read(rel)
		if readErr != nil {
			if !errors.Is(readErr, fs.ErrNotExist) {
				logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
				return
			}
			if _, ok := seen[rel]; ok {
				delete(seen, rel)
				logger.Debug("watcher: removed", slog.String("path", rel))
				cb(OpRemove, rel)
			}
			return
		}
		if checksum.Matches(data, seen[rel]) {
			return
		}
		seen[rel] = checksum.Sum(data)
		logger.Debug("watcher: changed", slog.String("path", rel))
		cb(OpWrite, rel)
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			for rel := range pending {
				flush(rel)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					continue
				}
			}

			name := filepath.Base(absPath)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			pending[filepath.ToSlash(rel)] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
