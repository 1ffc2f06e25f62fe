// Package testutil provides shared test helpers for record stores and content directories.
package testutil

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/recordstore"
	"github.com/starford/quill/internal/storage"
)

// Layout is the artifact layout used across tests.
var Layout = artifact.Layout{
	Dirs: map[models.Kind]string{models.KindNote: "notes", models.KindPost: "blog"},
	Ext:  "mdx",
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestStore starts an in-process Redis and returns a store connected to it.
func TestStore(t *testing.T) (*recordstore.Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := recordstore.NewRedis("redis://"+mr.Addr(), 0, 0, Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// TestContent creates a temporary content root with a storage.FS.
func TestContent(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, files
}

// FileExists reports whether path can be read from files. Any error other
// than a missing file fails the test.
func FileExists(t *testing.T, files storage.Provider, path string) bool {
	t.Helper()
	_, err := files.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return true
}
