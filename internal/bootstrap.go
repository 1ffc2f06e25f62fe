package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/recordstore"
	"github.com/starford/quill/internal/storage"
)

// components are the pieces shared by every entry point.
type components struct {
	cfg    *Config
	logger *slog.Logger
	store  recordstore.Store
	// files is nil when the content root cannot be used.
	files  storage.Provider
	layout artifact.Layout
	writer artifact.Writer
}

func (c *components) close() {
	if err := c.store.Close(); err != nil {
		c.logger.Warn("record store close failed", slog.String("error", err.Error()))
	}
}

// direct reports whether artifact changes are written immediately.
func (c *components) direct() bool {
	_, ok := c.writer.(*artifact.DirectWriter)
	return ok
}

func bootstrap(app *application) (*components, error) {
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	out := app.logOut
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("content_root", cfg.Content.Root),
		slog.String("artifact_writes", cfg.Content.Writes),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	layout := cfg.Content.Layout()
	var files storage.Provider
	if fsys, err := openContent(cfg.Content.Root); err != nil {
		logger.Warn("content root unavailable", slog.String("root", cfg.Content.Root), slog.String("error", err.Error()))
	} else {
		files = fsys
	}

	writer, err := artifact.Select(cfg.Content.Writes, files, layout, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &components{
		cfg:    cfg,
		logger: logger,
		store:  store,
		files:  files,
		layout: layout,
		writer: writer,
	}, nil
}

// openStore builds the configured record store. A redis driver without a URL
// yields a store that reports itself unavailable rather than failing startup.
func openStore(cfg StoreConfig, logger *slog.Logger) (recordstore.Store, error) {
	switch cfg.Driver {
	case StoreDriverSQLite:
		s, err := recordstore.OpenSQLite(cfg.SQLite.Path, cfg.TTL, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, nil
	default:
		if cfg.Redis.URL == "" {
			logger.Warn("redis url not set, record store unavailable")
			return recordstore.Unconfigured{}, nil
		}
		s, err := recordstore.NewRedis(cfg.Redis.URL, cfg.Redis.Timeout, cfg.TTL, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, nil
	}
}

func openContent(root string) (*storage.FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return storage.NewFS(root)
}

// openImages returns the upload target for images, or nil when it cannot be
// created.
func openImages(cfg ContentConfig, logger *slog.Logger) storage.Provider {
	if cfg.ImagesDir == "" {
		return nil
	}
	dir := filepath.Join(cfg.Root, cfg.ImagesDir)
	fsys, err := openContent(dir)
	if err != nil {
		logger.Warn("image uploads disabled", slog.String("dir", dir), slog.String("error", err.Error()))
		return nil
	}
	return fsys
}
