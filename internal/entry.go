// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/starford/quill/internal/api"
	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/mcpserver"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordservice"
	"github.com/starford/quill/internal/sse"
	"github.com/starford/quill/internal/sweep"
	"github.com/starford/quill/internal/watch"
)

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	c, err := bootstrap(app)
	if err != nil {
		return err
	}
	defer c.close()
	cfg, logger := c.cfg, c.logger

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.StaleThrottle)
	defer broker.Close()

	rc := publish.New(c.store, c.writer, logger,
		publish.WithEvents(func(kind models.Kind, event string, rec *models.Record) {
			broker.PublishRecordEvent(string(kind), event, rec.ID, rec.Slug)
		}))
	svc := recordservice.NewService(c.store, rc, logger,
		recordservice.WithEvents(func(kind models.Kind, event, id string) {
			broker.PublishRecordEvent(string(kind), event, id, "")
		}))

	deps := api.Deps{
		Service:     svc,
		Reconciler:  rc,
		Images:      openImages(cfg.Content, logger),
		ImagesURL:   cfg.Content.ImagesURL,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
		Events:      broker,
	}
	var sweeper *sweep.Sweeper
	if c.direct() {
		sweeper = sweep.New(c.store, c.files, c.layout, logger)
		deps.Sweeper = sweeper
	} else if dw, ok := c.writer.(*artifact.DeferredWriter); ok {
		deps.Pending = dw
	}

	// Bring artifacts in line once, the way a build would.
	if sweeper != nil && cfg.Content.SweepOnStart {
		sweeper.Run(ctx)
	}

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.MetricsMiddleware)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		pingCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := c.store.Ping(pingCtx); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Uploaded images, served the way the site will serve them.
	if deps.Images != nil {
		prefix := strings.TrimSuffix(cfg.Content.ImagesURL, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(deps.Images.Root()))))
	}

	// Mount API routes under /api.
	r.Mount("/api", api.NewRouter(deps))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	if c.files != nil {
		g.Go(func() error {
			dirs := []string{cfg.Content.NotesDir, cfg.Content.PostsDir}
			if err := watch.Watch(gCtx, c.files, dirs, "."+cfg.Content.Ext, logger, broker.PublishArtifactEvent); err != nil {
				logger.Warn("watcher: disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// ErrSweepFailures is returned by a strict sweep that left records unreconciled.
var ErrSweepFailures = errors.New("sweep finished with failures")

// RunSweep runs the build-time sweep once and logs the summary. It is meant to
// be invoked by the site build before static generation.
func RunSweep(ctx context.Context, opts ...Option) (sweep.Summary, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}

	c, err := bootstrap(app)
	if err != nil {
		return sweep.Summary{}, err
	}
	defer c.close()

	if c.files == nil {
		return sweep.Summary{}, fmt.Errorf("sweep: content root %s is not usable", c.cfg.Content.Root)
	}

	sum := sweep.New(c.store, c.files, c.layout, c.logger).Run(ctx, app.kinds...)
	if app.strict && sum.Failed > 0 {
		return sum, fmt.Errorf("%w: %d of %d records", ErrSweepFailures, sum.Failed, sum.Scanned)
	}
	return sum, nil
}

// RunMCP serves the MCP tools over stdio until the client disconnects. Logs go
// to stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{logOut: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}

	c, err := bootstrap(app)
	if err != nil {
		return err
	}
	defer c.close()

	rc := publish.New(c.store, c.writer, c.logger)
	svc := recordservice.NewService(c.store, rc, c.logger)
	var sweeper mcpserver.Sweeper
	if c.direct() {
		sweeper = sweep.New(c.store, c.files, c.layout, c.logger)
	}

	c.logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc, rc, sweeper, c.logger).ServeStdio()
}
