package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordservice"
	"github.com/starford/quill/internal/storage"
	"github.com/starford/quill/internal/sweep"
)

// Sweeper runs the build-time sweep.
type Sweeper interface {
	Run(ctx context.Context, kinds ...models.Kind) sweep.Summary
}

// PendingLister exposes artifact changes waiting for the next sweep.
type PendingLister interface {
	Pending() []artifact.PendingOp
}

// Deps bundles what the router needs.
type Deps struct {
	Service    *recordservice.Service
	Reconciler *publish.Reconciler
	// Sweeper is nil when artifact writes are deferred.
	Sweeper Sweeper
	// Pending is nil when artifact writes are direct.
	Pending PendingLister
	// Images receives uploads; nil disables POST /images.
	Images      storage.Provider
	ImagesURL   string
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Service, d.Reconciler, d.Sweeper, d.Pending)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

	// Records.
	r.Route("/records/{kind}", func(r chi.Router) {
		r.Get("/", h.ListRecords)
		r.Post("/", h.SaveRecord)
		r.Post("/publish", h.Publish)
		r.Post("/unpublish", h.Unpublish)
		r.Get("/{id}", h.GetRecord)
		r.Delete("/{id}", h.DeleteRecord)
	})

	// Artifacts.
	r.Post("/sweep", h.Sweep)
	r.Get("/artifacts/pending", h.PendingArtifacts)

	if d.Images != nil {
		ih := NewImageHandler(d.Images, d.ImagesURL)
		r.Post("/images", ih.Upload)
	}

	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
