package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/quill/internal/artifact"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/publish"
	"github.com/starford/quill/internal/recordservice"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc     *recordservice.Service
	rc      *publish.Reconciler
	sweeper Sweeper
	pending PendingLister
}

// NewHandler creates a new Handler.
func NewHandler(svc *recordservice.Service, rc *publish.Reconciler, sweeper Sweeper, pending PendingLister) *Handler {
	return &Handler{svc: svc, rc: rc, sweeper: sweeper, pending: pending}
}

// kindParam parses the {kind} URL parameter, writing a 400 when it is unknown.
func kindParam(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind, err := models.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return "", false
	}
	return kind, true
}

// ListRecords handles GET /api/records/{kind}.
//
//	@Summary		List records of a kind, most recently updated first
//	@Tags			records
//	@Produce		json
//	@Param			kind		path		string	true	"Record kind"	Enums(note, post)
//	@Param			published	query		bool	false	"Filter by publication state"
//	@Success		200			{object}	RecordListResponse
//	@Security		BearerAuth
//	@Router			/records/{kind} [get]
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var f recordservice.ListFilter
	if raw := r.URL.Query().Get("published"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("published must be true or false"))
			return
		}
		f.Published = &v
	}

	recs, err := h.svc.List(r.Context(), kind, f)
	if err != nil {
		writeError(w, "list records", kind.KeyPrefix(), err)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	writeJSON(w, http.StatusOK, RecordListResponse{Records: recs, Total: len(recs)})
}

// GetRecord handles GET /api/records/{kind}/{id}.
//
//	@Summary		Get a single record
//	@Tags			records
//	@Produce		json
//	@Success		200	{object}	models.Record
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{kind}/{id} [get]
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.svc.Get(r.Context(), kind, id)
	if err != nil {
		writeError(w, "get record", kind.Key(id), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SaveRecord handles POST /api/records/{kind}. A body without id creates a
// draft (201); a body with id updates it (200).
//
//	@Summary		Create or update a record
//	@Tags			records
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SaveRecordRequest	true	"Record fields"
//	@Success		200		{object}	models.Record
//	@Success		201		{object}	models.Record
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{kind} [post]
func (h *Handler) SaveRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req SaveRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	rec, created, err := h.svc.Save(r.Context(), kind, req)
	if err != nil {
		key := kind.KeyPrefix()
		if rec != nil {
			key = kind.Key(rec.ID)
		} else if req.ID != "" {
			key = kind.Key(req.ID)
		}
		writeError(w, "save record", key, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, rec)
}

// DeleteRecord handles DELETE /api/records/{kind}/{id}.
//
//	@Summary		Delete a record; its artifact stays on disk
//	@Tags			records
//	@Success		204	"Record deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{kind}/{id} [delete]
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), kind, id); err != nil {
		writeError(w, "delete record", kind.Key(id), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/records/{kind}/publish.
//
//	@Summary		Publish a record
//	@Tags			publication
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TransitionRequest	true	"Record id"
//	@Success		200		{object}	TransitionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{kind}/publish [post]
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "publish", h.rc.Publish)
}

// Unpublish handles POST /api/records/{kind}/unpublish.
//
//	@Summary		Unpublish a record
//	@Tags			publication
//	@Accept			json
//	@Produce		json
//	@Param			body	body		TransitionRequest	true	"Record id"
//	@Success		200		{object}	TransitionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/records/{kind}/unpublish [post]
func (h *Handler) Unpublish(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "unpublish", h.rc.Unpublish)
}

type transitionFunc func(ctx context.Context, kind models.Kind, id string) (*publish.Result, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id is required"))
		return
	}

	res, err := fn(r.Context(), kind, req.ID)
	if err != nil {
		writeError(w, op, kind.Key(req.ID), err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{
		Success:  true,
		Slug:     res.Slug,
		Deferred: res.Deferred(),
	})
}

// Sweep handles POST /api/sweep.
//
//	@Summary		Reconcile every artifact with its record
//	@Tags			artifacts
//	@Produce		json
//	@Param			kind	query		string	false	"Only sweep this kind"	Enums(note, post)
//	@Success		200		{object}	sweep.Summary
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sweep [post]
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		writeJSON(w, http.StatusConflict, errorBody("artifact writes are deferred; run the sweep at build time"))
		return
	}
	var kinds []models.Kind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		kind, err := models.ParseKind(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
			return
		}
		kinds = append(kinds, kind)
	}
	writeJSON(w, http.StatusOK, h.sweeper.Run(r.Context(), kinds...))
}

// PendingArtifacts handles GET /api/artifacts/pending.
//
//	@Summary		List artifact changes waiting for the next sweep
//	@Tags			artifacts
//	@Produce		json
//	@Success		200	{object}	map[string]any
//	@Security		BearerAuth
//	@Router			/artifacts/pending [get]
func (h *Handler) PendingArtifacts(w http.ResponseWriter, _ *http.Request) {
	ops := []artifact.PendingOp{}
	if h.pending != nil {
		ops = append(ops, h.pending.Pending()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": ops,
		"total":   len(ops),
	})
}
