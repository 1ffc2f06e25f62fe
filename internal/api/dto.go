package api

import (
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/recordservice"
)

// SaveRecordRequest is the request body for creating or updating a record.
type SaveRecordRequest = recordservice.Input

// RecordListResponse wraps record listings.
type RecordListResponse struct {
	Records []*models.Record `json:"records" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
}

// TransitionRequest is the body of publish and unpublish calls.
type TransitionRequest struct {
	ID string `json:"id" example:"1760000000000-1a2b3c4d" validate:"required"`
}

// TransitionResponse reports the outcome of a publish or unpublish.
type TransitionResponse struct {
	Success  bool   `json:"success" validate:"required"`
	Slug     string `json:"slug" example:"hello-world" validate:"required"`
	Deferred bool   `json:"deferred"`
}

// ImageUploadResponse is returned after a successful image upload.
type ImageUploadResponse struct {
	Filename string `json:"filename" example:"cover-1a2b3c4d.png" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/images/cover-1a2b3c4d.png" validate:"required"`
}
