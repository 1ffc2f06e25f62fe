package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/quill/internal/slug"
	"github.com/starford/quill/internal/storage"
)

const maxImageBytes = 10 << 20 // 10 MB

// imageExts lists accepted upload types. No SVG: uploads share the API origin.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".avif": true,
}

// ImageHandler accepts images referenced by a record's image field.
type ImageHandler struct {
	files   storage.Provider
	baseURL string
}

// NewImageHandler creates a handler that stores uploads in files and reports
// URLs under baseURL.
func NewImageHandler(files storage.Provider, baseURL string) *ImageHandler {
	if baseURL == "" {
		baseURL = "/images"
	}
	return &ImageHandler{files: files, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// imageName derives a stored file name from the uploaded one. The stem is
// slugged and a short random suffix keeps repeated uploads from colliding.
func imageName(original string) (string, bool) {
	base := filepath.Base(filepath.Clean(original))
	ext := strings.ToLower(filepath.Ext(base))
	if !imageExts[ext] {
		return "", false
	}
	stem := slug.Make(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" {
		stem = "image"
	}
	return stem + "-" + uuid.NewString()[:8] + ext, true
}

// Upload handles POST /api/images (multipart/form-data, field "file").
//
//	@Summary		Upload an image for a record
//	@Tags			images
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	ImageUploadResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/images [post]
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)

	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	name, ok := imageName(header.Filename)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("unsupported image type"))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}
	if len(data) > maxImageBytes {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large"))
		return
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		writeJSON(w, http.StatusBadRequest, errorBody("file is not an image"))
		return
	}

	if err := h.files.Write(name, data); err != nil {
		writeError(w, "upload image", name, err)
		return
	}

	writeJSON(w, http.StatusCreated, ImageUploadResponse{
		Filename: name,
		Size:     int64(len(data)),
		URL:      h.baseURL + "/" + name,
	})
}
