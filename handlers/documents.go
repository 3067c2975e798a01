package handlers

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"hrms/logging"
	"hrms/middleware"
	"hrms/services"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Multipart overhead allowed on top of the file size limit.
const multipartSlack = 1 << 20

// Types a browser would render or run in the API's origin.
var activeTypes = map[string]bool{
	"text/html":              true,
	"application/xhtml+xml":  true,
	"image/svg+xml":          true,
	"text/xml":               true,
	"application/xml":        true,
	"text/javascript":        true,
	"application/javascript": true,
}

func downloadType(stored string) string {
	mediaType, _, err := mime.ParseMediaType(stored)
	if err != nil || activeTypes[mediaType] {
		return "application/octet-stream"
	}
	return stored
}

type DocumentHandler struct {
	categories *services.DocumentCategoryService
	documents  *services.DocumentService
	maxBytes   int64
}

func NewDocumentHandler(categories *services.DocumentCategoryService, documents *services.DocumentService, maxBytes int64) *DocumentHandler {
	return &DocumentHandler{categories: categories, documents: documents, maxBytes: maxBytes}
}

func (h *DocumentHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.categories.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DocumentHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in services.CategoryInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.categories.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *DocumentHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var in services.CategoryInput
	if !decodeJSON(w, r, &in) {
		return
	}
	c, err := h.categories.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *DocumentHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.categories.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Upload expects a multipart form with a file part named "file" and the
// optional fields title, category_id and owner_id.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartSlack)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, err)
			return
		}
		badRequest(w, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file is required")
		return
	}
	defer file.Close()

	in := services.UploadInput{
		Title:    r.FormValue("title"),
		FileName: header.Filename,
		MimeType: header.Header.Get("Content-Type"),
	}
	if v := r.FormValue("category_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			badRequest(w, "category_id must be a number")
			return
		}
		in.CategoryID = uint(id)
	}
	if v := r.FormValue("owner_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			badRequest(w, "owner_id must be a number")
			return
		}
		in.OwnerID = uint(id)
	}

	doc, err := h.documents.Upload(r.Context(), middleware.GetUserFromContext(r.Context()), in, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.documents.List(r.Context(), middleware.GetUserFromContext(r.Context()), services.DocumentFilter{
		OwnerID:    queryUint(r, "owner_id"),
		CategoryID: queryUint(r, "category_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	doc, err := h.documents.Get(r.Context(), middleware.GetUserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	doc, body, err := h.documents.Open(r.Context(), middleware.GetUserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", downloadType(doc.MimeType))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Size, 10))
	if _, err := io.Copy(w, body); err != nil {
		logging.FromContext(r.Context(), nil).Warn("document download interrupted", zap.Uint("document_id", doc.ID), zap.Error(err))
	}
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := h.documents.Delete(r.Context(), middleware.GetUserFromContext(r.Context()), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
