package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leca/yodel-image/internal/api"
	"github.com/leca/yodel-image/internal/imageproc"
	"github.com/leca/yodel-image/internal/model"
)

// CreateEdit handles POST /v1/edits -- multipart upload of the original.
func (h *Handler) CreateEdit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.TooLarge(w, "upload too large")
			return
		}
		api.BadRequest(w, "invalid multipart form: "+err.Error())
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		api.BadRequest(w, "missing required field: file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		badBody(w, err)
		return
	}

	sess, err := h.Editor.Open(r.Context(), header.Filename, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(sess))
}

// GetEdit handles GET /v1/edits/{id}.
func (h *Handler) GetEdit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Editor.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(sess))
}

// DeleteEdit handles DELETE /v1/edits/{id}.
func (h *Handler) DeleteEdit(w http.ResponseWriter, r *http.Request) {
	if err := h.Editor.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(struct{}{}))
}

// ApplyEdit handles POST /v1/edits/{id}/operations.
func (h *Handler) ApplyEdit(w http.ResponseWriter, r *http.Request) {
	var op model.ImageOperation
	if err := decodeJSON(r, &op); err != nil {
		badBody(w, err)
		return
	}
	sess, err := h.Editor.Apply(r.Context(), chi.URLParam(r, "id"), op)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(sess))
}

// RevertEdit handles POST /v1/edits/{id}/revert.
func (h *Handler) RevertEdit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Editor.Revert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(sess))
}

// GetEditImage handles GET /v1/edits/{id}/image -- the current render.
func (h *Handler) GetEditImage(w http.ResponseWriter, r *http.Request) {
	data, format, err := h.Editor.Render(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", imageproc.ContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger().Warn("failed to write image", "error", err)
	}
}

// SaveEdit handles POST /v1/edits/{id}/save.
func (h *Handler) SaveEdit(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Editor.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(sess))
}
