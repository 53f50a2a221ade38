package handler

import (
	"net/http"

	"github.com/leca/yodel-image/internal/api"
	"github.com/leca/yodel-image/internal/metadata"
)

// GenerateMetadata handles POST /v1/metadata.
func (h *Handler) GenerateMetadata(w http.ResponseWriter, r *http.Request) {
	var req metadata.Request
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}
	res, err := h.Metadata.Generate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(res))
}
