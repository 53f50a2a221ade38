package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/leca/yodel-image/internal/api"
	"github.com/leca/yodel-image/internal/generator"
	"github.com/leca/yodel-image/internal/model"
	"github.com/leca/yodel-image/internal/seed"
)

// generationItem is one entry of a generate or iterate response. Failed
// items carry Error and no Image.
type generationItem struct {
	Index int                   `json:"index"`
	Seed  int64                 `json:"seed"`
	Image *model.GeneratedImage `json:"image"`
	Error string                `json:"error,omitempty"`
}

// writeResults writes per-item outcomes. Any success makes the response a
// 200; when every item failed the first error decides the status.
func (h *Handler) writeResults(w http.ResponseWriter, r *http.Request, results []generator.Result) {
	items := make([]generationItem, len(results))
	var messages []api.APIMessage
	var firstErr error
	succeeded := 0
	for i, res := range results {
		items[i] = generationItem{Index: res.Index, Seed: res.Seed, Image: res.Image}
		if res.Err != nil {
			items[i].Error = res.Err.Error()
			messages = append(messages, api.APIMessage{
				Code:    9502,
				Message: fmt.Sprintf("image %d: %v", res.Index, res.Err),
			})
			if firstErr == nil {
				firstErr = res.Err
			}
			continue
		}
		succeeded++
	}
	if succeeded == 0 && firstErr != nil {
		h.writeError(w, r, firstErr)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.PartialResponse(map[string]interface{}{"images": items}, messages))
}

// CreateGeneration handles POST /v1/generations.
func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		model.GenerationInput
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &body); err != nil {
		badBody(w, err)
		return
	}
	if body.Quantity == 0 {
		body.Quantity = 1
	}

	results, err := h.Generator.Generate(r.Context(), body.GenerationInput, body.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResults(w, r, results)
}

// ListGenerations handles GET /v1/generations.
func (h *Handler) ListGenerations(w http.ResponseWriter, r *http.Request) {
	page := 1
	perPage := 100

	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("per_page"); v != "" {
		if pp, err := strconv.Atoi(v); err == nil && pp > 0 {
			if pp > 1000 {
				pp = 1000
			}
			perPage = pp
		}
	}

	all, err := h.Generator.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	total := len(all)
	start := total
	// Pages past the end are empty; checking first keeps the product from
	// overflowing.
	if page <= total/perPage+1 {
		start = min((page-1)*perPage, total)
	}
	end := min(start+perPage, total)
	images := all[start:end]

	// Ensure non-nil slice for JSON serialisation.
	if images == nil {
		images = []*model.GeneratedImage{}
	}

	info := api.ResultInfo{
		Page:       page,
		PerPage:    perPage,
		Count:      len(images),
		TotalCount: total,
		TotalPages: (total + perPage - 1) / perPage,
	}
	api.WriteJSON(w, http.StatusOK, api.PaginatedResponse(map[string]interface{}{"images": images}, info))
}

// ClearGenerations handles DELETE /v1/generations.
func (h *Handler) ClearGenerations(w http.ResponseWriter, r *http.Request) {
	if err := h.Generator.Clear(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(struct{}{}))
}

// GetGeneration handles GET /v1/generations/{id}.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	img, err := h.Generator.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(img))
}

// GetGenerationBlob handles GET /v1/generations/{id}/blob -- the image bytes.
func (h *Handler) GetGenerationBlob(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.Generator.Blob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger().Warn("failed to write image", "error", err)
	}
}

// IterateGeneration handles POST /v1/generations/{id}/iterations.
func (h *Handler) IterateGeneration(w http.ResponseWriter, r *http.Request) {
	var body struct {
		model.GenerationInput
		Quantity    int      `json:"quantity"`
		Temperature *float64 `json:"temperature"`
	}
	if err := decodeJSON(r, &body); err != nil {
		badBody(w, err)
		return
	}
	req := generator.IterateRequest{
		Input:       body.GenerationInput,
		Quantity:    body.Quantity,
		Temperature: seed.DefaultTemperature,
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if body.Temperature != nil {
		req.Temperature = *body.Temperature
	}

	results, err := h.Generator.Iterate(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeResults(w, r, results)
}

// UpscaleGeneration handles POST /v1/generations/{id}/upscale.
func (h *Handler) UpscaleGeneration(w http.ResponseWriter, r *http.Request) {
	img, err := h.Generator.Upscale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(img))
}

// SaveGeneration handles POST /v1/generations/{id}/save.
func (h *Handler) SaveGeneration(w http.ResponseWriter, r *http.Request) {
	img, err := h.Generator.Save(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, api.SuccessResponse(img))
}
