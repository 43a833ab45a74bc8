package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/salesboard/internal/models"
	"github.com/starford/salesboard/internal/stages"
)

// ListStages handles GET /api/stages.
func (h *Handler) ListStages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stages": h.Stages.List(),
		"colors": stages.Colors,
	})
}

// CreateStage handles POST /api/stages.
//
//	@Summary		Append a user-defined stage
//	@Tags			stages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StageRequest	true	"Stage to create"
//	@Success		201		{object}	models.Stage
//	@Failure		400		{object}	errResponse
//	@Router			/stages [post]
func (h *Handler) CreateStage(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.Stages.Add(req.Title, req.Description, req.Color)
	if err != nil {
		writeError(w, "create stage", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// UpdateStage handles PUT /api/stages/{id}.
func (h *Handler) UpdateStage(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s, err := h.Stages.Update(models.Stage{
		ID:          chi.URLParam(r, "id"),
		Title:       req.Title,
		Description: req.Description,
		Color:       req.Color,
	})
	if err != nil {
		writeError(w, "update stage", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// DeleteStage handles DELETE /api/stages/{id}. Records keep the deleted id
// and show up under the unknown stage column.
func (h *Handler) DeleteStage(w http.ResponseWriter, r *http.Request) {
	if err := h.Stages.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, "delete stage", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
