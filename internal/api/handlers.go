package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/renderpipe/engine/internal/orchestrator"
	"github.com/renderpipe/engine/internal/progresscache"
	"github.com/renderpipe/engine/internal/store"
)

// Handler wraps the orchestrator and progress cache behind the thin HTTP
// surface this pipeline exposes. Full project/segment CRUD lives outside
// this service — this is deliberately not a REST resource API.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	cache        *progresscache.Cache
}

func NewHandler(o *orchestrator.Orchestrator, c *progresscache.Cache) *Handler {
	return &Handler{orchestrator: o, cache: c}
}

// CreateRenderResponse mirrors the RenderJob fields a caller needs to poll
// progress or discover the final asset once done.
type CreateRenderResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	SegmentsTotal     int    `json:"segments_total"`
	SegmentsCompleted int    `json:"segments_completed"`
}

// CreateRender handles POST /v1/projects/{id}/renders — the orchestration
// core's one synchronous entry point.
func (h *Handler) CreateRender(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	renderJob, err := h.orchestrator.CreateRender(r.Context(), projectID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "project not found")
		case errors.Is(err, orchestrator.ErrEmptyProject):
			respondError(w, http.StatusUnprocessableEntity, "project has no segments")
		default:
			respondError(w, http.StatusInternalServerError, "failed to create render")
		}
		return
	}

	respondJSON(w, http.StatusCreated, CreateRenderResponse{
		ID:                renderJob.ID.String(),
		Status:            string(renderJob.Status),
		SegmentsTotal:     renderJob.SegmentsTotal,
		SegmentsCompleted: renderJob.SegmentsCompleted,
	})
}

// GetRenderProgress handles GET /v1/renders/{id}/progress, reading the
// advisory progress cache — the fast path clients should poll instead of
// hitting the state store directly.
func (h *Handler) GetRenderProgress(w http.ResponseWriter, r *http.Request) {
	renderJobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid render job id")
		return
	}

	progress, err := h.cache.GetProgress(r.Context(), renderJobID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read progress")
		return
	}
	if progress == nil {
		respondError(w, http.StatusNotFound, "progress not found")
		return
	}

	respondJSON(w, http.StatusOK, progress)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
