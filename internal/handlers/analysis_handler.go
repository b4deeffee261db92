package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/services/analysis"
)

// AnalysisHandler handles analysis job API requests
type AnalysisHandler struct {
	service *analysis.Service
	logger  arbor.ILogger
}

// NewAnalysisHandler creates a new analysis handler
func NewAnalysisHandler(service *analysis.Service, logger arbor.ILogger) *AnalysisHandler {
	return &AnalysisHandler{
		service: service,
		logger:  logger,
	}
}

// SubmitHandler accepts a new analysis job
// POST /api/analysis
func (h *AnalysisHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req analysis.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	job, err := h.service.Submit(r.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid submission") {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to submit analysis job")
		WriteError(w, http.StatusInternalServerError, "Failed to submit analysis job")
		return
	}

	WriteJSON(w, http.StatusAccepted, job)
}

// ListHandler returns all analysis jobs, newest first
// GET /api/analysis
func (h *AnalysisHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list analysis jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list analysis jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetHandler returns one job with its summary rows
// GET /api/analysis/{id}
func (h *AnalysisHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	detail, err := h.service.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Analysis job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get analysis job")
		WriteError(w, http.StatusInternalServerError, "Failed to get analysis job")
		return
	}

	WriteJSON(w, http.StatusOK, detail)
}

// CancelHandler requests cooperative cancellation
// POST /api/analysis/{id}/cancel
func (h *AnalysisHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, models.ErrJobNotFound):
			WriteError(w, http.StatusNotFound, "Analysis job not found")
		case errors.Is(err, models.ErrJobTerminal):
			WriteError(w, http.StatusConflict, "Analysis job already finished")
		default:
			h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel analysis job")
			WriteError(w, http.StatusInternalServerError, "Failed to cancel analysis job")
		}
		return
	}

	WriteSuccess(w, "Cancellation requested")
}

// DeleteHandler removes a job and its summaries
// DELETE /api/analysis/{id}
func (h *AnalysisHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.Delete(r.Context(), jobID); err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, "Analysis job not found")
			return
		}
		h.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to delete analysis job")
		WriteError(w, http.StatusInternalServerError, "Failed to delete analysis job")
		return
	}

	WriteSuccess(w, "Analysis job deleted")
}

// QueueStatsHandler reports waiting/active/delayed queue counts
// GET /api/analysis/queue/stats
func (h *AnalysisHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.QueueCounts(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read queue counts")
		WriteError(w, http.StatusInternalServerError, "Failed to read queue counts")
		return
	}

	WriteJSON(w, http.StatusOK, counts)
}
