package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
)

// SessionHandler handles transcribed-session API requests. Transcription
// itself runs in an external pipeline; this surface ingests its output.
type SessionHandler struct {
	storage interfaces.SessionStorage
	logger  arbor.ILogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(storage interfaces.SessionStorage, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		storage: storage,
		logger:  logger,
	}
}

type ingestSessionRequest struct {
	DisplayName    string     `json:"displayName"`
	TranscriptText string     `json:"transcriptText"`
	RecordedAt     *time.Time `json:"recordedAt,omitempty"`
}

// IngestHandler stores one transcribed session
// POST /api/sessions
func (h *SessionHandler) IngestHandler(w http.ResponseWriter, r *http.Request) {
	var req ingestSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.TranscriptText) == "" {
		WriteError(w, http.StatusBadRequest, "transcriptText is required")
		return
	}

	now := time.Now().UTC()
	recordedAt := now
	if req.RecordedAt != nil {
		recordedAt = *req.RecordedAt
	}

	session := &models.Session{
		ID:             common.NewSessionID(),
		DisplayName:    req.DisplayName,
		TranscriptText: req.TranscriptText,
		RecordedAt:     recordedAt,
		CreatedAt:      now,
	}

	if err := h.storage.SaveSession(r.Context(), session); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save session")
		WriteError(w, http.StatusInternalServerError, "Failed to save session")
		return
	}

	WriteJSON(w, http.StatusCreated, session)
}

// ListHandler returns all sessions without transcript bodies
// GET /api/sessions
func (h *SessionHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.storage.ListSessions(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// GetHandler returns one session including its transcript
// GET /api/sessions/{id}
func (h *SessionHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	session, err := h.storage.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get session")
		WriteError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	WriteJSON(w, http.StatusOK, session)
}

// DeleteHandler removes one session
// DELETE /api/sessions/{id}
func (h *SessionHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	if err := h.storage.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to delete session")
		WriteError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	WriteSuccess(w, "Session deleted")
}
