package server

import (
	"net/http"

	"github.com/radekstepan/therascript-sub007/internal/handlers"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Analysis jobs
	mux.HandleFunc("POST /api/analysis", s.app.AnalysisHandler.SubmitHandler)
	mux.HandleFunc("GET /api/analysis", s.app.AnalysisHandler.ListHandler)
	mux.HandleFunc("GET /api/analysis/queue/stats", s.app.AnalysisHandler.QueueStatsHandler)
	mux.HandleFunc("GET /api/analysis/{id}", s.app.AnalysisHandler.GetHandler)
	mux.HandleFunc("POST /api/analysis/{id}/cancel", s.app.AnalysisHandler.CancelHandler)
	mux.HandleFunc("DELETE /api/analysis/{id}", s.app.AnalysisHandler.DeleteHandler)

	// Live progress (WebSocket)
	mux.HandleFunc("GET /api/analysis/{id}/events", s.app.StreamHandler.StreamEventsHandler)

	// Sessions (transcription output ingest)
	mux.HandleFunc("POST /api/sessions", s.app.SessionHandler.IngestHandler)
	mux.HandleFunc("GET /api/sessions", s.app.SessionHandler.ListHandler)
	mux.HandleFunc("GET /api/sessions/{id}", s.app.SessionHandler.GetHandler)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.app.SessionHandler.DeleteHandler)

	// Health
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}
