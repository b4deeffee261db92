package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// StreamHandler bridges a job's event stream to WebSocket clients. Each
// connection gets its own subscription; token events may be throttled per
// connection so a fast model does not flood slow clients. Events published
// before the client connects are not replayed.
type StreamHandler struct {
	events        interfaces.StreamService
	tokenInterval time.Duration
	logger        arbor.ILogger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(events interfaces.StreamService, config *common.WebSocketConfig, logger arbor.ILogger) *StreamHandler {
	var tokenInterval time.Duration
	if config != nil && config.TokenInterval != "" {
		if d, err := time.ParseDuration(config.TokenInterval); err == nil {
			tokenInterval = d
		} else {
			logger.Warn().
				Str("token_interval", config.TokenInterval).
				Msg("Invalid websocket token_interval, throttling disabled")
		}
	}

	return &StreamHandler{
		events:        events,
		tokenInterval: tokenInterval,
		logger:        logger,
	}
}

// StreamEventsHandler upgrades the connection and forwards the job's events
// until the client disconnects or the stream closes
// GET /api/analysis/{id}/events
func (h *StreamHandler) StreamEventsHandler(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	eventCh, unsubscribe := h.events.Subscribe(jobID)
	defer unsubscribe()

	h.logger.Debug().Str("job_id", jobID).Msg("Stream client connected")

	// Read pump: discard client messages, detect disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var tokenThrottle *rate.Limiter
	if h.tokenInterval > 0 {
		tokenThrottle = rate.NewLimiter(rate.Every(h.tokenInterval), 1)
	}

	for {
		select {
		case <-done:
			h.logger.Debug().Str("job_id", jobID).Msg("Stream client disconnected")
			return

		case event, ok := <-eventCh:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream closed"))
				return
			}

			// Only token events are throttled; lifecycle events always go out
			if event.Type == models.EventToken && tokenThrottle != nil && !tokenThrottle.Allow() {
				continue
			}

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug().Err(err).Str("job_id", jobID).Msg("Stream write failed, closing")
				return
			}
		}
	}
}
