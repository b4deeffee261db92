package sessions

import (
	"context"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/interfaces"
)

// Provider resolves session ids to transcript text and display names by
// reading the session store. It implements interfaces.TranscriptProvider.
type Provider struct {
	storage interfaces.SessionStorage
	logger  arbor.ILogger
}

// NewProvider creates a transcript provider backed by the session store
func NewProvider(storage interfaces.SessionStorage, logger arbor.ILogger) *Provider {
	return &Provider{
		storage: storage,
		logger:  logger,
	}
}

// Transcript returns the session's full transcript text. A missing session or
// an empty transcript is an error so the map stage can record it against the
// session's summary row.
func (p *Provider) Transcript(ctx context.Context, sessionID string) (string, error) {
	session, err := p.storage.GetSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("transcript unavailable for session %s: %w", sessionID, err)
	}

	if strings.TrimSpace(session.TranscriptText) == "" {
		return "", fmt.Errorf("transcript unavailable for session %s: empty transcript", sessionID)
	}

	return session.TranscriptText, nil
}

// SessionName returns the session's display name, falling back to the id when
// the session is unknown or unnamed.
func (p *Provider) SessionName(ctx context.Context, sessionID string) string {
	session, err := p.storage.GetSession(ctx, sessionID)
	if err != nil {
		p.logger.Debug().
			Str("session_id", sessionID).
			Msg("Session name lookup failed, falling back to id")
		return sessionID
	}

	if session.DisplayName == "" {
		return sessionID
	}
	return session.DisplayName
}
