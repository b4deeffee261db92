package interfaces

import "context"

// TranscriptProvider resolves a session id to its transcript text and display
// name. The map stage depends on this narrow view rather than on the full
// session store.
type TranscriptProvider interface {
	// Transcript returns the session's full transcript text. An error means
	// the transcript is unavailable; the map stage records it against that
	// session's summary row and moves on.
	Transcript(ctx context.Context, sessionID string) (string, error)

	// SessionName returns the session's display name, falling back to the id
	// when the session is unknown.
	SessionName(ctx context.Context, sessionID string) string
}
