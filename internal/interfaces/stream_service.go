package interfaces

import (
	"github.com/radekstepan/therascript-sub007/internal/models"
)

// StreamService is the fan-out broadcast channel for job progress events,
// keyed by job id. Delivery is ephemeral and best-effort: publishing never
// blocks on subscriber presence or speed, and subscribers that connect after
// an event was published do not receive it.
type StreamService interface {
	// Publish fills in the event's JobID and Timestamp and broadcasts it to
	// every current subscriber of that job. Failures are swallowed; progress
	// streaming must never abort orchestration.
	Publish(jobID string, event models.StreamEvent)

	// Subscribe returns a channel of events for one job plus an unsubscribe
	// function. The channel is closed on unsubscribe or service shutdown.
	// Multiple subscribers per job each receive every event independently.
	Subscribe(jobID string) (<-chan models.StreamEvent, func())

	// Close shuts down the service and closes all subscriber channels
	Close() error
}
