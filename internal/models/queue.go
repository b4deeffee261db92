package models

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNoMessage is returned when the queue has no visible message
var ErrNoMessage = errors.New("no messages in queue")

// Job type constants for queue messages. Transcription runs in an external
// pipeline with its own serialized queue; only analysis is processed here.
const (
	JobTypeAnalysis = "analysis"
)

// QueueMessage is the payload enqueued for background processing. The row in
// the job store is the source of truth; the message carries only the pointer.
type QueueMessage struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ToJSON serializes the message for queue storage
func (m *QueueMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// QueueMessageFromJSON deserializes a queue message
func QueueMessageFromJSON(data []byte) (*QueueMessage, error) {
	var msg QueueMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// QueueCounts is a point-in-time view of the queue for observability.
// Waiting messages are visible and deliverable now, active messages are
// checked out by a worker (inside their visibility window), delayed messages
// are not yet visible and have never been delivered.
type QueueCounts struct {
	Waiting int `json:"waiting"`
	Active  int `json:"active"`
	Delayed int `json:"delayed"`
}
