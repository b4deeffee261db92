package models

import "time"

// StreamPhase identifies which stage of the pipeline an event belongs to
type StreamPhase string

const (
	PhaseStrategy StreamPhase = "strategy"
	PhaseMap      StreamPhase = "map"
	PhaseReduce   StreamPhase = "reduce"
	PhaseStatus   StreamPhase = "status"
)

// StreamEventType identifies the kind of progress event
type StreamEventType string

const (
	EventStart  StreamEventType = "start"
	EventToken  StreamEventType = "token"
	EventEnd    StreamEventType = "end"
	EventError  StreamEventType = "error"
	EventStatus StreamEventType = "status"
)

// StreamEvent is a transient progress message broadcast on a job's event
// channel. Events are best-effort, at-most-once, and never replayed to late
// subscribers. Within one job the publishing orchestrator's program order is
// preserved; no ordering holds across jobs.
type StreamEvent struct {
	JobID            string          `json:"jobId"`
	Timestamp        time.Time       `json:"timestamp"`
	Phase            StreamPhase     `json:"phase"`
	Type             StreamEventType `json:"type"`
	SessionID        string          `json:"sessionId,omitempty"`
	SummaryID        string          `json:"summaryId,omitempty"`
	Delta            string          `json:"delta,omitempty"`
	Status           JobStatus       `json:"status,omitempty"`
	Message          string          `json:"message,omitempty"`
	PromptTokens     int             `json:"promptTokens,omitempty"`
	CompletionTokens int             `json:"completionTokens,omitempty"`
	DurationMs       int64           `json:"durationMs,omitempty"`
}
