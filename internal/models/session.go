package models

import "time"

// Session is a previously-transcribed recording. Transcription itself happens
// in an external GPU-bound pipeline; sessions arrive here already transcribed
// via the ingest endpoint.
type Session struct {
	ID             string    `badgerhold:"key" json:"id"`
	DisplayName    string    `json:"display_name"`
	TranscriptText string    `json:"transcript_text,omitempty"`
	RecordedAt     time.Time `json:"recorded_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
