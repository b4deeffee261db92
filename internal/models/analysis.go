package models

import (
	"time"
)

// JobStatus represents the lifecycle state of an analysis job
type JobStatus string

const (
	JobStatusPending            JobStatus = "pending"
	JobStatusGeneratingStrategy JobStatus = "generating_strategy"
	JobStatusMapping            JobStatus = "mapping"
	JobStatusReducing           JobStatus = "reducing"
	JobStatusCompleted          JobStatus = "completed"
	JobStatusFailed             JobStatus = "failed"
	JobStatusCanceling          JobStatus = "canceling"
	JobStatusCanceled           JobStatus = "canceled"
)

// IsTerminal returns true for states the job can never leave
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCanceled
}

// Strategy is the sub-question plan derived once per job from the user's
// original prompt. IntermediateQuestion is asked independently against every
// session transcript; FinalSynthesisInstructions steer the reduce phase.
type Strategy struct {
	IntermediateQuestion       string `json:"intermediate_question"`
	FinalSynthesisInstructions string `json:"final_synthesis_instructions"`
}

// ModelOptions selects the LLM model for a job. Zero values mean
// "use the configured defaults". Resolved at submission time and carried on
// the job row so the orchestrator never consults mutable global state.
type ModelOptions struct {
	Name        string `json:"name,omitempty"`
	ContextSize int    `json:"context_size,omitempty"`
}

// AnalysisJob is one user-submitted multi-session analysis request.
//
// Invariants:
//   - FinalResult and ErrorMessage are mutually exclusive; both empty while
//     the job is non-terminal.
//   - CompletedAt is non-nil iff Status is terminal.
type AnalysisJob struct {
	ID             string     `badgerhold:"key" json:"id"`
	OriginalPrompt string     `json:"original_prompt"`
	ShortPrompt    string     `json:"short_prompt"`
	SessionIDs     []string   `json:"session_ids"`
	Status         JobStatus  `badgerhold:"index" json:"status"`
	ModelName      string     `json:"model_name,omitempty"`
	ContextSize    int        `json:"context_size,omitempty"`
	Strategy       *Strategy  `json:"strategy,omitempty"`
	FinalResult    string     `json:"final_result,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ModelOptions returns the job's model selection.
func (j *AnalysisJob) ModelOptions() ModelOptions {
	return ModelOptions{Name: j.ModelName, ContextSize: j.ContextSize}
}

// SummaryStatus represents the lifecycle state of one per-session summary row
type SummaryStatus string

const (
	SummaryStatusPending    SummaryStatus = "pending"
	SummaryStatusProcessing SummaryStatus = "processing"
	SummaryStatusCompleted  SummaryStatus = "completed"
	SummaryStatusFailed     SummaryStatus = "failed"
)

// IsTerminal returns true once the row can no longer change
func (s SummaryStatus) IsTerminal() bool {
	return s == SummaryStatusCompleted || s == SummaryStatusFailed
}

// IntermediateSummary is the map-stage result for one (job, session) pair.
// Exactly one row exists per pair, created in bulk at map-stage start.
// Rows are never mutated after the map stage ends and are destroyed only by
// cascading deletion of the parent job.
type IntermediateSummary struct {
	ID            string        `badgerhold:"key" json:"id"`
	AnalysisJobID string        `badgerhold:"index" json:"analysis_job_id"`
	SessionID     string        `json:"session_id"`
	Position      int           `json:"position"` // index into the job's session list, preserves map order on reads
	SummaryText   string        `json:"summary_text,omitempty"`
	Status        SummaryStatus `json:"status"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SummaryView is an IntermediateSummary enriched with the session's display
// name for the job-read surface.
type SummaryView struct {
	IntermediateSummary
	SessionName string `json:"session_name"`
}

// JobDetail is a job together with its enriched summary rows.
type JobDetail struct {
	AnalysisJob
	Summaries []SummaryView `json:"summaries"`
}
