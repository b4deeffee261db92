package interfaces

import (
	"context"

	"github.com/radekstepan/therascript-sub007/internal/models"
)

// SummaryUpdate mutates one intermediate summary row. Nil pointer fields are
// left untouched.
type SummaryUpdate struct {
	Status models.SummaryStatus
	Text   *string
	Error  *string
}

// AnalysisStorage is the durable store for analysis jobs and their
// intermediate summaries - the single source of truth for job state.
//
// All mutations are single-row, last-writer-wins: exactly one orchestrator
// instance owns a given job at a time, so no optimistic concurrency is
// needed. Mutations targeting a missing job row are no-ops (the job was
// deleted out from under a running orchestrator), with the exception of
// RequestCancel and DeleteJob which report ErrJobNotFound.
type AnalysisStorage interface {
	CreateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, id string) (*models.AnalysisJob, error)
	ListJobs(ctx context.Context) ([]*models.AnalysisJob, error)

	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error
	SetStrategy(ctx context.Context, id string, strategy *models.Strategy) error
	SetFinalResult(ctx context.Context, id string, text string) error
	SetJobError(ctx context.Context, id string, message string) error

	// RequestCancel flips a non-terminal job to canceling - the only
	// externally-writable status transition. Returns ErrJobTerminal if the
	// job already finished.
	RequestCancel(ctx context.Context, id string) error

	// DeleteJob removes the job and cascades to its summary rows.
	DeleteJob(ctx context.Context, id string) error

	// CreateSummaries inserts one pending summary row per session id, in
	// session list order.
	CreateSummaries(ctx context.Context, jobID string, sessionIDs []string) ([]*models.IntermediateSummary, error)
	UpdateSummary(ctx context.Context, id string, update SummaryUpdate) error
	GetSummariesForJob(ctx context.Context, jobID string) ([]*models.IntermediateSummary, error)
}

// SessionStorage stores transcribed sessions
type SessionStorage interface {
	SaveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	AnalysisStorage() AnalysisStorage
	SessionStorage() SessionStorage
	Close() error
}
