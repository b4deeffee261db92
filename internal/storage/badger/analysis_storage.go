package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
)

// AnalysisStorage implements the AnalysisStorage interface for Badger.
// Jobs and summaries share the store; summaries are indexed by their
// owning job id so cascade deletes stay cheap.
type AnalysisStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAnalysisStorage creates a new AnalysisStorage instance
func NewAnalysisStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AnalysisStorage {
	return &AnalysisStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AnalysisStorage) CreateJob(ctx context.Context, job *models.AnalysisJob) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if err := s.db.Store().Insert(job.ID, *job); err != nil {
		return fmt.Errorf("failed to insert analysis job: %w", err)
	}

	s.logger.Debug().
		Str("job_id", job.ID).
		Int("session_count", len(job.SessionIDs)).
		Msg("Analysis job created")
	return nil
}

func (s *AnalysisStorage) GetJob(ctx context.Context, id string) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get analysis job: %w", err)
	}
	return &job, nil
}

func (s *AnalysisStorage) ListJobs(ctx context.Context) ([]*models.AnalysisJob, error) {
	var jobs []models.AnalysisJob
	if err := s.db.Store().Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list analysis jobs: %w", err)
	}

	// Newest first
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	result := make([]*models.AnalysisJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// mutateJob applies fn to the job row if it still exists. A missing row is a
// no-op: a running orchestrator whose job was deleted must not fail on its
// remaining writes.
func (s *AnalysisStorage) mutateJob(id string, fn func(*models.AnalysisJob)) error {
	var job models.AnalysisJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			s.logger.Debug().Str("job_id", id).Msg("Write to missing analysis job ignored")
			return nil
		}
		return fmt.Errorf("failed to load analysis job: %w", err)
	}

	fn(&job)
	job.UpdatedAt = time.Now()
	if job.Status.IsTerminal() && job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}

	if err := s.db.Store().Update(id, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to update analysis job: %w", err)
	}
	return nil
}

func (s *AnalysisStorage) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus) error {
	return s.mutateJob(id, func(job *models.AnalysisJob) {
		job.Status = status
	})
}

func (s *AnalysisStorage) SetStrategy(ctx context.Context, id string, strategy *models.Strategy) error {
	return s.mutateJob(id, func(job *models.AnalysisJob) {
		job.Strategy = strategy
	})
}

func (s *AnalysisStorage) SetFinalResult(ctx context.Context, id string, text string) error {
	return s.mutateJob(id, func(job *models.AnalysisJob) {
		job.FinalResult = text
		job.ErrorMessage = ""
		job.Status = models.JobStatusCompleted
	})
}

func (s *AnalysisStorage) SetJobError(ctx context.Context, id string, message string) error {
	return s.mutateJob(id, func(job *models.AnalysisJob) {
		job.ErrorMessage = message
		job.FinalResult = ""
		job.Status = models.JobStatusFailed
	})
}

func (s *AnalysisStorage) RequestCancel(ctx context.Context, id string) error {
	var job models.AnalysisJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrJobNotFound
		}
		return fmt.Errorf("failed to load analysis job: %w", err)
	}

	if job.Status.IsTerminal() {
		return models.ErrJobTerminal
	}

	job.Status = models.JobStatusCanceling
	job.UpdatedAt = time.Now()
	if err := s.db.Store().Update(id, job); err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}

	s.logger.Info().Str("job_id", id).Msg("Cancellation requested")
	return nil
}

func (s *AnalysisStorage) DeleteJob(ctx context.Context, id string) error {
	var job models.AnalysisJob
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return models.ErrJobNotFound
		}
		return fmt.Errorf("failed to load analysis job: %w", err)
	}

	if err := s.db.Store().Delete(id, &models.AnalysisJob{}); err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete analysis job: %w", err)
	}

	// Cascade to summary rows
	if err := s.db.Store().DeleteMatching(&models.IntermediateSummary{},
		badgerhold.Where("AnalysisJobID").Eq(id).Index("AnalysisJobID")); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Msg("Failed to cascade-delete summaries")
	}

	s.logger.Info().Str("job_id", id).Msg("Analysis job deleted")
	return nil
}

func (s *AnalysisStorage) CreateSummaries(ctx context.Context, jobID string, sessionIDs []string) ([]*models.IntermediateSummary, error) {
	now := time.Now()
	summaries := make([]*models.IntermediateSummary, 0, len(sessionIDs))

	for i, sessionID := range sessionIDs {
		summary := &models.IntermediateSummary{
			ID:            common.NewSummaryID(),
			AnalysisJobID: jobID,
			SessionID:     sessionID,
			Position:      i,
			Status:        models.SummaryStatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.db.Store().Insert(summary.ID, *summary); err != nil {
			return nil, fmt.Errorf("failed to insert summary for session %s: %w", sessionID, err)
		}
		summaries = append(summaries, summary)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("count", len(summaries)).
		Msg("Intermediate summary rows created")
	return summaries, nil
}

func (s *AnalysisStorage) UpdateSummary(ctx context.Context, id string, update interfaces.SummaryUpdate) error {
	var summary models.IntermediateSummary
	if err := s.db.Store().Get(id, &summary); err != nil {
		if err == badgerhold.ErrNotFound {
			s.logger.Debug().Str("summary_id", id).Msg("Write to missing summary ignored")
			return nil
		}
		return fmt.Errorf("failed to load summary: %w", err)
	}

	if update.Status != "" {
		summary.Status = update.Status
	}
	if update.Text != nil {
		summary.SummaryText = *update.Text
	}
	if update.Error != nil {
		summary.ErrorMessage = *update.Error
	}
	summary.UpdatedAt = time.Now()

	if err := s.db.Store().Update(id, summary); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to update summary: %w", err)
	}

	// The maintenance sweep judges orchestrator liveness by the job row's
	// UpdatedAt; during the map phase only summary rows are written, so each
	// summary write must also touch the parent.
	if err := s.mutateJob(summary.AnalysisJobID, func(*models.AnalysisJob) {}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", summary.AnalysisJobID).Msg("Failed to touch parent job")
	}
	return nil
}

func (s *AnalysisStorage) GetSummariesForJob(ctx context.Context, jobID string) ([]*models.IntermediateSummary, error) {
	var summaries []models.IntermediateSummary
	if err := s.db.Store().Find(&summaries,
		badgerhold.Where("AnalysisJobID").Eq(jobID).Index("AnalysisJobID")); err != nil {
		return nil, fmt.Errorf("failed to find summaries: %w", err)
	}

	// Session list order
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Position < summaries[j].Position
	})

	result := make([]*models.IntermediateSummary, len(summaries))
	for i := range summaries {
		result[i] = &summaries[i]
	}
	return result, nil
}
