package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/queue"
)

// Sweeper is the restart-recovery job. On a schedule it re-enqueues pending
// jobs whose queue message was lost (fire-and-forget enqueue failed, or the
// process died between insert and enqueue) and fails jobs stranded
// mid-pipeline by a crash. Staleness is judged by UpdatedAt so a live
// orchestrator, which touches its row at every transition and every summary
// write, is never swept.
type Sweeper struct {
	storage        interfaces.AnalysisStorage
	queueMgr       *queue.Manager
	cron           *cron.Cron
	schedule       string
	staleThreshold time.Duration
	logger         arbor.ILogger
}

// NewSweeper creates the maintenance sweeper
func NewSweeper(
	storage interfaces.AnalysisStorage,
	queueMgr *queue.Manager,
	schedule string,
	staleThreshold time.Duration,
	logger arbor.ILogger,
) *Sweeper {
	return &Sweeper{
		storage:        storage,
		queueMgr:       queueMgr,
		cron:           cron.New(),
		schedule:       schedule,
		staleThreshold: staleThreshold,
		logger:         logger,
	}
}

// Start registers the sweep on the cron schedule and runs one immediate sweep
// to recover from the previous shutdown.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("invalid sweeper schedule '%s': %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("stale_threshold", s.staleThreshold).
		Msg("Maintenance sweeper started")

	go s.Sweep(context.Background())
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Maintenance sweeper stopped")
}

// Sweep performs one pass over all jobs
func (s *Sweeper) Sweep(ctx context.Context) {
	jobs, err := s.storage.ListJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed to list jobs")
		return
	}

	cutoff := time.Now().UTC().Add(-s.staleThreshold)
	requeued := 0
	failed := 0

	for _, job := range jobs {
		if job.Status.IsTerminal() || job.UpdatedAt.After(cutoff) {
			continue
		}

		switch job.Status {
		case models.JobStatusPending:
			// The row exists but no worker ever picked it up; the queue
			// message was lost. Duplicate delivery is harmless because the
			// orchestrator re-reads the row on entry.
			msg := models.QueueMessage{
				ID:         job.ID,
				Type:       models.JobTypeAnalysis,
				JobID:      job.ID,
				EnqueuedAt: time.Now().UTC(),
			}
			if err := s.queueMgr.Enqueue(ctx, msg); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Sweep failed to re-enqueue pending job")
				continue
			}
			requeued++
			s.logger.Info().Str("job_id", job.ID).Msg("Re-enqueued stale pending job")

		case models.JobStatusCanceling:
			// The owning orchestrator died before observing the flag
			if err := s.storage.UpdateJobStatus(ctx, job.ID, models.JobStatusCanceled); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Sweep failed to finalize canceling job")
				continue
			}
			failed++
			s.logger.Info().Str("job_id", job.ID).Msg("Finalized orphaned canceling job")

		default:
			// generating_strategy, mapping or reducing with no recent writes
			// means the owning orchestrator is gone
			if err := s.storage.SetJobError(ctx, job.ID, "processing interrupted by server restart"); err != nil {
				s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Sweep failed to fail orphaned job")
				continue
			}
			failed++
			s.logger.Info().
				Str("job_id", job.ID).
				Str("status", string(job.Status)).
				Msg("Failed orphaned in-flight job")
		}
	}

	if requeued > 0 || failed > 0 {
		s.logger.Info().
			Int("requeued", requeued).
			Int("finalized", failed).
			Msg("Sweep completed")
	}
}
