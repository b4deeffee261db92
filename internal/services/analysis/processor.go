package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
)

// LLMProvider resolves a model name (possibly empty) to an LLM service and
// the concrete model to request. The llm.Factory satisfies this; tests
// substitute fakes.
type LLMProvider interface {
	ServiceFor(model string) (interfaces.LLMService, string, error)
}

// Processor drives one analysis job through its state machine:
// pending -> generating_strategy -> mapping -> reducing -> completed, with
// failed reachable from any non-terminal state and canceling -> canceled via
// external request. It is the unit of work pulled off the queue; exactly one
// Processor invocation owns a given job at a time.
type Processor struct {
	storage            interfaces.AnalysisStorage
	transcripts        interfaces.TranscriptProvider
	llm                LLMProvider
	events             interfaces.StreamService
	defaultContextSize int
	logger             arbor.ILogger
}

// NewProcessor creates the analysis job processor
func NewProcessor(
	storage interfaces.AnalysisStorage,
	transcripts interfaces.TranscriptProvider,
	llmProvider LLMProvider,
	events interfaces.StreamService,
	defaultContextSize int,
	logger arbor.ILogger,
) *Processor {
	return &Processor{
		storage:            storage,
		transcripts:        transcripts,
		llm:                llmProvider,
		events:             events,
		defaultContextSize: defaultContextSize,
		logger:             logger,
	}
}

// HandleMessage adapts Process to the queue worker's handler signature
func (p *Processor) HandleMessage(ctx context.Context, msg *models.QueueMessage) error {
	return p.Process(ctx, msg.JobID)
}

// Process runs the full pipeline for one job id. All job-fatal errors are
// absorbed here: they are written to the job row and published, never
// returned, so the queue sees every invocation as handled. The returned error
// is non-nil only for infrastructure failures worth logging at the worker.
func (p *Processor) Process(ctx context.Context, jobID string) error {
	job, err := p.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			p.logger.Debug().Str("job_id", jobID).Msg("Job not found at processing start, skipping")
			return nil
		}
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	// Duplicate queue delivery defense: only a pending job may be started.
	// A canceling job is finalized; anything else is already owned or done.
	switch {
	case job.Status.IsTerminal():
		p.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Job already terminal, skipping")
		return nil
	case job.Status == models.JobStatusCanceling:
		p.finalizeCanceled(ctx, jobID)
		return nil
	case job.Status != models.JobStatusPending:
		p.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Job is already being processed, skipping duplicate delivery")
		return nil
	}

	p.logger.Info().
		Str("job_id", jobID).
		Int("session_count", len(job.SessionIDs)).
		Str("model", job.ModelName).
		Msg("Starting analysis job")

	// Strategy phase
	strategy, ok := p.runStrategyPhase(ctx, job)
	if !ok {
		return nil
	}

	if p.checkpoint(ctx, jobID) {
		return nil
	}

	// Map phase
	completed, ok := p.runMapPhase(ctx, job, strategy)
	if !ok {
		return nil
	}

	if len(completed) == 0 {
		p.failJob(ctx, jobID, models.PhaseMap, fmt.Errorf("no session could be summarized"))
		return nil
	}

	if p.checkpoint(ctx, jobID) {
		return nil
	}

	// Reduce phase
	p.runReducePhase(ctx, job, strategy, completed)
	return nil
}

// checkpoint re-reads the job status and reports whether processing must
// stop. A canceling job is transitioned to canceled here; a deleted job is
// treated as disappearance and stopped quietly.
func (p *Processor) checkpoint(ctx context.Context, jobID string) (stop bool) {
	job, err := p.storage.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			p.logger.Info().Str("job_id", jobID).Msg("Job deleted mid-flight, stopping")
			return true
		}
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Cancellation check failed, continuing")
		return false
	}

	if job.Status == models.JobStatusCanceling {
		p.finalizeCanceled(ctx, jobID)
		return true
	}
	if job.Status.IsTerminal() {
		return true
	}
	return false
}

// finalizeCanceled completes a cooperative cancellation
func (p *Processor) finalizeCanceled(ctx context.Context, jobID string) {
	if err := p.storage.UpdateJobStatus(ctx, jobID, models.JobStatusCanceled); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist canceled status")
	}
	p.events.Publish(jobID, models.StreamEvent{
		Phase:  models.PhaseStatus,
		Type:   models.EventStatus,
		Status: models.JobStatusCanceled,
	})
	p.logger.Info().Str("job_id", jobID).Msg("Analysis job canceled")
}

// failJob records a job-fatal error and publishes it on the given phase
func (p *Processor) failJob(ctx context.Context, jobID string, phase models.StreamPhase, cause error) {
	if err := p.storage.SetJobError(ctx, jobID, cause.Error()); err != nil {
		p.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to persist job error")
	}
	p.events.Publish(jobID, models.StreamEvent{
		Phase:   phase,
		Type:    models.EventError,
		Message: cause.Error(),
	})
	p.events.Publish(jobID, models.StreamEvent{
		Phase:  models.PhaseStatus,
		Type:   models.EventStatus,
		Status: models.JobStatusFailed,
	})
	p.logger.Warn().
		Err(cause).
		Str("job_id", jobID).
		Str("phase", string(phase)).
		Msg("Analysis job failed")
}

// setStatus persists a status transition and publishes it
func (p *Processor) setStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	if err := p.storage.UpdateJobStatus(ctx, jobID, status); err != nil {
		return err
	}
	p.events.Publish(jobID, models.StreamEvent{
		Phase:  models.PhaseStatus,
		Type:   models.EventStatus,
		Status: status,
	})
	return nil
}

// contextSize resolves the job's token budget hint
func (p *Processor) contextSize(opts models.ModelOptions) int {
	if opts.ContextSize > 0 {
		return opts.ContextSize
	}
	return p.defaultContextSize
}

// runStrategyPhase derives the intermediate-question / synthesis-instructions
// pair from the original prompt. Failure here is job-fatal.
func (p *Processor) runStrategyPhase(ctx context.Context, job *models.AnalysisJob) (*models.Strategy, bool) {
	if err := p.setStatus(ctx, job.ID, models.JobStatusGeneratingStrategy); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist generating_strategy status")
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase: models.PhaseStrategy,
		Type:  models.EventStart,
	})

	service, model, err := p.llm.ServiceFor(job.ModelOptions().Name)
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseStrategy, fmt.Errorf("strategy generation failed: %w", err))
		return nil, false
	}

	startTime := time.Now()
	result, err := service.GenerateStream(ctx, &interfaces.GenerateRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: buildStrategyPrompt(job.OriginalPrompt, len(job.SessionIDs))},
		},
		Model:             model,
		SystemInstruction: strategySystemInstruction,
	}, func(delta string) {
		p.events.Publish(job.ID, models.StreamEvent{
			Phase: models.PhaseStrategy,
			Type:  models.EventToken,
			Delta: delta,
		})
	})
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseStrategy, fmt.Errorf("strategy generation failed: %w", err))
		return nil, false
	}

	strategy, err := parseStrategyResponse(result.Text)
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseStrategy, fmt.Errorf("strategy generation failed: %w", err))
		return nil, false
	}

	if err := p.storage.SetStrategy(ctx, job.ID, strategy); err != nil {
		p.failJob(ctx, job.ID, models.PhaseStrategy, fmt.Errorf("failed to persist strategy: %w", err))
		return nil, false
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase:            models.PhaseStrategy,
		Type:             models.EventEnd,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		DurationMs:       time.Since(startTime).Milliseconds(),
	})

	p.logger.Debug().
		Str("job_id", job.ID).
		Str("intermediate_question", strategy.IntermediateQuestion).
		Msg("Strategy generated")

	return strategy, true
}

// runMapPhase answers the intermediate question against each session's
// transcript in list order, one summary row per session. A single session's
// failure is recorded on its row and does not abort the job. Returns the
// completed summaries attributed to their sessions, and false when processing
// stopped at a cancellation checkpoint.
func (p *Processor) runMapPhase(ctx context.Context, job *models.AnalysisJob, strategy *models.Strategy) ([]attributedSummary, bool) {
	if err := p.setStatus(ctx, job.ID, models.JobStatusMapping); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist mapping status")
	}

	summaries, err := p.storage.CreateSummaries(ctx, job.ID, job.SessionIDs)
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseMap, fmt.Errorf("failed to create summary rows: %w", err))
		return nil, false
	}

	opts := job.ModelOptions()
	service, model, err := p.llm.ServiceFor(opts.Name)
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseMap, fmt.Errorf("map phase failed: %w", err))
		return nil, false
	}

	contextSize := p.contextSize(opts)
	var completed []attributedSummary

	for _, summary := range summaries {
		if p.checkpoint(ctx, job.ID) {
			return nil, false
		}
		p.mapOneSession(ctx, job, strategy, service, model, contextSize, summary, &completed)
	}

	p.logger.Info().
		Str("job_id", job.ID).
		Int("session_count", len(summaries)).
		Int("completed", len(completed)).
		Msg("Map phase finished")

	return completed, true
}

// mapOneSession runs the per-session LLM call and records the outcome on the
// summary row. Failures are isolated to the row.
func (p *Processor) mapOneSession(
	ctx context.Context,
	job *models.AnalysisJob,
	strategy *models.Strategy,
	service interfaces.LLMService,
	model string,
	contextSize int,
	summary *models.IntermediateSummary,
	completed *[]attributedSummary,
) {
	sessionName := p.transcripts.SessionName(ctx, summary.SessionID)

	if err := p.storage.UpdateSummary(ctx, summary.ID, interfaces.SummaryUpdate{
		Status: models.SummaryStatusProcessing,
	}); err != nil {
		p.logger.Warn().Err(err).Str("summary_id", summary.ID).Msg("Failed to mark summary processing")
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase:     models.PhaseMap,
		Type:      models.EventStart,
		SessionID: summary.SessionID,
		SummaryID: summary.ID,
	})

	failSession := func(cause error) {
		msg := cause.Error()
		if err := p.storage.UpdateSummary(ctx, summary.ID, interfaces.SummaryUpdate{
			Status: models.SummaryStatusFailed,
			Error:  &msg,
		}); err != nil {
			p.logger.Warn().Err(err).Str("summary_id", summary.ID).Msg("Failed to mark summary failed")
		}
		p.events.Publish(job.ID, models.StreamEvent{
			Phase:     models.PhaseMap,
			Type:      models.EventError,
			SessionID: summary.SessionID,
			SummaryID: summary.ID,
			Message:   msg,
		})
		p.logger.Warn().
			Err(cause).
			Str("job_id", job.ID).
			Str("session_id", summary.SessionID).
			Msg("Session summarization failed, continuing with remaining sessions")
	}

	transcript, err := p.transcripts.Transcript(ctx, summary.SessionID)
	if err != nil {
		failSession(err)
		return
	}
	transcript = truncateTranscript(transcript, contextSize)

	startTime := time.Now()
	result, err := service.GenerateStream(ctx, &interfaces.GenerateRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: buildMapPrompt(strategy.IntermediateQuestion, sessionName, transcript)},
		},
		Model: model,
	}, func(delta string) {
		p.events.Publish(job.ID, models.StreamEvent{
			Phase:     models.PhaseMap,
			Type:      models.EventToken,
			SessionID: summary.SessionID,
			SummaryID: summary.ID,
			Delta:     delta,
		})
	})
	if err != nil {
		failSession(err)
		return
	}

	if err := p.storage.UpdateSummary(ctx, summary.ID, interfaces.SummaryUpdate{
		Status: models.SummaryStatusCompleted,
		Text:   &result.Text,
	}); err != nil {
		failSession(fmt.Errorf("failed to persist summary: %w", err))
		return
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase:            models.PhaseMap,
		Type:             models.EventEnd,
		SessionID:        summary.SessionID,
		SummaryID:        summary.ID,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		DurationMs:       time.Since(startTime).Milliseconds(),
	})

	*completed = append(*completed, attributedSummary{
		SessionName: sessionName,
		Text:        result.Text,
	})
}

// runReducePhase synthesizes the completed summaries into the final result.
// Failure here is job-fatal.
func (p *Processor) runReducePhase(ctx context.Context, job *models.AnalysisJob, strategy *models.Strategy, completed []attributedSummary) {
	if err := p.setStatus(ctx, job.ID, models.JobStatusReducing); err != nil {
		p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist reducing status")
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase: models.PhaseReduce,
		Type:  models.EventStart,
	})

	service, model, err := p.llm.ServiceFor(job.ModelOptions().Name)
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseReduce, fmt.Errorf("reduce phase failed: %w", err))
		return
	}

	startTime := time.Now()
	result, err := service.GenerateStream(ctx, &interfaces.GenerateRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: buildReducePrompt(job.OriginalPrompt, strategy.FinalSynthesisInstructions, completed)},
		},
		Model: model,
	}, func(delta string) {
		p.events.Publish(job.ID, models.StreamEvent{
			Phase: models.PhaseReduce,
			Type:  models.EventToken,
			Delta: delta,
		})
	})
	if err != nil {
		p.failJob(ctx, job.ID, models.PhaseReduce, fmt.Errorf("reduce phase failed: %w", err))
		return
	}

	if err := p.storage.SetFinalResult(ctx, job.ID, result.Text); err != nil {
		p.failJob(ctx, job.ID, models.PhaseReduce, fmt.Errorf("failed to persist final result: %w", err))
		return
	}

	p.events.Publish(job.ID, models.StreamEvent{
		Phase:            models.PhaseReduce,
		Type:             models.EventEnd,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		DurationMs:       time.Since(startTime).Milliseconds(),
	})
	p.events.Publish(job.ID, models.StreamEvent{
		Phase:  models.PhaseStatus,
		Type:   models.EventStatus,
		Status: models.JobStatusCompleted,
	})

	p.logger.Info().
		Str("job_id", job.ID).
		Int("result_length", len(result.Text)).
		Msg("Analysis job completed")
}
