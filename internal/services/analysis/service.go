package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/queue"
)

// shortTitleFallbackLen bounds the truncated title used when the title call fails
const shortTitleFallbackLen = 80

// SubmitRequest is a validated analysis submission
type SubmitRequest struct {
	SessionIDs  []string `json:"sessionIds" validate:"required,min=1,dive,required"`
	Prompt      string   `json:"prompt" validate:"required"`
	ModelName   string   `json:"modelName,omitempty"`
	ContextSize int      `json:"contextSize,omitempty" validate:"omitempty,gt=0"`
}

// Service is the job submission/read/cancel/delete surface. Submissions are
// accepted synchronously (row created, message enqueued) and processed
// asynchronously by the queue worker.
type Service struct {
	storage     interfaces.AnalysisStorage
	sessions    interfaces.SessionStorage
	transcripts interfaces.TranscriptProvider
	queueMgr    *queue.Manager
	events      interfaces.StreamService
	llm         LLMProvider
	validate    *validator.Validate
	config      *common.AnalysisConfig
	logger      arbor.ILogger
}

// NewService creates the analysis service
func NewService(
	storage interfaces.AnalysisStorage,
	sessions interfaces.SessionStorage,
	transcripts interfaces.TranscriptProvider,
	queueMgr *queue.Manager,
	events interfaces.StreamService,
	llmProvider LLMProvider,
	config *common.AnalysisConfig,
	logger arbor.ILogger,
) *Service {
	return &Service{
		storage:     storage,
		sessions:    sessions,
		transcripts: transcripts,
		queueMgr:    queueMgr,
		events:      events,
		llm:         llmProvider,
		validate:    validator.New(),
		config:      config,
		logger:      logger,
	}
}

// Submit validates the request, derives a short title, creates the job row in
// pending and enqueues it fire-and-forget. The heavy work happens
// asynchronously; the returned job is the accepted row.
func (s *Service) Submit(ctx context.Context, req *SubmitRequest) (*models.AnalysisJob, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid submission: %w", err)
	}
	if len(req.Prompt) < s.config.MinPromptLength {
		return nil, fmt.Errorf("invalid submission: prompt must be at least %d characters", s.config.MinPromptLength)
	}
	if s.config.MaxSessions > 0 && len(req.SessionIDs) > s.config.MaxSessions {
		return nil, fmt.Errorf("invalid submission: at most %d sessions per job", s.config.MaxSessions)
	}

	for _, sessionID := range req.SessionIDs {
		if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("invalid submission: unknown session %s: %w", sessionID, err)
		}
	}

	shortPrompt := s.deriveShortTitle(ctx, req.Prompt, req.ModelName)

	now := time.Now().UTC()
	job := &models.AnalysisJob{
		ID:             common.NewJobID(),
		OriginalPrompt: req.Prompt,
		ShortPrompt:    shortPrompt,
		SessionIDs:     req.SessionIDs,
		Status:         models.JobStatusPending,
		ModelName:      req.ModelName,
		ContextSize:    req.ContextSize,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.storage.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create analysis job: %w", err)
	}

	// Fire-and-forget dispatch: the row already exists and is inspectable, so
	// an enqueue failure is logged, not surfaced to the submitter.
	go func() {
		enqueueCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		msg := models.QueueMessage{
			ID:         job.ID,
			Type:       models.JobTypeAnalysis,
			JobID:      job.ID,
			EnqueuedAt: time.Now().UTC(),
		}
		if err := s.queueMgr.Enqueue(enqueueCtx, msg); err != nil {
			s.logger.Error().
				Err(err).
				Str("job_id", job.ID).
				Msg("Failed to enqueue analysis job, row remains pending")
		}
	}()

	s.logger.Info().
		Str("job_id", job.ID).
		Int("session_count", len(req.SessionIDs)).
		Str("short_prompt", shortPrompt).
		Msg("Analysis job submitted")

	return job, nil
}

// deriveShortTitle computes a compact display title via one blocking LLM
// call, falling back to a truncation of the prompt when the call fails.
func (s *Service) deriveShortTitle(ctx context.Context, prompt, modelName string) string {
	service, model, err := s.llm.ServiceFor(modelName)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Short title provider unavailable, truncating prompt")
		return truncatePrompt(prompt, shortTitleFallbackLen)
	}

	result, err := service.Generate(ctx, &interfaces.GenerateRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: buildShortTitlePrompt(prompt)},
		},
		Model:             model,
		SystemInstruction: shortTitleSystemInstruction,
		MaxTokens:         64,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Short title generation failed, truncating prompt")
		return truncatePrompt(prompt, shortTitleFallbackLen)
	}

	if title := cleanShortTitle(result.Text); title != "" {
		return title
	}
	return truncatePrompt(prompt, shortTitleFallbackLen)
}

// Get returns one job with its summary rows enriched with session names
func (s *Service) Get(ctx context.Context, jobID string) (*models.JobDetail, error) {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	summaries, err := s.storage.GetSummariesForJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries for job %s: %w", jobID, err)
	}

	detail := &models.JobDetail{
		AnalysisJob: *job,
		Summaries:   make([]models.SummaryView, 0, len(summaries)),
	}
	for _, summary := range summaries {
		detail.Summaries = append(detail.Summaries, models.SummaryView{
			IntermediateSummary: *summary,
			SessionName:         s.transcripts.SessionName(ctx, summary.SessionID),
		})
	}

	return detail, nil
}

// List returns all jobs, newest first
func (s *Service) List(ctx context.Context) ([]*models.AnalysisJob, error) {
	return s.storage.ListJobs(ctx)
}

// Cancel requests cooperative cancellation of a non-terminal job. The
// orchestrator observes the canceling status at its next checkpoint.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if err := s.storage.RequestCancel(ctx, jobID); err != nil {
		return err
	}

	s.events.Publish(jobID, models.StreamEvent{
		Phase:  models.PhaseStatus,
		Type:   models.EventStatus,
		Status: models.JobStatusCanceling,
	})

	s.logger.Info().Str("job_id", jobID).Msg("Cancellation requested")
	return nil
}

// Delete removes a job and cascades to its summary rows. A running
// orchestrator treats the disappearance as a stop signal.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := s.storage.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info().Str("job_id", jobID).Msg("Analysis job deleted")
	return nil
}

// QueueCounts reports the waiting/active/delayed message counts
func (s *Service) QueueCounts(ctx context.Context) (models.QueueCounts, error) {
	return s.queueMgr.Counts(ctx)
}
