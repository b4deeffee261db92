package analysis

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/queue"
	"github.com/radekstepan/therascript-sub007/internal/services/events"
	"github.com/radekstepan/therascript-sub007/internal/services/sessions"
	badgerstore "github.com/radekstepan/therascript-sub007/internal/storage/badger"
)

type serviceEnv struct {
	service  *Service
	storage  interfaces.AnalysisStorage
	sessions interfaces.SessionStorage
	queueMgr *queue.Manager
	llm      *fakeLLM
}

func newServiceEnv(t *testing.T, responses ...fakeResponse) *serviceEnv {
	t.Helper()

	logger := common.GetLogger()
	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "store"),
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	queueMgr, err := queue.NewManager(mgr.DB().Store().Badger(), "analysis", time.Minute, 3)
	if err != nil {
		t.Fatalf("failed to create queue: %v", err)
	}

	eventService := events.NewService(logger)
	t.Cleanup(func() { eventService.Close() })

	llm := &fakeLLM{responses: responses}
	env := &serviceEnv{
		storage:  mgr.AnalysisStorage(),
		sessions: mgr.SessionStorage(),
		queueMgr: queueMgr,
		llm:      llm,
	}
	env.service = NewService(
		env.storage,
		env.sessions,
		sessions.NewProvider(env.sessions, logger),
		queueMgr,
		eventService,
		&fakeProvider{svc: llm},
		&common.AnalysisConfig{MinPromptLength: 10, MaxSessions: 5},
		logger,
	)
	return env
}

func (e *serviceEnv) saveSession(t *testing.T, id, name string) {
	t.Helper()
	err := e.sessions.SaveSession(context.Background(), &models.Session{
		ID:             id,
		DisplayName:    name,
		TranscriptText: "transcript for " + name,
		RecordedAt:     time.Now(),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
}

// waitForMessage polls the queue until the fire-and-forget enqueue lands
func (e *serviceEnv) waitForMessage(t *testing.T) *models.QueueMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, deleteFn, err := e.queueMgr.Receive(context.Background())
		if err == nil {
			deleteFn()
			return msg
		}
		if !errors.Is(err, queue.ErrNoMessage) {
			t.Fatalf("Receive failed: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no queue message arrived")
	return nil
}

func TestSubmitCreatesPendingJobAndEnqueues(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t, fakeResponse{text: "Recurring coping strategies"})
	env.saveSession(t, "ses_a", "Session 1")

	job, err := env.service.Submit(ctx, &SubmitRequest{
		SessionIDs: []string{"ses_a"},
		Prompt:     "What coping strategies recurred across these sessions?",
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if job.Status != models.JobStatusPending {
		t.Errorf("expected pending, got %s", job.Status)
	}
	if job.ShortPrompt != "Recurring coping strategies" {
		t.Errorf("unexpected short prompt %q", job.ShortPrompt)
	}
	if !strings.HasPrefix(job.ID, "job_") {
		t.Errorf("unexpected job id %q", job.ID)
	}

	stored, err := env.storage.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("submitted job not persisted: %v", err)
	}
	if stored.OriginalPrompt != job.OriginalPrompt {
		t.Error("persisted job differs from returned job")
	}

	msg := env.waitForMessage(t)
	if msg.JobID != job.ID || msg.Type != models.JobTypeAnalysis {
		t.Errorf("unexpected queue message %+v", msg)
	}
}

func TestSubmitShortTitleFallsBackOnLLMFailure(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t, fakeResponse{err: errors.New("model unreachable")})
	env.saveSession(t, "ses_a", "Session 1")

	prompt := "What coping strategies recurred across these sessions and how did they evolve over time?"
	job, err := env.service.Submit(ctx, &SubmitRequest{
		SessionIDs: []string{"ses_a"},
		Prompt:     prompt,
	})
	if err != nil {
		t.Fatalf("Submit must succeed despite title failure: %v", err)
	}

	if job.ShortPrompt == "" {
		t.Error("expected a fallback short prompt")
	}
	if len(job.ShortPrompt) > shortTitleFallbackLen {
		t.Errorf("fallback title too long: %d chars", len(job.ShortPrompt))
	}
	if !strings.HasPrefix(prompt, strings.TrimSuffix(job.ShortPrompt, "...")) {
		t.Errorf("fallback title %q is not a prefix of the prompt", job.ShortPrompt)
	}
}

func TestSubmitValidation(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)
	env.saveSession(t, "ses_a", "Session 1")

	tests := []struct {
		name string
		req  *SubmitRequest
	}{
		{
			name: "empty session list",
			req: &SubmitRequest{
				SessionIDs: nil,
				Prompt:     "What coping strategies recurred?",
			},
		},
		{
			name: "prompt too short",
			req: &SubmitRequest{
				SessionIDs: []string{"ses_a"},
				Prompt:     "why?",
			},
		},
		{
			name: "unknown session",
			req: &SubmitRequest{
				SessionIDs: []string{"ses_missing"},
				Prompt:     "What coping strategies recurred?",
			},
		},
		{
			name: "too many sessions",
			req: &SubmitRequest{
				SessionIDs: []string{"ses_a", "ses_a", "ses_a", "ses_a", "ses_a", "ses_a"},
				Prompt:     "What coping strategies recurred?",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.service.Submit(ctx, tt.req); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	// Nothing was persisted or enqueued
	jobs, err := env.service.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected submissions must not create jobs, found %d", len(jobs))
	}
	if len(env.llm.requests) != 0 {
		t.Errorf("rejected submissions must not call the LLM, got %d calls", len(env.llm.requests))
	}
}

func TestGetEnrichesSummariesWithSessionNames(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)
	env.saveSession(t, "ses_a", "Morning session")

	if err := env.storage.CreateJob(ctx, &models.AnalysisJob{
		ID:             "job_1",
		OriginalPrompt: "What coping strategies recurred?",
		SessionIDs:     []string{"ses_a", "ses_gone"},
		Status:         models.JobStatusCompleted,
	}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if _, err := env.storage.CreateSummaries(ctx, "job_1", []string{"ses_a", "ses_gone"}); err != nil {
		t.Fatalf("CreateSummaries failed: %v", err)
	}

	detail, err := env.service.Get(ctx, "job_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(detail.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(detail.Summaries))
	}
	if detail.Summaries[0].SessionName != "Morning session" {
		t.Errorf("expected display name, got %q", detail.Summaries[0].SessionName)
	}
	// Unknown sessions fall back to the id
	if detail.Summaries[1].SessionName != "ses_gone" {
		t.Errorf("expected id fallback, got %q", detail.Summaries[1].SessionName)
	}

	if _, err := env.service.Get(ctx, "job_missing"); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancelRejectsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	env := newServiceEnv(t)

	if err := env.storage.CreateJob(ctx, &models.AnalysisJob{
		ID:             "job_1",
		OriginalPrompt: "What coping strategies recurred?",
		SessionIDs:     []string{"ses_a"},
		Status:         models.JobStatusPending,
	}); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := env.service.Cancel(ctx, "job_1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusCanceling {
		t.Errorf("expected canceling, got %s", job.Status)
	}

	if err := env.storage.SetJobError(ctx, "job_1", "boom"); err != nil {
		t.Fatalf("SetJobError failed: %v", err)
	}
	if err := env.service.Cancel(ctx, "job_1"); !errors.Is(err, models.ErrJobTerminal) {
		t.Errorf("expected ErrJobTerminal, got %v", err)
	}
	if err := env.service.Cancel(ctx, "job_missing"); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
