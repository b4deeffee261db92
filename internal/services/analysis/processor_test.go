package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/services/events"
	badgerstore "github.com/radekstepan/therascript-sub007/internal/storage/badger"
)

const strategyJSON = `{"intermediate_question": "What coping strategies appear in this session?", "final_synthesis_instructions": "Combine the per-session findings into one answer."}`

// fakeLLM replays scripted responses in call order. Streamed responses are
// delivered in two chunks so token events fire.
type fakeLLM struct {
	responses []fakeResponse
	requests  []*interfaces.GenerateRequest
	onCall    func(callIndex int)
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeLLM) next(req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	callIndex := len(f.requests)
	f.requests = append(f.requests, req)

	if callIndex >= len(f.responses) {
		return nil, fmt.Errorf("unexpected LLM call %d", callIndex)
	}
	resp := f.responses[callIndex]
	if resp.err != nil {
		return nil, resp.err
	}
	return &interfaces.GenerateResult{
		Text:             resp.text,
		Model:            req.Model,
		PromptTokens:     100,
		CompletionTokens: 50,
	}, nil
}

func (f *fakeLLM) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	result, err := f.next(req)
	if f.onCall != nil {
		f.onCall(len(f.requests) - 1)
	}
	return result, err
}

func (f *fakeLLM) GenerateStream(ctx context.Context, req *interfaces.GenerateRequest, onToken interfaces.TokenHandler) (*interfaces.GenerateResult, error) {
	result, err := f.next(req)
	if err == nil && onToken != nil {
		mid := len(result.Text) / 2
		onToken(result.Text[:mid])
		onToken(result.Text[mid:])
	}
	if f.onCall != nil {
		f.onCall(len(f.requests) - 1)
	}
	return result, err
}

func (f *fakeLLM) Close() error { return nil }

// fakeProvider hands out one fake service for every model
type fakeProvider struct {
	svc *fakeLLM
}

func (p *fakeProvider) ServiceFor(model string) (interfaces.LLMService, string, error) {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return p.svc, model, nil
}

// fakeTranscripts serves transcripts from a map; absent sessions error
type fakeTranscripts struct {
	transcripts map[string]string
	names       map[string]string
}

func (f *fakeTranscripts) Transcript(ctx context.Context, sessionID string) (string, error) {
	text, ok := f.transcripts[sessionID]
	if !ok {
		return "", fmt.Errorf("transcript unavailable for session %s", sessionID)
	}
	return text, nil
}

func (f *fakeTranscripts) SessionName(ctx context.Context, sessionID string) string {
	if name, ok := f.names[sessionID]; ok {
		return name
	}
	return sessionID
}

type processorEnv struct {
	storage     interfaces.AnalysisStorage
	events      interfaces.StreamService
	llm         *fakeLLM
	transcripts *fakeTranscripts
	processor   *Processor
}

func newProcessorEnv(t *testing.T, responses ...fakeResponse) *processorEnv {
	t.Helper()

	logger := common.GetLogger()
	mgr, err := badgerstore.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "store"),
	})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	env := &processorEnv{
		storage: mgr.AnalysisStorage(),
		events:  events.NewService(logger),
		llm:     &fakeLLM{responses: responses},
		transcripts: &fakeTranscripts{
			transcripts: map[string]string{},
			names:       map[string]string{},
		},
	}
	env.processor = NewProcessor(env.storage, env.transcripts, &fakeProvider{svc: env.llm}, env.events, 16384, logger)
	t.Cleanup(func() { env.events.Close() })
	return env
}

func (e *processorEnv) createJob(t *testing.T, id string, sessionIDs ...string) {
	t.Helper()
	err := e.storage.CreateJob(context.Background(), &models.AnalysisJob{
		ID:             id,
		OriginalPrompt: "What coping strategies recurred across these sessions?",
		ShortPrompt:    "Recurring coping strategies",
		SessionIDs:     sessionIDs,
		Status:         models.JobStatusPending,
	})
	if err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
}

func (e *processorEnv) addSession(id, name, transcript string) {
	e.transcripts.transcripts[id] = transcript
	e.transcripts.names[id] = name
}

func drainEvents(ch <-chan models.StreamEvent) []models.StreamEvent {
	var collected []models.StreamEvent
	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return collected
			}
			collected = append(collected, event)
		default:
			return collected
		}
	}
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "Session one practiced breathing exercises."},
		fakeResponse{text: "Session two practiced journaling."},
		fakeResponse{text: "Both sessions leaned on structured daily practices."},
	)
	env.addSession("ses_a", "Session 1", "transcript of session one")
	env.addSession("ses_b", "Session 2", "transcript of session two")
	env.createJob(t, "job_1", "ses_a", "ses_b")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	job, err := env.storage.GetJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed, got %s (error: %s)", job.Status, job.ErrorMessage)
	}
	if job.FinalResult != "Both sessions leaned on structured daily practices." {
		t.Errorf("unexpected final result %q", job.FinalResult)
	}
	if job.ErrorMessage != "" {
		t.Errorf("completed job must carry no error, got %q", job.ErrorMessage)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt must be set")
	}
	if job.Strategy == nil || job.Strategy.IntermediateQuestion == "" {
		t.Error("strategy was not persisted")
	}

	summaries, err := env.storage.GetSummariesForJob(ctx, "job_1")
	if err != nil {
		t.Fatalf("GetSummariesForJob failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	for _, summary := range summaries {
		if summary.Status != models.SummaryStatusCompleted {
			t.Errorf("summary %s: expected completed, got %s", summary.SessionID, summary.Status)
		}
		if summary.SummaryText == "" {
			t.Errorf("summary %s has no text", summary.SessionID)
		}
	}

	// strategy + one call per session + reduce
	if len(env.llm.requests) != 4 {
		t.Errorf("expected 4 LLM calls, got %d", len(env.llm.requests))
	}

	// The map prompts carry each session's transcript and the derived question
	mapReq := env.llm.requests[1].Messages[0].Content
	if !strings.Contains(mapReq, "transcript of session one") {
		t.Error("first map prompt is missing the session transcript")
	}
	if !strings.Contains(mapReq, "What coping strategies appear in this session?") {
		t.Error("map prompt is missing the intermediate question")
	}

	// The reduce prompt carries both attributed answers
	reduceReq := env.llm.requests[3].Messages[0].Content
	if !strings.Contains(reduceReq, "Session one practiced breathing exercises.") ||
		!strings.Contains(reduceReq, "Session two practiced journaling.") {
		t.Error("reduce prompt is missing per-session answers")
	}
	if !strings.Contains(reduceReq, "Combine the per-session findings into one answer.") {
		t.Error("reduce prompt is missing the synthesis instructions")
	}
}

func TestProcessMissingJobIsNoOp(t *testing.T) {
	env := newProcessorEnv(t)

	if err := env.processor.Process(context.Background(), "job_gone"); err != nil {
		t.Fatalf("Process on a missing job must not error, got %v", err)
	}
	if len(env.llm.requests) != 0 {
		t.Errorf("expected no LLM calls, got %d", len(env.llm.requests))
	}
}

func TestProcessTerminalJobIsNoOp(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "answer"},
		fakeResponse{text: "final"},
	)
	env.addSession("ses_a", "Session 1", "transcript")
	env.createJob(t, "job_1", "ses_a")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	callsAfterFirst := len(env.llm.requests)

	// Duplicate queue delivery
	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if len(env.llm.requests) != callsAfterFirst {
		t.Errorf("terminal re-delivery made %d extra LLM calls", len(env.llm.requests)-callsAfterFirst)
	}
	again, _ := env.storage.GetJob(ctx, "job_1")
	if again.Status != models.JobStatusCompleted || again.FinalResult != job.FinalResult {
		t.Error("terminal re-delivery mutated the job")
	}
}

func TestProcessInFlightJobIsNoOp(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t)
	env.createJob(t, "job_1", "ses_a")

	if err := env.storage.UpdateJobStatus(ctx, "job_1", models.JobStatusMapping); err != nil {
		t.Fatalf("UpdateJobStatus failed: %v", err)
	}

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(env.llm.requests) != 0 {
		t.Errorf("expected no LLM calls for a job already owned, got %d", len(env.llm.requests))
	}
}

func TestStrategyFailureIsJobFatal(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{err: errors.New("model unreachable")},
	)
	env.addSession("ses_a", "Session 1", "transcript")
	env.createJob(t, "job_1", "ses_a")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process must absorb job-fatal errors, got %v", err)
	}

	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "model unreachable") {
		t.Errorf("unexpected error message %q", job.ErrorMessage)
	}
	if len(env.llm.requests) != 1 {
		t.Errorf("expected processing to stop after the strategy failure, got %d calls", len(env.llm.requests))
	}

	summaries, _ := env.storage.GetSummariesForJob(ctx, "job_1")
	if len(summaries) != 0 {
		t.Errorf("no summary rows should exist before the map phase, got %d", len(summaries))
	}
}

func TestMalformedStrategyIsJobFatal(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: "I cannot answer that."},
	)
	env.addSession("ses_a", "Session 1", "transcript")
	env.createJob(t, "job_1", "ses_a")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
}

func TestPartialMapFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "Session one practiced breathing exercises."},
		fakeResponse{text: "Final synthesis over one session."},
	)
	// ses_b has no transcript; its fetch fails
	env.addSession("ses_a", "Session 1", "transcript of session one")
	env.transcripts.names["ses_b"] = "Session 2"
	env.createJob(t, "job_1", "ses_a", "ses_b")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusCompleted {
		t.Errorf("expected completed despite one failed session, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if job.FinalResult == "" || job.ErrorMessage != "" {
		t.Error("completed job must have a result and no error")
	}

	summaries, _ := env.storage.GetSummariesForJob(ctx, "job_1")
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary rows, got %d", len(summaries))
	}
	if summaries[0].Status != models.SummaryStatusCompleted {
		t.Errorf("ses_a row: expected completed, got %s", summaries[0].Status)
	}
	if summaries[1].Status != models.SummaryStatusFailed {
		t.Errorf("ses_b row: expected failed, got %s", summaries[1].Status)
	}
	if !strings.Contains(summaries[1].ErrorMessage, "transcript unavailable") {
		t.Errorf("ses_b row error: got %q", summaries[1].ErrorMessage)
	}

	// The reduce input excludes the failed session
	reduceReq := env.llm.requests[2].Messages[0].Content
	if !strings.Contains(reduceReq, "Session one practiced breathing exercises.") {
		t.Error("reduce prompt is missing the successful answer")
	}
	if strings.Contains(reduceReq, "Session 2") {
		t.Error("reduce prompt must not mention the failed session")
	}
}

func TestTotalMapFailureIsJobFatal(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
	)
	// No transcripts at all
	env.createJob(t, "job_1", "ses_a", "ses_b")

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusFailed {
		t.Errorf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "no session could be summarized") {
		t.Errorf("unexpected error message %q", job.ErrorMessage)
	}

	// Only the strategy call happened; no reduce call was made
	if len(env.llm.requests) != 1 {
		t.Errorf("expected 1 LLM call, got %d", len(env.llm.requests))
	}
}

func TestCancellationObservedBetweenSessions(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "Answer for session one."},
	)
	env.addSession("ses_a", "Session 1", "transcript one")
	env.addSession("ses_b", "Session 2", "transcript two")
	env.createJob(t, "job_1", "ses_a", "ses_b")

	// Request cancellation right after the first map call finishes; the
	// checkpoint before session two must observe it.
	env.llm.onCall = func(callIndex int) {
		if callIndex == 1 {
			if err := env.storage.RequestCancel(ctx, "job_1"); err != nil {
				t.Errorf("RequestCancel failed: %v", err)
			}
		}
	}

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	job, _ := env.storage.GetJob(ctx, "job_1")
	if job.Status != models.JobStatusCanceled {
		t.Errorf("expected canceled, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt must be set on cancellation")
	}

	// Session two never left pending; no reduce call was made
	summaries, _ := env.storage.GetSummariesForJob(ctx, "job_1")
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summary rows, got %d", len(summaries))
	}
	if summaries[1].Status != models.SummaryStatusPending {
		t.Errorf("ses_b row must stay pending after cancellation, got %s", summaries[1].Status)
	}
	if len(env.llm.requests) != 2 {
		t.Errorf("expected 2 LLM calls (strategy + first session), got %d", len(env.llm.requests))
	}
}

func TestJobDeletedMidFlightStopsQuietly(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "Answer for session one."},
	)
	env.addSession("ses_a", "Session 1", "transcript one")
	env.addSession("ses_b", "Session 2", "transcript two")
	env.createJob(t, "job_1", "ses_a", "ses_b")

	env.llm.onCall = func(callIndex int) {
		if callIndex == 1 {
			if err := env.storage.DeleteJob(ctx, "job_1"); err != nil {
				t.Errorf("DeleteJob failed: %v", err)
			}
		}
	}

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process must treat deletion as disappearance, got %v", err)
	}

	if _, err := env.storage.GetJob(ctx, "job_1"); !errors.Is(err, models.ErrJobNotFound) {
		t.Errorf("job must stay deleted, got %v", err)
	}
	if len(env.llm.requests) > 2 {
		t.Errorf("processing must stop after deletion, got %d calls", len(env.llm.requests))
	}
}

func TestEventOrderingWithinPhases(t *testing.T) {
	ctx := context.Background()
	env := newProcessorEnv(t,
		fakeResponse{text: strategyJSON},
		fakeResponse{text: "Answer for session one."},
		fakeResponse{text: "Final synthesis."},
	)
	env.addSession("ses_a", "Session 1", "transcript one")
	env.createJob(t, "job_1", "ses_a")

	ch, unsubscribe := env.events.Subscribe("job_1")
	defer unsubscribe()

	if err := env.processor.Process(ctx, "job_1"); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	collected := drainEvents(ch)
	if len(collected) == 0 {
		t.Fatal("no events observed")
	}

	for _, phase := range []models.StreamPhase{models.PhaseStrategy, models.PhaseMap, models.PhaseReduce} {
		var types []models.StreamEventType
		for _, event := range collected {
			if event.Phase == phase {
				types = append(types, event.Type)
			}
		}
		if len(types) < 2 {
			t.Fatalf("phase %s: too few events: %v", phase, types)
		}
		if types[0] != models.EventStart {
			t.Errorf("phase %s: first event is %s, want start", phase, types[0])
		}
		last := types[len(types)-1]
		if last != models.EventEnd {
			t.Errorf("phase %s: last event is %s, want end", phase, last)
		}
		for _, mid := range types[1 : len(types)-1] {
			if mid != models.EventToken {
				t.Errorf("phase %s: interior event is %s, want token", phase, mid)
			}
		}
	}

	// The end events carry token tallies
	for _, event := range collected {
		if event.Type == models.EventEnd {
			if event.PromptTokens == 0 || event.CompletionTokens == 0 {
				t.Errorf("phase %s end event is missing token counts: %+v", event.Phase, event)
			}
		}
	}
}
