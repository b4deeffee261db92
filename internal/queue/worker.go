package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/models"
)

// JobHandler is a function that handles a specific job type.
//
// A handler's return value is informational only: the message is deleted from
// the queue whether the handler succeeds or fails. Application-level failures
// are the handler's responsibility to persist (the orchestrator writes them
// into the job row); the queue never retries them.
type JobHandler func(ctx context.Context, msg *models.QueueMessage) error

// WorkerPool manages a bounded set of workers polling the queue
type WorkerPool struct {
	queueMgr     *Manager
	handlers     map[string]JobHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queueMgr *Manager, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queueMgr:     queueMgr,
		handlers:     make(map[string]JobHandler),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a job type handler. Must be called before Start.
func (wp *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", jobType).
		Msg("Job handler registered")
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		go wp.worker(i)
	}
}

// Stop gracefully stops the worker pool
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
}

// worker is the main loop that polls for and processes messages
func (wp *WorkerPool) worker(workerID int) {
	// Stagger worker starts to spread polling across the interval
	staggerDelay := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-wp.ctx.Done():
			return
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			if err := wp.processMessage(workerID); err != nil && err != ErrNoMessage {
				wp.logger.Warn().
					Err(err).
					Int("worker_id", workerID).
					Msg("Error processing message")
			}
		}
	}
}

// processMessage receives and processes a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, deleteFn, err := wp.queueMgr.Receive(wp.ctx)
	if err != nil {
		return err
	}

	// The message is removed regardless of handler outcome: the orchestrator
	// decides whether a failure is job-fatal, not the queue.
	defer func() {
		if err := deleteFn(); err != nil {
			wp.logger.Warn().
				Err(err).
				Str("message_id", msg.ID).
				Msg("Failed to delete message after processing")
		}
	}()

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("message_id", msg.ID).
			Msg("No handler registered for job type")
		return nil
	}

	wp.logger.Debug().
		Str("message_id", msg.ID).
		Str("type", msg.Type).
		Str("job_id", msg.JobID).
		Int("worker_id", workerID).
		Msg("Processing message")

	startTime := time.Now()
	handlerErr := handler(wp.ctx, msg)
	duration := time.Since(startTime)

	if handlerErr != nil {
		wp.logger.Error().
			Err(handlerErr).
			Str("message_id", msg.ID).
			Str("job_id", msg.JobID).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return nil
	}

	wp.logger.Info().
		Str("message_id", msg.ID).
		Str("job_id", msg.JobID).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")
	return nil
}
