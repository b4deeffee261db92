package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/handlers"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
	"github.com/radekstepan/therascript-sub007/internal/models"
	"github.com/radekstepan/therascript-sub007/internal/queue"
	"github.com/radekstepan/therascript-sub007/internal/services/analysis"
	"github.com/radekstepan/therascript-sub007/internal/services/events"
	"github.com/radekstepan/therascript-sub007/internal/services/llm"
	"github.com/radekstepan/therascript-sub007/internal/services/maintenance"
	"github.com/radekstepan/therascript-sub007/internal/services/sessions"
	badgerstore "github.com/radekstepan/therascript-sub007/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.StreamService

	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool

	LLMFactory      *llm.Factory
	Transcripts     interfaces.TranscriptProvider
	AnalysisService *analysis.Service
	Processor       *analysis.Processor
	Sweeper         *maintenance.Sweeper

	AnalysisHandler *handlers.AnalysisHandler
	SessionHandler  *handlers.SessionHandler
	StreamHandler   *handlers.StreamHandler
}

// New wires all components together. Nothing is started yet; call Start.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	// Storage
	storageManager, err := badgerstore.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	// Queue shares the storage manager's Badger instance
	queueManager, err := queue.NewManager(
		storageManager.DB().Store().Badger(),
		config.Queue.QueueName,
		config.Queue.VisibilityTimeoutDuration(),
		config.Queue.MaxReceive,
	)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.QueueManager = queueManager

	// Events
	a.EventService = events.NewService(logger)

	// LLM providers
	a.LLMFactory = llm.NewFactory(&config.Claude, &config.Gemini, &config.LLM, logger)

	// Domain services
	a.Transcripts = sessions.NewProvider(storageManager.SessionStorage(), logger)

	a.Processor = analysis.NewProcessor(
		storageManager.AnalysisStorage(),
		a.Transcripts,
		a.LLMFactory,
		a.EventService,
		config.LLM.DefaultContextSize,
		logger,
	)

	a.AnalysisService = analysis.NewService(
		storageManager.AnalysisStorage(),
		storageManager.SessionStorage(),
		a.Transcripts,
		queueManager,
		a.EventService,
		a.LLMFactory,
		&config.Analysis,
		logger,
	)

	// Workers
	a.WorkerPool = queue.NewWorkerPool(
		queueManager,
		config.Queue.Concurrency,
		config.Queue.PollIntervalDuration(),
		logger,
	)
	a.WorkerPool.RegisterHandler(models.JobTypeAnalysis, a.Processor.HandleMessage)

	// Maintenance
	if config.Maintenance.Enabled {
		a.Sweeper = maintenance.NewSweeper(
			storageManager.AnalysisStorage(),
			queueManager,
			config.Maintenance.Schedule,
			config.Maintenance.StaleThresholdDuration(),
			logger,
		)
	}

	// HTTP handlers
	a.AnalysisHandler = handlers.NewAnalysisHandler(a.AnalysisService, logger)
	a.SessionHandler = handlers.NewSessionHandler(storageManager.SessionStorage(), logger)
	a.StreamHandler = handlers.NewStreamHandler(a.EventService, &config.WebSocket, logger)

	logger.Info().
		Int("queue_concurrency", config.Queue.Concurrency).
		Str("default_provider", config.LLM.DefaultProvider).
		Msg("Application components initialized")

	return a, nil
}

// Start launches the background components
func (a *App) Start() error {
	a.WorkerPool.Start()

	if a.Sweeper != nil {
		if err := a.Sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start maintenance sweeper: %w", err)
		}
	}

	return nil
}

// Shutdown stops background components and closes resources
func (a *App) Shutdown(ctx context.Context) error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	a.WorkerPool.Stop()

	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.LLMFactory != nil {
		a.LLMFactory.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage cleanly")
		}
	}

	a.Logger.Info().Msg("Application shut down")
	return nil
}
