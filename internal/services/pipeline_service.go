package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gorm.io/gorm"

	"story-pipeline-backend/internal/artifacts"
	"story-pipeline-backend/internal/audit"
	"story-pipeline-backend/internal/config"
	"story-pipeline-backend/internal/database"
	"story-pipeline-backend/internal/delivery"
	"story-pipeline-backend/internal/htmlmeta"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/orchestrator"
	"story-pipeline-backend/internal/registry"
	"story-pipeline-backend/internal/supabase"
	"story-pipeline-backend/internal/wavespeed"
)

// ErrRunNotFound is returned by GetRun for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// PipelineService wires configuration, stores and sinks into the
// orchestrator. It is shared by the HTTP server, the queue worker and the CLI.
type PipelineService struct {
	cfg       *config.Config
	logger    *slog.Logger
	now       func() time.Time
	artifacts *artifacts.Store
	pages     *htmlmeta.Fetcher

	tasks    orchestrator.TaskClient
	auditor  orchestrator.Auditor
	registry *registry.Registry
	scenes   orchestrator.SceneStore

	rows    *supabase.Client
	storage *supabase.StorageClient
	objects delivery.ObjectStore

	db      *gorm.DB
	sceneDB *supabase.DatabaseClient
}

type Options struct {
	Logger *slog.Logger
	// Tasks replaces the live WaveSpeed client.
	Tasks orchestrator.TaskClient
	Now   func() time.Time
}

// RunOptions selects the story and the side effects of one run.
type RunOptions struct {
	RunID        string
	StoryPath    string
	DryRun       bool
	SkipDelivery bool
	// Provider overrides DELIVERY_PROVIDER when set.
	Provider string
}

func NewPipelineService(ctx context.Context, cfg *config.Config, opts Options) (*PipelineService, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger

	s := &PipelineService{
		cfg:       cfg,
		logger:    logger,
		now:       opts.Now,
		artifacts: artifacts.NewStore(cfg.OutputDir),
		pages:     htmlmeta.NewFetcher(nil),
		tasks:     opts.Tasks,
	}

	if s.tasks == nil && cfg.WaveSpeedAPIKey != "" {
		s.tasks = wavespeed.NewClient(wavespeed.Config{
			BaseURL:           cfg.WaveSpeedAPIBaseURL,
			APIKey:            cfg.WaveSpeedAPIKey,
			ImageModel:        cfg.ImageModel,
			VideoModel:        cfg.VideoModel,
			AcceptedDurations: cfg.VideoAcceptedDurations,
			HTTPTimeout:       cfg.WaveSpeedHTTPTimeout,
			Retry: wavespeed.RetryPolicy{
				MaxAttempts: cfg.RetryMaxAttempts,
				BaseDelay:   cfg.RetryBaseDelay,
				MaxDelay:    cfg.RetryMaxDelay,
			},
			Logger: logger,
		})
	}

	s.auditor = audit.NewEngine([]audit.Source{
		audit.NewWebSearchSource(cfg.SerpAPIBaseURL, cfg.SerpAPIKey, nil),
		audit.NewWikipediaSource(cfg.WikipediaBaseURL, nil),
		audit.NewCommonsSource(cfg.CommonsBaseURL, nil),
	}, audit.EngineConfig{
		CandidatesPerSource: cfg.AuditCandidatesPerQuery,
		ReviewLimit:         cfg.AuditReviewLimit,
		Logger:              logger,
	})

	var store registry.Store = registry.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect registry database: %w", err)
		}
		s.db = db
		store = registry.NewPostgresStore(db, logger)

		sceneDB, err := supabase.NewDatabaseClient(cfg.DatabaseURL)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect scene database: %w", err)
		}
		s.sceneDB = sceneDB
		s.scenes = sceneDB
	}
	s.registry = registry.New(store, registry.Config{Logger: logger, Now: opts.Now})

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceRoleKey != "" {
		rows, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create supabase client: %w", err)
		}
		s.rows = rows

		storage, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.SupabaseStorageBucket)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		s.storage = storage
	}

	if cfg.DeliverySecondary == "minio" && cfg.MinIOEndpoint != "" {
		client, err := delivery.NewMinIOClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.objects = client
	}

	return s, nil
}

// Execute runs one story to completion. The error is non-nil only when the
// run could not start; stage failures are reported in the payload.
func (s *PipelineService) Execute(ctx context.Context, opts RunOptions) (*orchestrator.Result, error) {
	storyPath := opts.StoryPath
	if storyPath == "" {
		storyPath = s.cfg.StoryPath
	}
	absPath, err := filepath.Abs(storyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve story path: %w", err)
	}
	story, err := config.LoadStory(absPath)
	if err != nil {
		return nil, err
	}

	tasks := s.tasks
	deps := orchestrator.Deps{
		Auditor:     s.auditor,
		Registry:    s.registry,
		Scenes:      s.scenes,
		Checkpoints: s.artifacts,
		Pages:       s.pages,
		Logger:      s.logger,
		Now:         s.now,
	}
	if opts.DryRun {
		tasks = wavespeed.NewDryRunClient(s.cfg.VideoAcceptedDurations, s.logger)
		deps.Auditor = nil
		deps.Registry = registry.New(registry.NewMemoryStore(), registry.Config{Logger: s.logger, Now: s.now})
		deps.Scenes = nil
	} else if tasks == nil {
		if err := s.cfg.RequireLive(); err != nil {
			return nil, err
		}
	}
	deps.Tasks = tasks

	manager, err := s.deliveryManager(story, opts)
	if err != nil {
		return nil, err
	}
	deps.Delivery = manager

	return orchestrator.New(deps).Run(ctx, orchestrator.RunRequest{
		Story:        story,
		Generation:   story.ResolveGeneration(s.cfg),
		RunID:        opts.RunID,
		SkipDelivery: opts.SkipDelivery,
		BaseDir:      filepath.Dir(absPath),
	})
}

// RunJob executes a triggered run and returns its summary.
func (s *PipelineService) RunJob(ctx context.Context, runID string, req models.TriggerRunRequest) (*models.RunSummary, error) {
	result, err := s.Execute(ctx, RunOptions{
		RunID:        runID,
		StoryPath:    req.StoryPath,
		DryRun:       req.DryRun,
		SkipDelivery: req.SkipDelivery,
		Provider:     req.Provider,
	})
	if err != nil {
		return nil, err
	}
	summary := models.SummarizeRun(result.Payload, result.OutputPath)
	return &summary, nil
}

// GetRun loads the stored payload of runID.
func (s *PipelineService) GetRun(runID string) (*models.RunPayload, error) {
	payload, err := s.artifacts.Load(runID)
	if errors.Is(err, artifacts.ErrNotFound) {
		return nil, ErrRunNotFound
	}
	return payload, err
}

func (s *PipelineService) deliveryManager(story *config.Story, opts RunOptions) (*delivery.Manager, error) {
	provider := opts.Provider
	if provider == "" {
		provider = s.cfg.DeliveryProvider
	}

	cfg := delivery.Config{Provider: provider, DryRun: opts.DryRun, Logger: s.logger, Now: s.now}
	if s.rows != nil {
		table := story.Output.SupabaseTable
		if table == "" {
			table = s.cfg.SupabasePayloadTable
		}
		cfg.Primary = delivery.NewTableSink(s.rows, table)
	}
	switch {
	case s.cfg.DeliverySecondary == "minio" && s.objects != nil:
		cfg.Secondary = delivery.NewMinIOSink(s.objects, s.cfg.MinIOEndpoint, s.cfg.MinIOUseSSL, s.cfg.MinIOBucket, s.cfg.SupabaseStorageFolder)
	case s.storage != nil:
		cfg.Secondary = delivery.NewStorageSink(s.storage, s.cfg.SupabaseStorageFolder)
	}
	return delivery.NewManager(cfg)
}

func (s *PipelineService) Close() error {
	var errs []error
	if s.sceneDB != nil {
		errs = append(errs, s.sceneDB.Close())
	}
	if s.db != nil {
		errs = append(errs, database.Close(s.db))
	}
	return errors.Join(errs...)
}
