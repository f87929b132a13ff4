package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"story-pipeline-backend/internal/models"
)

// Runner executes one pipeline run.
type Runner interface {
	RunJob(ctx context.Context, runID string, req models.TriggerRunRequest) (*models.RunSummary, error)
}

type Worker struct {
	srv    *asynq.Server
	runner Runner
	logger *slog.Logger
}

func NewWorker(redisAddr, redisPassword string, concurrency int, runner Runner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	return &Worker{srv: srv, runner: runner, logger: logger}
}

// Start begins consuming in the background.
func (w *Worker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypePipelineRun, w.HandleRun)

	w.logger.Info("starting pipeline worker", "event", "worker_started")
	if err := w.srv.Start(mux); err != nil {
		return fmt.Errorf("could not start worker: %w", err)
	}
	return nil
}

func (w *Worker) Shutdown() {
	w.srv.Shutdown()
}

func (w *Worker) HandleRun(ctx context.Context, t *asynq.Task) error {
	var job RunJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger := w.logger.With("run_id", job.RunID, "trigger", job.Trigger)
	logger.Info("processing queued run", "event", "run_dequeued")

	summary, err := w.runner.RunJob(ctx, job.RunID, job.Request)
	if err != nil {
		logger.Error("queued run could not start", "event", "run_start_failed", "error", err)
		return fmt.Errorf("run %s: %w", job.RunID, err)
	}
	logger.Info("queued run finished", "event", "run_dequeued_finished", "status", summary.Status, "errors", summary.ErrorCount)
	return nil
}
