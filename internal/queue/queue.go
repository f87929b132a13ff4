// Package queue runs pipeline jobs in the background through asynq.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"story-pipeline-backend/internal/models"
)

const TypePipelineRun = "pipeline:run"

// RunJob is the queued description of one run.
type RunJob struct {
	RunID   string                   `json:"run_id"`
	Trigger string                   `json:"trigger"`
	Request models.TriggerRunRequest `json:"request"`
}

// NewRunTask builds the asynq task for job. Runs are not retried by the
// queue. The run id doubles as the task id so a duplicate trigger is rejected.
func NewRunTask(job RunJob, timeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypePipelineRun, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(timeout),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(job.RunID),
	), nil
}

type Client struct {
	client  *asynq.Client
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(redisAddr, redisPassword string, runTimeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: redisPassword,
		}),
		timeout: runTimeout,
		logger:  logger,
	}
}

// EnqueueRun queues job and returns the queue task id.
func (c *Client) EnqueueRun(ctx context.Context, job RunJob) (string, error) {
	task, err := NewRunTask(job, c.timeout)
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueue failed: %w", err)
	}

	c.logger.Info("pipeline run enqueued", "event", "run_enqueued", "run_id", job.RunID, "queue_task_id", info.ID, "trigger", job.Trigger)
	return info.ID, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}
