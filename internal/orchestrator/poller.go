package orchestrator

import (
	"context"
	"fmt"
	"time"

	"story-pipeline-backend/internal/models"
)

// awaitTask polls taskID at a fixed interval until it reaches a terminal
// status or timeout elapses. The returned task is always terminal. The error
// is nil only on success.
func (o *Orchestrator) awaitTask(ctx context.Context, kind models.TaskKind, taskID string, submittedAt time.Time, interval, timeout time.Duration) (*models.GenerationTask, error) {
	task := &models.GenerationTask{
		TaskID:      taskID,
		Kind:        kind,
		Status:      models.TaskStatusSubmitted,
		SubmittedAt: submittedAt,
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		polled, err := o.tasks.Poll(ctx, kind, taskID)
		task.LastPolledAt = o.now()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			task.Fail(models.TaskStatusFailed, err.Error())
			return task, fmt.Errorf("polling %s task %s: %w", kind, taskID, err)
		}

		switch polled.Status {
		case models.TaskStatusSucceeded:
			task.Succeed(polled.URL())
			return task, nil
		case models.TaskStatusFailed, models.TaskStatusTimedOut:
			msg := polled.ErrorMessage()
			if msg == "" {
				msg = "provider reported failure"
			}
			task.Fail(models.TaskStatusFailed, msg)
			return task, fmt.Errorf("%w: %s task %s: %s", ErrTaskFailed, kind, taskID, msg)
		default:
			task.Status = polled.Status
		}

		select {
		case <-deadline.C:
			msg := fmt.Sprintf("polling timeout for task %s after %s", taskID, timeout)
			task.Fail(models.TaskStatusTimedOut, msg)
			o.logger.Warn("generation task timed out", "event", "task_timed_out", "kind", kind, "task_id", taskID, "timeout", timeout.String())
			return task, fmt.Errorf("%w: %s", ErrTaskTimedOut, msg)
		case <-ctx.Done():
			task.Fail(models.TaskStatusFailed, ctx.Err().Error())
			return task, fmt.Errorf("polling %s task %s: %w", kind, taskID, ctx.Err())
		case <-ticker.C:
		}
	}
}
