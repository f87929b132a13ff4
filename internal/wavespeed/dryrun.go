package wavespeed

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"story-pipeline-backend/internal/models"
)

const dryRunHost = "https://dry-run.local"

// DryRunClient validates submissions like Client but never touches the
// network. Every task succeeds immediately with a placeholder URL.
type DryRunClient struct {
	acceptedDurations []int
	logger            *slog.Logger
	seq               atomic.Int64
}

func NewDryRunClient(acceptedDurations []int, logger *slog.Logger) *DryRunClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunClient{acceptedDurations: acceptedDurations, logger: logger}
}

func (c *DryRunClient) Submit(ctx context.Context, kind models.TaskKind, input SubmitInput) (string, error) {
	if _, err := BuildInput(kind, input, c.acceptedDurations, c.logger); err != nil {
		return "", err
	}
	return fmt.Sprintf("dry-%s-%04d", kind, c.seq.Add(1)), nil
}

func (c *DryRunClient) Poll(ctx context.Context, kind models.TaskKind, taskID string) (*models.GenerationTask, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalidf("task id is required")
	}
	ext := ".png"
	if kind == models.TaskKindSceneVideo {
		ext = ".mp4"
	}
	task := &models.GenerationTask{TaskID: taskID, Kind: kind, LastPolledAt: time.Now().UTC()}
	task.Succeed(fmt.Sprintf("%s/tasks/%s%s", dryRunHost, taskID, ext))
	return task, nil
}

func (c *DryRunClient) UploadBinary(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", invalidf("upload of %q has no content", filename)
	}
	return fmt.Sprintf("%s/reference/%d-%s", dryRunHost, c.seq.Add(1), filepath.Base(filename)), nil
}
