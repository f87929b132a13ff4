package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"story-pipeline-backend/internal/delivery"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/orchestrator"
	"story-pipeline-backend/internal/queue"
	"story-pipeline-backend/internal/services"
)

// RunService executes and looks up pipeline runs.
type RunService interface {
	RunJob(ctx context.Context, runID string, req models.TriggerRunRequest) (*models.RunSummary, error)
	GetRun(runID string) (*models.RunPayload, error)
}

// RunEnqueuer hands runs to the background queue.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, job queue.RunJob) (string, error)
}

type RunsHandler struct {
	service RunService
	queue   RunEnqueuer
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunsHandler builds the run routes. With a nil enqueuer runs execute
// inline within the request.
func NewRunsHandler(service RunService, enqueuer RunEnqueuer, logger *slog.Logger) *RunsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunsHandler{
		service: service,
		queue:   enqueuer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TriggerRun godoc
// @Summary     Start a pipeline run
// @Description Runs the configured story inline, or queues it when a worker queue is configured.
// @Tags        runs
// @Accept      json
// @Produce     json
// @Param       request body models.TriggerRunRequest false "Run options"
// @Success     200 {object} models.RunSummary
// @Success     202 {object} models.TriggerAcceptedResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     500 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /runs [post]
func (h *RunsHandler) TriggerRun(c *gin.Context) {
	var req models.TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request body", Message: err.Error()})
		return
	}
	if !validProvider(req.Provider) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid provider", Message: "provider must be auto, supabase or storage"})
		return
	}

	runID := orchestrator.NewRunID(h.now())
	if h.queue != nil {
		taskID, err := h.queue.EnqueueRun(c.Request.Context(), queue.RunJob{RunID: runID, Trigger: "api", Request: req})
		if err != nil {
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to queue run", Message: err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, models.TriggerAcceptedResponse{Status: "queued", RunID: runID, QueueTaskID: taskID, Trigger: "api"})
		return
	}

	summary, err := h.service.RunJob(c.Request.Context(), runID, req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to start run", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// GetRun godoc
// @Summary     Get a run payload
// @Tags        runs
// @Produce     json
// @Param       run_id path string true "Run ID"
// @Success     200 {object} models.RunPayload
// @Failure     404 {object} models.ErrorResponse
// @Security    Bearer
// @Router      /runs/{run_id} [get]
func (h *RunsHandler) GetRun(c *gin.Context) {
	payload, err := h.service.GetRun(c.Param("run_id"))
	if err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to load run", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, payload)
}

// startBackground queues the run or, without a queue, runs it detached from
// the triggering request. It returns the queue task id when queued.
func (h *RunsHandler) startBackground(ctx context.Context, trigger string, req models.TriggerRunRequest) (string, string, error) {
	runID := orchestrator.NewRunID(h.now())
	if h.queue != nil {
		taskID, err := h.queue.EnqueueRun(ctx, queue.RunJob{RunID: runID, Trigger: trigger, Request: req})
		return runID, taskID, err
	}

	go func() {
		logger := h.logger.With("run_id", runID, "trigger", trigger)
		summary, err := h.service.RunJob(context.Background(), runID, req)
		if err != nil {
			logger.Error("background run could not start", "event", "run_start_failed", "error", err)
			return
		}
		logger.Info("background run finished", "event", "run_background_finished", "status", summary.Status)
	}()
	return runID, "", nil
}

func validProvider(p string) bool {
	switch p {
	case "", delivery.ProviderAuto, delivery.ProviderSupabase, delivery.ProviderStorage:
		return true
	}
	return false
}
