package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/webhook"
)

type WebhookHandler struct {
	secret string
	runs   *RunsHandler
	logger *slog.Logger
}

// NewWebhookHandler verifies signatures only when secret is set.
func NewWebhookHandler(secret string, runs *RunsHandler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{secret: secret, runs: runs, logger: logger}
}

// triggerEvent is the subset of a provider callback used to start a run.
type triggerEvent struct {
	Event  string `json:"event"`
	Type   string `json:"type"`
	DryRun bool   `json:"dry_run"`
}

// HandleWebhook godoc
// @Summary     WaveSpeed webhook endpoint
// @Description Starts a pipeline run in the background. Signed with webhook-id, webhook-timestamp and webhook-signature headers.
// @Tags        webhooks
// @Accept      json
// @Produce     json
// @Success     202 {object} models.TriggerAcceptedResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /webhooks/wavespeed [post]
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "failed to read request body", Message: err.Error()})
		return
	}

	if h.secret != "" {
		err := webhook.Verify(h.secret,
			c.GetHeader(webhook.HeaderID),
			c.GetHeader(webhook.HeaderTimestamp),
			c.GetHeader(webhook.HeaderSignature),
			body,
		)
		if err != nil {
			h.logger.Warn("webhook rejected", "event", "webhook_rejected", "error", err)
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: err.Error()})
			return
		}
	}

	var event triggerEvent
	if len(body) > 0 {
		if err := json.Unmarshal(body, &event); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid json", Message: err.Error()})
			return
		}
	}
	trigger := event.Event
	if trigger == "" {
		trigger = event.Type
	}
	if trigger == "" {
		trigger = "manual_webhook"
	}

	runID, taskID, err := h.runs.startBackground(c.Request.Context(), trigger, models.TriggerRunRequest{DryRun: event.DryRun})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "failed to queue run", Message: err.Error()})
		return
	}

	h.logger.Info("webhook accepted", "event", "webhook_accepted", "trigger", trigger, "run_id", runID)
	c.JSON(http.StatusAccepted, models.TriggerAcceptedResponse{
		Status:      "accepted",
		RunID:       runID,
		QueueTaskID: taskID,
		Trigger:     trigger,
		Message:     "pipeline run started in background",
	})
}
