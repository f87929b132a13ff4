package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-pipeline-backend/internal/handlers"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/queue"
	"story-pipeline-backend/internal/services"
	"story-pipeline-backend/internal/webhook"
)

type fakeService struct {
	mu       sync.Mutex
	requests []models.TriggerRunRequest
	done     chan struct{}
	err      error
	payloads map[string]*models.RunPayload
}

func newFakeService() *fakeService {
	return &fakeService{done: make(chan struct{}, 4), payloads: map[string]*models.RunPayload{}}
}

func (f *fakeService) RunJob(ctx context.Context, runID string, req models.TriggerRunRequest) (*models.RunSummary, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	defer func() { f.done <- struct{}{} }()
	if f.err != nil {
		return nil, f.err
	}
	return &models.RunSummary{RunID: runID, StoryID: "ada", Status: models.RunStatusCompleted, SceneCount: 2}, nil
}

func (f *fakeService) GetRun(runID string) (*models.RunPayload, error) {
	if p, ok := f.payloads[runID]; ok {
		return p, nil
	}
	return nil, services.ErrRunNotFound
}

type fakeQueue struct {
	jobs []queue.RunJob
}

func (q *fakeQueue) EnqueueRun(ctx context.Context, job queue.RunJob) (string, error) {
	q.jobs = append(q.jobs, job)
	return "queue-task-1", nil
}

func newRouter(svc handlers.RunService, enqueuer handlers.RunEnqueuer, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	runs := handlers.NewRunsHandler(svc, enqueuer, nil)
	hooks := handlers.NewWebhookHandler(secret, runs, nil)

	router := gin.New()
	router.GET("/health", handlers.HealthHandler)
	router.POST("/api/v1/runs", runs.TriggerRun)
	router.GET("/api/v1/runs/:run_id", runs.GetRun)
	router.POST("/api/v1/webhooks/wavespeed", hooks.HandleWebhook)
	return router
}

func serve(router *gin.Engine, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	w := serve(newRouter(newFakeService(), nil, ""), "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestTriggerRun_Inline(t *testing.T) {
	svc := newFakeService()
	router := newRouter(svc, nil, "")

	w := serve(router, "POST", "/api/v1/runs", []byte(`{"dry_run":true,"provider":"storage"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, models.RunStatusCompleted, summary.Status)
	assert.NotEmpty(t, summary.RunID)
	require.Len(t, svc.requests, 1)
	assert.True(t, svc.requests[0].DryRun)
	assert.Equal(t, "storage", svc.requests[0].Provider)
}

func TestTriggerRun_EmptyBody(t *testing.T) {
	svc := newFakeService()
	w := serve(newRouter(svc, nil, ""), "POST", "/api/v1/runs", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTriggerRun_Errors(t *testing.T) {
	router := newRouter(newFakeService(), nil, "")
	assert.Equal(t, http.StatusBadRequest, serve(router, "POST", "/api/v1/runs", []byte(`{"provider":"cloudinary"}`), nil).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, "POST", "/api/v1/runs", []byte(`{not json`), nil).Code)

	failing := newFakeService()
	failing.err = errors.New("story file missing")
	w := serve(newRouter(failing, nil, ""), "POST", "/api/v1/runs", []byte(`{}`), nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTriggerRun_Queued(t *testing.T) {
	q := &fakeQueue{}
	svc := newFakeService()
	w := serve(newRouter(svc, q, ""), "POST", "/api/v1/runs", []byte(`{"skip_delivery":true}`), nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp models.TriggerAcceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "queue-task-1", resp.QueueTaskID)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, resp.RunID, q.jobs[0].RunID)
	assert.True(t, q.jobs[0].Request.SkipDelivery)
	assert.Empty(t, svc.requests)
}

func TestGetRun(t *testing.T) {
	svc := newFakeService()
	svc.payloads["run-1"] = &models.RunPayload{RunID: "run-1", StoryID: "ada", Status: models.RunStatusCompleted}
	router := newRouter(svc, nil, "")

	w := serve(router, "GET", "/api/v1/runs/run-1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-1"`)

	w = serve(router, "GET", "/api/v1/runs/run-404", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_Signed(t *testing.T) {
	const secret = "whsec_hooksecret"
	svc := newFakeService()
	router := newRouter(svc, nil, secret)
	body := []byte(`{"event":"story.ready","dry_run":true}`)

	headers := map[string]string{
		webhook.HeaderID:        "msg_1",
		webhook.HeaderTimestamp: "1700000000",
		webhook.HeaderSignature: "v1=" + webhook.Sign(secret, "msg_1", "1700000000", body),
	}
	w := serve(router, "POST", "/api/v1/webhooks/wavespeed", body, headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"trigger":"story.ready"`)

	select {
	case <-svc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background run was not started")
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.requests, 1)
	assert.True(t, svc.requests[0].DryRun)
}

func TestWebhook_Rejections(t *testing.T) {
	router := newRouter(newFakeService(), nil, "whsec_hooksecret")
	body := []byte(`{"event":"story.ready"}`)

	w := serve(router, "POST", "/api/v1/webhooks/wavespeed", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(router, "POST", "/api/v1/webhooks/wavespeed", body, map[string]string{
		webhook.HeaderID:        "msg_1",
		webhook.HeaderTimestamp: "1700000000",
		webhook.HeaderSignature: "v1=deadbeef",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	unsigned := newRouter(newFakeService(), nil, "")
	w = serve(unsigned, "POST", "/api/v1/webhooks/wavespeed", []byte(`{bad`), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhook_Queued(t *testing.T) {
	q := &fakeQueue{}
	router := newRouter(newFakeService(), q, "")

	w := serve(router, "POST", "/api/v1/webhooks/wavespeed", []byte(`{"type":"cron"}`), nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, q.jobs, 1)
	assert.Equal(t, "cron", q.jobs[0].Trigger)
}
