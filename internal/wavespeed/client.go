package wavespeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"
	"time"

	"story-pipeline-backend/internal/models"
)

const DefaultBaseURL = "https://api.wavespeed.ai/api/v3"

type Config struct {
	BaseURL           string
	APIKey            string
	ImageModel        string
	VideoModel        string
	AcceptedDurations []int
	HTTPTimeout       time.Duration
	Retry             RetryPolicy
	Logger            *slog.Logger
	HTTPClient        *http.Client
}

// Client talks to the WaveSpeed v3 REST API.
type Client struct {
	baseURL           string
	apiKey            string
	imageModel        string
	videoModel        string
	acceptedDurations []int
	retry             RetryPolicy
	logger            *slog.Logger
	httpClient        *http.Client
}

// SubmitInput carries the kind-specific fields of a generation request.
// Character and scene image jobs use Prompt and Images; video jobs use
// Image, Prompt and the video settings.
type SubmitInput struct {
	// Model overrides the client's default model for the kind.
	Model string

	Prompt       string
	Images       []string
	Resolution   string
	OutputFormat string

	Image             string
	Duration          int
	MovementAmplitude string
	GenerateAudio     bool
	BGM               bool
}

type submitRequest struct {
	EnableBase64Output bool `json:"enable_base64_output"`
	Input              any  `json:"input"`
}

type imageInput struct {
	Prompt       string   `json:"prompt"`
	Images       []string `json:"images"`
	Resolution   string   `json:"resolution,omitempty"`
	OutputFormat string   `json:"output_format,omitempty"`
}

type videoInput struct {
	Image             string `json:"image"`
	Prompt            string `json:"prompt"`
	Duration          int    `json:"duration"`
	Resolution        string `json:"resolution,omitempty"`
	MovementAmplitude string `json:"movement_amplitude,omitempty"`
	GenerateAudio     bool   `json:"generate_audio"`
	BGM               bool   `json:"bgm"`
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 90 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	return &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:            cfg.APIKey,
		imageModel:        cfg.ImageModel,
		videoModel:        cfg.VideoModel,
		acceptedDurations: cfg.AcceptedDurations,
		retry:             cfg.Retry,
		logger:            cfg.Logger,
		httpClient:        httpClient,
	}
}

// Submit validates input, posts it to the kind's model endpoint and returns
// the provider task id.
func (c *Client) Submit(ctx context.Context, kind models.TaskKind, input SubmitInput) (string, error) {
	payload, err := BuildInput(kind, input, c.acceptedDurations, c.logger)
	if err != nil {
		return "", err
	}

	model := input.Model
	if model == "" {
		model = c.modelFor(kind)
	}
	if model == "" {
		return "", invalidf("no model configured for %s", kind)
	}

	jsonData, err := json.Marshal(submitRequest{EnableBase64Output: false, Input: payload})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var body []byte
	err = c.retry.RetryWithBackoff(ctx, func() error {
		var reqErr error
		body, reqErr = c.do(ctx, http.MethodPost, c.baseURL+"/"+strings.TrimPrefix(model, "/"), bytes.NewReader(jsonData), "application/json")
		return reqErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to submit %s task: %w", kind, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: submit response is not a JSON object: %v", ErrProviderProtocol, err)
	}
	taskID := ExtractTaskID(doc)
	if taskID == "" {
		return "", fmt.Errorf("%w: no task id for %s, body: %s", ErrProviderProtocol, model, string(body))
	}

	c.logger.Info("generation task submitted", "event", "task_submitted", "kind", kind, "task_id", taskID, "model", model)
	return taskID, nil
}

// Poll fetches the current state of a task once. The result endpoint is tried
// first; if its response is missing or unrecognized the legacy prediction
// endpoint is tried before giving up with ErrProviderProtocol.
func (c *Client) Poll(ctx context.Context, kind models.TaskKind, taskID string) (*models.GenerationTask, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, invalidf("task id is required")
	}

	endpoints := []string{
		c.baseURL + "/predictions/" + taskID + "/result",
		c.baseURL + "/predictions/" + taskID,
	}

	var lastErr error
	for i, endpoint := range endpoints {
		pred, err := c.fetchPrediction(ctx, endpoint)
		if err == nil {
			task := pred.toTask(taskID, kind)
			task.LastPolledAt = time.Now().UTC()
			return task, nil
		}
		if !fallbackEligible(err) {
			return nil, err
		}
		lastErr = err
		if i == 0 {
			c.logger.Warn("prediction result endpoint unusable, trying legacy endpoint",
				"event", "poll_fallback", "task_id", taskID, "error", err)
		}
	}

	if errors.Is(lastErr, ErrProviderProtocol) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %v", ErrProviderProtocol, lastErr)
}

func (c *Client) fetchPrediction(ctx context.Context, endpoint string) (*prediction, error) {
	var body []byte
	err := c.retry.RetryWithBackoff(ctx, func() error {
		var reqErr error
		body, reqErr = c.do(ctx, http.MethodGet, endpoint, nil, "")
		return reqErr
	})
	if err != nil {
		return nil, err
	}
	return parsePrediction(body)
}

// fallbackEligible reports whether a poll error should send us to the next
// endpoint variant: unrecognized shapes and 404/405 from the first one.
func fallbackEligible(err error) bool {
	if errors.Is(err, ErrProviderProtocol) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound || apiErr.StatusCode == http.StatusMethodNotAllowed
	}
	return false
}

// UploadBinary sends raw bytes to the media endpoint and returns the hosted
// URL. A rejected raw upload is retried once as multipart form data.
func (c *Client) UploadBinary(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", invalidf("upload of %q has no content", filename)
	}

	endpoint := c.baseURL + "/media/upload/binary"
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	var body []byte
	rawErr := c.retry.RetryWithBackoff(ctx, func() error {
		var reqErr error
		body, reqErr = c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(data), contentType)
		return reqErr
	})
	if rawErr != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrUpload, ctx.Err())
		}
		c.logger.Warn("raw upload rejected, retrying as multipart",
			"event", "upload_multipart_retry", "file", filename, "error", rawErr)

		form, formType, err := multipartBody(filename, contentType, data)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrUpload, err)
		}
		err = c.retry.RetryWithBackoff(ctx, func() error {
			var reqErr error
			body, reqErr = c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(form), formType)
			return reqErr
		})
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUpload, filename, err)
		}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: upload response is not JSON: %v", ErrUpload, err)
	}
	urls := CollectURLs(doc)
	if len(urls) == 0 {
		return "", fmt.Errorf("%w: no URL returned for %s, body: %s", ErrUpload, filename, string(body))
	}
	return urls[0], nil
}

func multipartBody(filename, contentType string, data []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename)))
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to write form part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// do performs one request. Network failures wrap ErrTransport; non-2xx
// statuses come back as *APIError.
func (c *Client) do(ctx context.Context, method, url string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (c *Client) modelFor(kind models.TaskKind) string {
	if kind == models.TaskKindSceneVideo {
		return c.videoModel
	}
	return c.imageModel
}

// BuildInput validates a submission and returns the provider input object.
// Video durations are normalized to the accepted set, with a warning logged
// when the requested value changes.
func BuildInput(kind models.TaskKind, in SubmitInput, acceptedDurations []int, logger *slog.Logger) (any, error) {
	prompt := strings.TrimSpace(in.Prompt)

	switch kind {
	case models.TaskKindCharacter, models.TaskKindSceneImage:
		if prompt == "" {
			return nil, invalidf("%s job requires a prompt", kind)
		}
		images := nonEmpty(in.Images)
		if len(images) == 0 {
			return nil, invalidf("%s job requires at least one reference image", kind)
		}
		return imageInput{
			Prompt:       prompt,
			Images:       images,
			Resolution:   in.Resolution,
			OutputFormat: in.OutputFormat,
		}, nil

	case models.TaskKindSceneVideo:
		if !isURL(strings.TrimSpace(in.Image)) {
			return nil, invalidf("video job requires a source image URL")
		}
		if prompt == "" {
			return nil, invalidf("video job requires a prompt")
		}
		duration, changed := NormalizeDuration(in.Duration, acceptedDurations)
		if changed && logger != nil {
			logger.Warn("video duration normalized to accepted value",
				"event", "duration_normalized", "requested", in.Duration, "submitted", duration, "accepted", acceptedDurations)
		}
		return videoInput{
			Image:             strings.TrimSpace(in.Image),
			Prompt:            prompt,
			Duration:          duration,
			Resolution:        in.Resolution,
			MovementAmplitude: in.MovementAmplitude,
			GenerateAudio:     in.GenerateAudio,
			BGM:               in.BGM,
		}, nil

	default:
		return nil, invalidf("unknown task kind %q", kind)
	}
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
