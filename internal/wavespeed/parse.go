package wavespeed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"story-pipeline-backend/internal/models"
)

var (
	successStatuses = map[string]bool{"succeeded": true, "completed": true, "success": true, "finished": true}
	failureStatuses = map[string]bool{"failed": true, "error": true, "canceled": true, "cancelled": true}
	queuedStatuses  = map[string]bool{"created": true, "queued": true, "pending": true, "submitted": true}

	imageExtensions = []string{".png", ".jpg", ".jpeg", ".webp"}
	videoExtensions = []string{".mp4", ".mov", ".webm", ".mkv"}
)

// prediction is the provider-neutral view of one poll response.
type prediction struct {
	RawStatus string
	Outputs   []string
	Error     string
}

// NormalizeStatus maps a provider status string onto the task lifecycle.
// Unknown non-empty values are treated as still running.
func NormalizeStatus(raw string) models.TaskStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case successStatuses[s]:
		return models.TaskStatusSucceeded
	case failureStatuses[s]:
		return models.TaskStatusFailed
	case queuedStatuses[s]:
		return models.TaskStatusSubmitted
	default:
		return models.TaskStatusRunning
	}
}

// parsePrediction understands the current envelope ({"code":200,"data":{...}})
// and the legacy flat shape (status/state/result.status at the top level).
func parsePrediction(body []byte) (*prediction, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", ErrProviderProtocol, err)
	}

	if data, ok := doc["data"].(map[string]any); ok {
		if status := stringField(data, "status"); status != "" {
			return &prediction{
				RawStatus: status,
				Outputs:   outputURLs(data),
				Error:     ExtractErrorMessage(data),
			}, nil
		}
	}

	if status := legacyStatus(doc); status != "" {
		return &prediction{
			RawStatus: status,
			Outputs:   outputURLs(doc),
			Error:     ExtractErrorMessage(doc),
		}, nil
	}

	return nil, fmt.Errorf("%w: no status field in response", ErrProviderProtocol)
}

func legacyStatus(doc map[string]any) string {
	if s := stringField(doc, "status"); s != "" {
		return s
	}
	if s := stringField(doc, "state"); s != "" {
		return s
	}
	if result, ok := doc["result"].(map[string]any); ok {
		return stringField(result, "status")
	}
	return ""
}

// outputURLs prefers the explicit output keys and otherwise scans the whole
// object, skipping the provider's own "urls" links block.
func outputURLs(obj map[string]any) []string {
	for _, key := range []string{"outputs", "output"} {
		if v, ok := obj[key]; ok {
			if urls := CollectURLs(v); len(urls) > 0 {
				return urls
			}
		}
	}
	var urls []string
	for _, key := range sortedKeys(obj) {
		if key == "urls" {
			continue
		}
		urls = append(urls, CollectURLs(obj[key])...)
	}
	return urls
}

// toTask converts a parsed prediction to a GenerationTask. A success without
// an output URL is reported as a failure.
func (p *prediction) toTask(taskID string, kind models.TaskKind) *models.GenerationTask {
	task := &models.GenerationTask{TaskID: taskID, Kind: kind}
	switch status := NormalizeStatus(p.RawStatus); status {
	case models.TaskStatusSucceeded:
		output := ChoosePrimaryURL(p.Outputs, kind)
		if output == "" {
			task.Fail(models.TaskStatusFailed, "provider reported success without an output URL")
			return task
		}
		task.Succeed(output)
	case models.TaskStatusFailed:
		msg := p.Error
		if msg == "" {
			msg = "Unknown provider error"
		}
		task.Fail(models.TaskStatusFailed, msg)
	default:
		task.Status = status
	}
	return task
}

// CollectURLs walks a decoded JSON value and returns every http(s) string in
// encounter order. Map iteration follows sorted keys for stable output.
func CollectURLs(v any) []string {
	var urls []string
	switch val := v.(type) {
	case string:
		if isURL(val) {
			urls = append(urls, val)
		}
	case []any:
		for _, item := range val {
			urls = append(urls, CollectURLs(item)...)
		}
	case map[string]any:
		for _, key := range sortedKeys(val) {
			urls = append(urls, CollectURLs(val[key])...)
		}
	}
	return urls
}

// ExtractTaskID finds id, task_id or prediction_id, descending into "data".
func ExtractTaskID(obj map[string]any) string {
	for _, key := range []string{"id", "task_id", "prediction_id"} {
		if s := stringField(obj, key); s != "" {
			return s
		}
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return ExtractTaskID(data)
	}
	return ""
}

// ExtractErrorMessage finds error, message or detail, descending into nested
// objects and "data". Returns "" when nothing is found.
func ExtractErrorMessage(obj map[string]any) string {
	for _, key := range []string{"error", "message", "detail"} {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			if s := ExtractErrorMessage(v); s != "" {
				return s
			}
		}
	}
	if data, ok := obj["data"].(map[string]any); ok {
		return ExtractErrorMessage(data)
	}
	return ""
}

// ChoosePrimaryURL picks the first URL matching the kind's extension priority,
// falling back to the first URL. Returns "" for an empty list.
func ChoosePrimaryURL(urls []string, kind models.TaskKind) string {
	if len(urls) == 0 {
		return ""
	}
	priority := imageExtensions
	if kind == models.TaskKindSceneVideo {
		priority = videoExtensions
	}
	for _, ext := range priority {
		for _, u := range urls {
			if urlExt(u) == ext {
				return u
			}
		}
	}
	return urls[0]
}

// urlExt returns the lower-cased extension of u's path, ignoring query and
// fragment.
func urlExt(u string) string {
	p := u
	if parsed, err := url.Parse(u); err == nil {
		p = parsed.Path
	}
	return strings.ToLower(path.Ext(p))
}

// NormalizeDuration returns the accepted value nearest to requested. Ties go
// to the smaller value. The boolean reports whether the value changed.
func NormalizeDuration(requested int, accepted []int) (int, bool) {
	if len(accepted) == 0 {
		return requested, false
	}
	best := accepted[0]
	for _, a := range accepted[1:] {
		da, db := abs(a-requested), abs(best-requested)
		if da < db || (da == db && a < best) {
			best = a
		}
	}
	return best, best != requested
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
