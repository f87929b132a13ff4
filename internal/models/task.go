package models

import "time"

type TaskKind string

const (
	TaskKindCharacter  TaskKind = "character"
	TaskKindSceneImage TaskKind = "scene_image"
	TaskKindSceneVideo TaskKind = "scene_video"
)

type TaskStatus string

const (
	TaskStatusSubmitted TaskStatus = "submitted"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
)

// Terminal reports whether no further transition can occur from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusTimedOut:
		return true
	}
	return false
}

// GenerationTask is one provider-side asynchronous job. ResultURL is set
// only when Status is succeeded.
type GenerationTask struct {
	TaskID       string     `json:"task_id"`
	Kind         TaskKind   `json:"kind"`
	Status       TaskStatus `json:"status"`
	ResultURL    *string    `json:"result_url"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	LastPolledAt time.Time  `json:"last_polled_at"`
	Error        *string    `json:"error"`
}

// Succeed moves the task to succeeded with the given result URL.
func (t *GenerationTask) Succeed(url string) {
	t.Status = TaskStatusSucceeded
	t.ResultURL = &url
	t.Error = nil
}

// Fail moves the task to a failing terminal status and clears any result URL.
func (t *GenerationTask) Fail(status TaskStatus, msg string) {
	t.Status = status
	t.ResultURL = nil
	t.Error = &msg
}

func (t *GenerationTask) URL() string {
	if t == nil || t.ResultURL == nil {
		return ""
	}
	return *t.ResultURL
}

func (t *GenerationTask) ErrorMessage() string {
	if t == nil || t.Error == nil {
		return ""
	}
	return *t.Error
}
