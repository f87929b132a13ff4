package models

import "time"

// JobRef is the per-scene view of one generation task.
type JobRef struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
	URL    string     `json:"url"`
}

// Scene is one narrative unit of a story. Position defines ordering and is
// unique within a run.
type Scene struct {
	SceneID         string    `json:"scene_id"`
	Position        int       `json:"position"`
	Narration       string    `json:"narration"`
	ImagePrompt     string    `json:"image_prompt"`
	MotionPrompt    string    `json:"motion_prompt"`
	ReferenceImages []string  `json:"reference_images"`
	Image           JobRef    `json:"image"`
	Video           JobRef    `json:"video"`
	LastError       string    `json:"last_error"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ApplyTask copies the outcome of a generation task into the matching sub-record.
func (s *Scene) ApplyTask(task *GenerationTask, at time.Time) {
	ref := JobRef{TaskID: task.TaskID, Status: task.Status, URL: task.URL()}
	switch task.Kind {
	case TaskKindSceneImage:
		s.Image = ref
	case TaskKindSceneVideo:
		s.Video = ref
	}
	if msg := task.ErrorMessage(); msg != "" {
		s.LastError = msg
	}
	s.UpdatedAt = at
}

// CanSubmitVideo reports whether the scene image is ready to condition a video job.
func (s *Scene) CanSubmitVideo() bool {
	return s.Image.Status == TaskStatusSucceeded && s.Image.URL != ""
}
