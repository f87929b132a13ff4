package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Error stages recorded in RunPayload.Errors.
const (
	StageReferences    = "references"
	StageSourceScript  = "source_script"
	StageIdentityAudit = "identity_audit"
	StageRegistry      = "registry"
	StageCharacter     = "character"
	StageSceneImage    = "scene_image"
	StageSceneVideo    = "scene_video"
	StageCloudTransfer = "cloud_transfer"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSuccess DeliveryStatus = "success"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
)

type RunTimes struct {
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

type CloudTransfer struct {
	Provider      string         `json:"provider"`
	Status        DeliveryStatus `json:"status"`
	Destination   *string        `json:"destination"`
	Message       string         `json:"message,omitempty"`
	PrimaryError  string         `json:"primary_error,omitempty"`
	TransferredAt *time.Time     `json:"transferred_at,omitempty"`
}

type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

type SourceScript struct {
	Path string `json:"path"`
	Text string `json:"text"`
}

// RunPayload is the durable artifact of one pipeline execution. Other tooling
// reads it back, so field names are a stable contract.
type RunPayload struct {
	StoryID        string          `json:"story_id"`
	RunID          string          `json:"run_id"`
	Status         RunStatus       `json:"status"`
	Run            RunTimes        `json:"run"`
	CharacterModel *CharacterModel `json:"character_model"`
	Scenes         []Scene         `json:"scenes"`
	CloudTransfer  CloudTransfer   `json:"cloud_transfer"`
	Errors         []StageError    `json:"errors"`
	SourceScript   *SourceScript   `json:"source_script,omitempty"`
}

func (p *RunPayload) AddError(stage, message string) {
	p.Errors = append(p.Errors, StageError{Stage: stage, Message: message})
}

// HasErrors reports whether any error was recorded under stage.
func (p *RunPayload) HasErrors(stage string) bool {
	for _, e := range p.Errors {
		if e.Stage == stage {
			return true
		}
	}
	return false
}
