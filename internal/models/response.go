package models

import "time"

type RunSummary struct {
	RunID         string         `json:"run_id"`
	StoryID       string         `json:"story_id"`
	Status        RunStatus      `json:"status"`
	SceneCount    int            `json:"scene_count"`
	ErrorCount    int            `json:"error_count"`
	CloudStatus   DeliveryStatus `json:"cloud_status"`
	CloudProvider string         `json:"cloud_provider"`
	StartedAt     time.Time      `json:"started_at"`
	EndedAt       *time.Time     `json:"ended_at"`
	OutputPath    string         `json:"output_path,omitempty"`
}

func SummarizeRun(p *RunPayload, outputPath string) RunSummary {
	return RunSummary{
		RunID:         p.RunID,
		StoryID:       p.StoryID,
		Status:        p.Status,
		SceneCount:    len(p.Scenes),
		ErrorCount:    len(p.Errors),
		CloudStatus:   p.CloudTransfer.Status,
		CloudProvider: p.CloudTransfer.Provider,
		StartedAt:     p.Run.StartedAt,
		EndedAt:       p.Run.EndedAt,
		OutputPath:    outputPath,
	}
}

type TriggerAcceptedResponse struct {
	Status      string `json:"status"`
	RunID       string `json:"run_id,omitempty"`
	QueueTaskID string `json:"queue_task_id,omitempty"`
	Trigger     string `json:"trigger,omitempty"`
	Message     string `json:"message,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
