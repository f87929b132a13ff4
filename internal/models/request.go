package models

type TriggerRunRequest struct {
	// StoryPath overrides the configured story file.
	StoryPath    string `json:"story_path,omitempty"`
	DryRun       bool   `json:"dry_run"`
	SkipDelivery bool   `json:"skip_delivery"`
	// Provider is one of "auto", "supabase" or "storage".
	Provider string `json:"provider,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
