package models

import "time"

type CharacterSource string

const (
	CharacterSourceGenerated     CharacterSource = "generated"
	CharacterSourceRegistryReuse CharacterSource = "registry_reuse"
)

// CharacterModel is the run's single consistency anchor.
type CharacterModel struct {
	TaskID           string               `json:"task_id"`
	Status           TaskStatus           `json:"status"`
	ImageURL         string               `json:"image_url"`
	Source           CharacterSource      `json:"source"`
	RegistryID       *string              `json:"registry_id"`
	IdentityAudit    *IdentityAuditResult `json:"identity_audit"`
	ConsistencyNotes string               `json:"consistency_notes,omitempty"`
}

// Ready reports whether the character image can be used as a consistency reference.
func (c *CharacterModel) Ready() bool {
	return c != nil && c.Status == TaskStatusSucceeded && c.ImageURL != ""
}

type AuditStatus string

const (
	AuditStatusVerified    AuditStatus = "verified"
	AuditStatusNeedsReview AuditStatus = "needs_review"
	AuditStatusReused      AuditStatus = "reused"
	AuditStatusFailed      AuditStatus = "failed"
)

type AuditCandidate struct {
	Title         string  `json:"title"`
	ImageURL      string  `json:"image_url"`
	SourceURL     string  `json:"source_url"`
	Score         float64 `json:"score"`
	MatchedTokens int     `json:"matched_tokens"`
	Source        string  `json:"source,omitempty"`
	Summary       string  `json:"-"`
}

type AuditSourceError struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// IdentityAuditResult is a heuristic classification, verified meaning high
// confidence rather than certainty.
type IdentityAuditResult struct {
	TargetName              string             `json:"target_name"`
	Status                  AuditStatus        `json:"status"`
	Score                   float64            `json:"score"`
	Candidates              []AuditCandidate   `json:"candidates"`
	SelectedReferenceImages []string           `json:"selected_reference_images"`
	SelectedSourceURLs      []string           `json:"selected_source_urls"`
	ReviewReferenceImages   []string           `json:"review_reference_images"`
	ReviewSourceURLs        []string           `json:"review_source_urls"`
	SourceErrors            []AuditSourceError `json:"source_errors,omitempty"`
}

// RegistryRecord is a persisted, reusable character model keyed by NameKey.
type RegistryRecord struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	NameKey     string     `json:"name_key"`
	Aliases     []string   `json:"aliases"`
	ImageURL    string     `json:"image_url"`
	SourceURL   string     `json:"source_url"`
	AuditScore  float64    `json:"audit_score"`
	AuditStatus string     `json:"audit_status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
}
