package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Story is the input document for one pipeline run. JSON inputs parse as well
// since JSON is valid YAML.
type Story struct {
	StoryID              string             `yaml:"story_id"`
	StyleReferenceImages []string           `yaml:"style_reference_images"`
	Character            StoryCharacter     `yaml:"character"`
	Generation           GenerationOverride `yaml:"generation"`
	Scenes               []StoryScene       `yaml:"scenes"`
	Output               StoryOutput        `yaml:"output"`
	VoiceoverScriptPath  string             `yaml:"voiceover_script_path"`
}

type StoryCharacter struct {
	Name                 string   `yaml:"name"`
	Aliases              []string `yaml:"aliases"`
	CharacterModelPrompt string   `yaml:"character_model_prompt"`
	ConsistencyNotes     string   `yaml:"consistency_notes"`
}

type StoryScene struct {
	SceneID         string   `yaml:"scene_id"`
	Position        int      `yaml:"position"`
	Narration       string   `yaml:"narration"`
	ImagePrompt     string   `yaml:"image_prompt"`
	MotionPrompt    string   `yaml:"motion_prompt"`
	ReferenceImages []string `yaml:"reference_images"`
}

type StoryOutput struct {
	CloudTarget   string `yaml:"cloud_target"`
	SupabaseTable string `yaml:"supabase_table"`
}

// GenerationOverride holds per-story generation settings. Nil fields fall back
// to the environment defaults.
type GenerationOverride struct {
	ImageModel            *string  `yaml:"image_model"`
	VideoModel            *string  `yaml:"video_model"`
	ImageResolution       *string  `yaml:"image_resolution"`
	ImageOutputFormat     *string  `yaml:"image_output_format"`
	VideoDurationSeconds  *int     `yaml:"video_duration_seconds"`
	VideoResolution       *string  `yaml:"video_resolution"`
	MovementAmplitude     *string  `yaml:"movement_amplitude"`
	GenerateAudio         *bool    `yaml:"generate_audio"`
	BGM                   *bool    `yaml:"bgm"`
	PollIntervalSeconds   *int     `yaml:"poll_interval_seconds"`
	PollTimeoutSeconds    *int     `yaml:"poll_timeout_seconds"`
	SceneConcurrency      *int     `yaml:"scene_concurrency"`
	CharacterAutoReuse    *bool    `yaml:"character_auto_reuse"`
	CharacterFailureFatal *bool    `yaml:"character_failure_fatal"`
	IdentityAuditEnabled  *bool    `yaml:"identity_audit_enabled"`
	IdentityAuditSources  []string `yaml:"identity_audit_sources"`
	MinConfidenceScore    *float64 `yaml:"min_confidence_score"`
}

// Generation is the effective set of generation settings for one run.
type Generation struct {
	ImageModel            string
	VideoModel            string
	ImageResolution       string
	ImageOutputFormat     string
	VideoDurationSeconds  int
	VideoResolution       string
	MovementAmplitude     string
	GenerateAudio         bool
	BGM                   bool
	PollInterval          time.Duration
	PollTimeout           time.Duration
	SceneConcurrency      int
	CharacterAutoReuse    bool
	CharacterFailureFatal bool
	IdentityAuditEnabled  bool
	IdentityAuditSources  []string
	MinConfidenceScore    float64
}

func LoadStory(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read story file: %w", err)
	}
	return ParseStory(data)
}

func ParseStory(data []byte) (*Story, error) {
	var story Story
	if err := yaml.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("failed to parse story file: %w", err)
	}
	story.applyDefaults()
	if err := story.Validate(); err != nil {
		return nil, err
	}
	return &story, nil
}

func (s *Story) applyDefaults() {
	for i := range s.Scenes {
		if s.Scenes[i].SceneID == "" {
			s.Scenes[i].SceneID = fmt.Sprintf("scene_%02d", i+1)
		}
		if s.Scenes[i].Position == 0 {
			s.Scenes[i].Position = i + 1
		}
	}
	if s.Character.Name == "" {
		s.Character.Name = s.StoryID
	}
}

func (s *Story) Validate() error {
	if strings.TrimSpace(s.StoryID) == "" {
		return fmt.Errorf("story_id is required")
	}
	if len(s.StyleReferenceImages) == 0 {
		return fmt.Errorf("at least one style reference image is required")
	}
	if strings.TrimSpace(s.Character.CharacterModelPrompt) == "" {
		return fmt.Errorf("character.character_model_prompt is required")
	}
	if len(s.Scenes) == 0 {
		return fmt.Errorf("story must include at least one scene")
	}
	seen := make(map[int]string, len(s.Scenes))
	for _, scene := range s.Scenes {
		if other, ok := seen[scene.Position]; ok {
			return fmt.Errorf("scenes %s and %s share position %d", other, scene.SceneID, scene.Position)
		}
		seen[scene.Position] = scene.SceneID
	}
	return nil
}

// ResolveGeneration merges the story's overrides onto the environment defaults.
func (s *Story) ResolveGeneration(cfg *Config) Generation {
	g := Generation{
		ImageModel:            cfg.ImageModel,
		VideoModel:            cfg.VideoModel,
		ImageResolution:       cfg.ImageResolution,
		ImageOutputFormat:     cfg.ImageOutputFormat,
		VideoDurationSeconds:  cfg.VideoDurationSeconds,
		VideoResolution:       cfg.VideoResolution,
		MovementAmplitude:     cfg.VideoMovementAmplitude,
		GenerateAudio:         cfg.VideoGenerateAudio,
		BGM:                   cfg.VideoBGM,
		PollInterval:          cfg.PollInterval,
		PollTimeout:           cfg.PollTimeout,
		SceneConcurrency:      cfg.SceneConcurrency,
		CharacterAutoReuse:    cfg.CharacterAutoReuse,
		CharacterFailureFatal: cfg.CharacterFailureFatal,
		IdentityAuditEnabled:  cfg.AuditEnabled,
		IdentityAuditSources:  cfg.AuditSources,
		MinConfidenceScore:    cfg.AuditMinConfidence,
	}

	o := s.Generation
	setString(&g.ImageModel, o.ImageModel)
	setString(&g.VideoModel, o.VideoModel)
	setString(&g.ImageResolution, o.ImageResolution)
	setString(&g.ImageOutputFormat, o.ImageOutputFormat)
	setString(&g.VideoResolution, o.VideoResolution)
	setString(&g.MovementAmplitude, o.MovementAmplitude)
	if o.VideoDurationSeconds != nil {
		g.VideoDurationSeconds = *o.VideoDurationSeconds
	}
	if o.GenerateAudio != nil {
		g.GenerateAudio = *o.GenerateAudio
	}
	if o.BGM != nil {
		g.BGM = *o.BGM
	}
	if o.PollIntervalSeconds != nil && *o.PollIntervalSeconds > 0 {
		g.PollInterval = time.Duration(*o.PollIntervalSeconds) * time.Second
	}
	if o.PollTimeoutSeconds != nil && *o.PollTimeoutSeconds > 0 {
		g.PollTimeout = time.Duration(*o.PollTimeoutSeconds) * time.Second
	}
	if o.SceneConcurrency != nil && *o.SceneConcurrency > 0 {
		g.SceneConcurrency = *o.SceneConcurrency
	}
	if o.CharacterAutoReuse != nil {
		g.CharacterAutoReuse = *o.CharacterAutoReuse
	}
	if o.CharacterFailureFatal != nil {
		g.CharacterFailureFatal = *o.CharacterFailureFatal
	}
	if o.IdentityAuditEnabled != nil {
		g.IdentityAuditEnabled = *o.IdentityAuditEnabled
	}
	if len(o.IdentityAuditSources) > 0 {
		g.IdentityAuditSources = o.IdentityAuditSources
	}
	if o.MinConfidenceScore != nil {
		g.MinConfidenceScore = *o.MinConfidenceScore
	}
	return g
}

func setString(dst *string, v *string) {
	if v != nil && strings.TrimSpace(*v) != "" {
		*dst = *v
	}
}
