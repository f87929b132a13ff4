// Package orchestrator drives one story run: resolve the character, generate
// every scene's image and video, then hand the payload to delivery.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"story-pipeline-backend/internal/config"
	"story-pipeline-backend/internal/htmlmeta"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/observability"
	"story-pipeline-backend/internal/wavespeed"
)

// TaskClient submits and polls generation tasks.
type TaskClient interface {
	Submit(ctx context.Context, kind models.TaskKind, input wavespeed.SubmitInput) (string, error)
	Poll(ctx context.Context, kind models.TaskKind, taskID string) (*models.GenerationTask, error)
	UploadBinary(ctx context.Context, filename string, data []byte) (string, error)
}

type Auditor interface {
	Audit(ctx context.Context, target string, sources []string, minConfidence float64) (*models.IdentityAuditResult, error)
}

type CharacterRegistry interface {
	Lookup(ctx context.Context, name string) (*models.RegistryRecord, error)
	Upsert(ctx context.Context, record models.RegistryRecord) (*models.RegistryRecord, error)
	TouchUsage(ctx context.Context, id string) error
}

// SceneStore receives every scene update. Writes are partitioned by scene id.
type SceneStore interface {
	SaveScene(ctx context.Context, storyID, runID string, scene models.Scene) error
}

type Deliverer interface {
	Deliver(ctx context.Context, payload *models.RunPayload) (models.CloudTransfer, error)
}

// Checkpointer persists intermediate and final payloads for one run.
type Checkpointer interface {
	Checkpoint(ctx context.Context, payload *models.RunPayload) error
	Finalize(ctx context.Context, payload *models.RunPayload) (string, error)
}

type Deps struct {
	Tasks       TaskClient
	Auditor     Auditor
	Registry    CharacterRegistry
	Scenes      SceneStore
	Delivery    Deliverer
	Checkpoints Checkpointer
	Pages       *htmlmeta.Fetcher
	Logger      *slog.Logger
	Now         func() time.Time
}

type Orchestrator struct {
	tasks       TaskClient
	auditor     Auditor
	registry    CharacterRegistry
	scenes      SceneStore
	delivery    Deliverer
	checkpoints Checkpointer
	pages       *htmlmeta.Fetcher
	logger      *slog.Logger
	now         func() time.Time
}

func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Pages == nil {
		deps.Pages = htmlmeta.NewFetcher(nil)
	}
	return &Orchestrator{
		tasks:       deps.Tasks,
		auditor:     deps.Auditor,
		registry:    deps.Registry,
		scenes:      deps.Scenes,
		delivery:    deps.Delivery,
		checkpoints: deps.Checkpoints,
		pages:       deps.Pages,
		logger:      deps.Logger,
		now:         deps.Now,
	}
}

// State is a step of the run state machine.
type State string

const (
	StateStart            State = "start"
	StateResolveCharacter State = "resolve_character"
	StateCharacterPending State = "character_pending"
	StateCharacterReady   State = "character_ready"
	StateScenesPending    State = "scenes_pending"
	StateScenesReady      State = "scenes_ready"
	StateDeliver          State = "deliver"
	StateDone             State = "done"
)

type RunRequest struct {
	Story      *config.Story
	Generation config.Generation
	// RunID is generated when empty.
	RunID        string
	SkipDelivery bool
	// BaseDir resolves relative reference and script paths.
	BaseDir string
}

type Result struct {
	Payload *models.RunPayload
	// OutputPath is the final local payload file, when checkpoints are enabled.
	OutputPath string
}

// run holds the mutable state of one execution. mu guards payload while
// scene workers update it.
type run struct {
	mu      sync.Mutex
	payload *models.RunPayload
	req     RunRequest
	state   State
	logger  *slog.Logger
}

func (r *run) addError(stage, msg string) {
	r.mu.Lock()
	r.payload.AddError(stage, msg)
	r.mu.Unlock()
	r.logger.Warn("stage error recorded", "event", "stage_error", "stage", stage, "error", msg)
}

// NewRunID returns an id of the form 20060102T150405Z-1a2b3c4d.
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return now.UTC().Format("20060102T150405Z") + "-" + suffix
}

// Run executes the whole pipeline for one story. Stage failures are recorded
// in the payload; the error is non-nil only when the run cannot start.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.Story == nil {
		return nil, errors.New("run request has no story")
	}
	if o.tasks == nil {
		return nil, errors.New("orchestrator has no task client")
	}
	if req.RunID == "" {
		req.RunID = NewRunID(o.now())
	}

	story := req.Story
	provider := story.Output.CloudTarget
	if provider == "" {
		provider = "supabase"
	}
	r := &run{
		req:    req,
		state:  StateStart,
		logger: o.logger.With("run_id", req.RunID, "story_id", story.StoryID),
		payload: &models.RunPayload{
			StoryID: story.StoryID,
			RunID:   req.RunID,
			Status:  models.RunStatusRunning,
			Run:     models.RunTimes{StartedAt: o.now()},
			Scenes:  []models.Scene{},
			CloudTransfer: models.CloudTransfer{
				Provider: provider,
				Status:   models.DeliveryStatusPending,
			},
			Errors: []models.StageError{},
		},
	}

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("run.id", req.RunID),
		attribute.String("story.id", story.StoryID),
		attribute.Int("scene.count", len(story.Scenes)),
	)
	defer span.End()

	r.logger.Info("pipeline run started", "event", "run_started", "scenes", len(story.Scenes))
	o.checkpoint(ctx, r)

	o.loadSourceScript(r)

	fatal := false
	styleRefs, err := o.resolveReferences(ctx, r, story.StyleReferenceImages)
	if err != nil {
		r.addError(models.StageReferences, err.Error())
		fatal = true
	}

	if !fatal {
		o.transition(ctx, r, StateResolveCharacter)
		character := o.resolveCharacter(ctx, r, styleRefs)
		r.mu.Lock()
		r.payload.CharacterModel = character
		r.mu.Unlock()
		o.transition(ctx, r, StateCharacterReady)

		if !character.Ready() && req.Generation.CharacterFailureFatal {
			fatal = true
		}

		o.transition(ctx, r, StateScenesPending)
		o.runScenes(ctx, r, styleRefs, character)
		o.transition(ctx, r, StateScenesReady)
	}

	ended := o.now()
	r.mu.Lock()
	r.payload.Run.EndedAt = &ended
	if fatal {
		r.payload.Status = models.RunStatusFailed
	} else {
		r.payload.Status = models.RunStatusCompleted
	}
	r.mu.Unlock()

	o.transition(ctx, r, StateDeliver)
	o.deliver(ctx, r)
	o.transition(ctx, r, StateDone)

	result := &Result{Payload: r.payload}
	if o.checkpoints != nil {
		path, err := o.checkpoints.Finalize(ctx, r.payload)
		if err != nil {
			r.logger.Error("failed to write final payload", "event", "payload_write_failed", "error", err)
		}
		result.OutputPath = path
	}

	span.SetAttributes(
		attribute.String("run.status", string(r.payload.Status)),
		attribute.Int("run.errors", len(r.payload.Errors)),
	)
	r.logger.Info("pipeline run finished",
		"event", "run_finished",
		"status", r.payload.Status,
		"errors", len(r.payload.Errors),
		"cloud_status", r.payload.CloudTransfer.Status,
	)
	return result, nil
}

func (o *Orchestrator) deliver(ctx context.Context, r *run) {
	if r.req.SkipDelivery || o.delivery == nil {
		r.payload.CloudTransfer.Status = models.DeliveryStatusSkipped
		r.payload.CloudTransfer.Message = "delivery skipped"
		r.logger.Info("delivery skipped", "event", "delivery_skipped")
		return
	}

	transfer, err := o.delivery.Deliver(ctx, r.payload)
	r.payload.CloudTransfer = transfer
	if err != nil {
		r.payload.AddError(models.StageCloudTransfer, err.Error())
		r.payload.Status = models.RunStatusFailed
		r.logger.Error("payload delivery failed", "event", "delivery_failed", "error", err)
	}
}

func (o *Orchestrator) transition(ctx context.Context, r *run, next State) {
	r.logger.Info("run state changed", "event", "run_state", "from", r.state, "to", next)
	r.state = next
	o.checkpoint(ctx, r)
}

func (o *Orchestrator) checkpoint(ctx context.Context, r *run) {
	if o.checkpoints == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := o.checkpoints.Checkpoint(ctx, r.payload); err != nil {
		r.logger.Warn("checkpoint failed", "event", "checkpoint_failed", "error", err)
	}
}

func (o *Orchestrator) loadSourceScript(r *run) {
	raw := strings.TrimSpace(r.req.Story.VoiceoverScriptPath)
	if raw == "" {
		return
	}
	path := resolvePath(r.req.BaseDir, raw)
	text, err := os.ReadFile(path)
	if err != nil {
		r.addError(models.StageSourceScript, fmt.Sprintf("voiceover_script_path unreadable: %v", err))
		return
	}
	r.payload.SourceScript = &models.SourceScript{Path: path, Text: string(text)}
}

func resolvePath(baseDir, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[2:])
		}
	}
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
