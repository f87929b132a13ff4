package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"story-pipeline-backend/internal/config"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/observability"
	"story-pipeline-backend/internal/wavespeed"
)

// sceneJob is one scene's input plus its slot in the payload.
type sceneJob struct {
	index int
	def   config.StoryScene
}

// runScenes processes scenes in ascending position with up to
// SceneConcurrency workers. Submissions of each kind happen in position
// order regardless of which worker finishes first. A failing scene never
// stops its siblings.
func (o *Orchestrator) runScenes(ctx context.Context, r *run, styleRefs []string, character *models.CharacterModel) {
	defs := append([]config.StoryScene(nil), r.req.Story.Scenes...)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Position < defs[j].Position })
	n := len(defs)

	baseRefs := append([]string(nil), styleRefs...)
	if character.Ready() {
		baseRefs = append(baseRefs, character.ImageURL)
	}

	r.mu.Lock()
	r.payload.Scenes = make([]models.Scene, n)
	for i, def := range defs {
		r.payload.Scenes[i] = models.Scene{
			SceneID:         def.SceneID,
			Position:        def.Position,
			Narration:       def.Narration,
			ImagePrompt:     def.ImagePrompt,
			MotionPrompt:    def.MotionPrompt,
			ReferenceImages: []string{},
			UpdatedAt:       o.now(),
		}
	}
	r.mu.Unlock()

	workers := r.req.Generation.SceneConcurrency
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	imageGate := newTurnstile(n)
	videoGate := newTurnstile(n)
	sceneErrors := make([][]models.StageError, n)

	jobs := make(chan sceneJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				sceneErrors[job.index] = o.processScene(ctx, r, job, baseRefs, imageGate, videoGate)
			}
		}()
	}
	for i, def := range defs {
		jobs <- sceneJob{index: i, def: def}
	}
	close(jobs)
	wg.Wait()

	r.mu.Lock()
	for _, errs := range sceneErrors {
		r.payload.Errors = append(r.payload.Errors, errs...)
	}
	r.mu.Unlock()
}

// processScene runs image then video for one scene and returns the stage
// errors it produced. Both gates are always passed exactly once.
func (o *Orchestrator) processScene(ctx context.Context, r *run, job sceneJob, baseRefs []string, imageGate, videoGate *turnstile) []models.StageError {
	def := job.def
	gen := r.req.Generation
	logger := r.logger.With("scene_id", def.SceneID, "position", def.Position)

	ctx, span := observability.StartSpan(ctx, "pipeline.scene",
		attribute.String("scene.id", def.SceneID),
		attribute.Int("scene.position", def.Position),
	)
	defer span.End()

	var errs []models.StageError
	fail := func(stage string, err error) {
		msg := fmt.Sprintf("%s: %v", def.SceneID, err)
		errs = append(errs, models.StageError{Stage: stage, Message: msg})
		logger.Warn("scene stage failed", "event", "scene_stage_failed", "stage", stage, "error", err)
	}

	r.mu.Lock()
	scene := r.payload.Scenes[job.index]
	r.mu.Unlock()

	refs := append([]string(nil), baseRefs...)
	if len(def.ReferenceImages) > 0 {
		extra, err := o.resolveReferences(ctx, r, def.ReferenceImages)
		if err != nil {
			fail(models.StageReferences, err)
		} else {
			refs = append(refs, extra...)
		}
	}
	scene.ReferenceImages = refs
	o.updateScene(ctx, r, job.index, scene)

	// Image
	var imageTaskID string
	imageSubmitted := o.now()
	err := imageGate.Do(ctx, job.index, func() error {
		var submitErr error
		imageSubmitted = o.now()
		imageTaskID, submitErr = o.tasks.Submit(ctx, models.TaskKindSceneImage, wavespeed.SubmitInput{
			Model:        gen.ImageModel,
			Prompt:       def.ImagePrompt,
			Images:       refs,
			Resolution:   gen.ImageResolution,
			OutputFormat: gen.ImageOutputFormat,
		})
		return submitErr
	})
	if err != nil {
		scene.Image = models.JobRef{Status: models.TaskStatusFailed}
		scene.LastError = err.Error()
		fail(models.StageSceneImage, err)
		o.updateScene(ctx, r, job.index, scene)
		_ = videoGate.Do(ctx, job.index, func() error { return nil })
		return errs
	}
	scene.Image = models.JobRef{TaskID: imageTaskID, Status: models.TaskStatusSubmitted}
	o.updateScene(ctx, r, job.index, scene)

	imageTask, err := o.awaitTask(ctx, models.TaskKindSceneImage, imageTaskID, imageSubmitted, gen.PollInterval, gen.PollTimeout)
	scene.ApplyTask(imageTask, o.now())
	o.updateScene(ctx, r, job.index, scene)
	if err != nil {
		fail(models.StageSceneImage, err)
	}

	// Video, gated on a successful image.
	if !scene.CanSubmitVideo() {
		_ = videoGate.Do(ctx, job.index, func() error { return nil })
		logger.Info("video skipped, scene image not available", "event", "scene_video_skipped")
		span.SetAttributes(attribute.String("scene.image_status", string(scene.Image.Status)))
		return errs
	}

	var videoTaskID string
	videoSubmitted := o.now()
	err = videoGate.Do(ctx, job.index, func() error {
		var submitErr error
		videoSubmitted = o.now()
		videoTaskID, submitErr = o.tasks.Submit(ctx, models.TaskKindSceneVideo, wavespeed.SubmitInput{
			Model:             gen.VideoModel,
			Image:             scene.Image.URL,
			Prompt:            def.MotionPrompt,
			Duration:          gen.VideoDurationSeconds,
			Resolution:        gen.VideoResolution,
			MovementAmplitude: gen.MovementAmplitude,
			GenerateAudio:     gen.GenerateAudio,
			BGM:               gen.BGM,
		})
		return submitErr
	})
	if err != nil {
		scene.Video = models.JobRef{Status: models.TaskStatusFailed}
		scene.LastError = err.Error()
		fail(models.StageSceneVideo, err)
		o.updateScene(ctx, r, job.index, scene)
		return errs
	}
	scene.Video = models.JobRef{TaskID: videoTaskID, Status: models.TaskStatusSubmitted}
	o.updateScene(ctx, r, job.index, scene)

	videoTask, err := o.awaitTask(ctx, models.TaskKindSceneVideo, videoTaskID, videoSubmitted, gen.PollInterval, gen.PollTimeout)
	scene.ApplyTask(videoTask, o.now())
	o.updateScene(ctx, r, job.index, scene)
	if err != nil {
		fail(models.StageSceneVideo, err)
	}

	span.SetAttributes(
		attribute.String("scene.image_status", string(scene.Image.Status)),
		attribute.String("scene.video_status", string(scene.Video.Status)),
	)
	return errs
}

// updateScene stores the scene in the payload, forwards it to the scene
// store and writes a checkpoint.
func (o *Orchestrator) updateScene(ctx context.Context, r *run, index int, scene models.Scene) {
	scene.UpdatedAt = o.now()
	r.mu.Lock()
	r.payload.Scenes[index] = scene
	r.mu.Unlock()

	if o.scenes != nil {
		if err := o.scenes.SaveScene(ctx, r.payload.StoryID, r.payload.RunID, scene); err != nil {
			r.logger.Warn("scene record not saved", "event", "scene_store_failed", "scene_id", scene.SceneID, "error", err)
		}
	}
	o.checkpoint(ctx, r)
}
