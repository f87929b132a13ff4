package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/observability"
	"story-pipeline-backend/internal/registry"
	"story-pipeline-backend/internal/wavespeed"
)

// resolveCharacter produces the run's character model. Reuse order: registry
// hit, verified audit, fresh generation. It never returns nil; a failed
// generation yields a model that is not Ready.
func (o *Orchestrator) resolveCharacter(ctx context.Context, r *run, styleRefs []string) *models.CharacterModel {
	story := r.req.Story
	gen := r.req.Generation
	name := story.Character.Name

	ctx, span := observability.StartSpan(ctx, "pipeline.character", attribute.String("character.name", name))
	defer span.End()

	if gen.CharacterAutoReuse && o.registry != nil {
		if character := o.reuseFromRegistry(ctx, r, name); character != nil {
			span.SetAttributes(attribute.String("character.source", string(character.Source)))
			return character
		}
	}

	var auditResult *models.IdentityAuditResult
	if gen.IdentityAuditEnabled && o.auditor != nil {
		auditResult = o.runAudit(ctx, r, name)
		if auditResult != nil && auditResult.Status == models.AuditStatusVerified && len(auditResult.SelectedReferenceImages) > 0 {
			character := o.adoptVerified(ctx, r, auditResult)
			span.SetAttributes(attribute.String("character.source", string(character.Source)))
			return character
		}
	}

	o.transition(ctx, r, StateCharacterPending)
	character := o.generateCharacter(ctx, r, styleRefs)
	character.IdentityAudit = auditResult
	span.SetAttributes(
		attribute.String("character.source", string(character.Source)),
		attribute.String("character.status", string(character.Status)),
	)
	return character
}

func (o *Orchestrator) reuseFromRegistry(ctx context.Context, r *run, name string) *models.CharacterModel {
	rec, err := o.registry.Lookup(ctx, name)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			r.addError(models.StageRegistry, fmt.Sprintf("registry lookup failed: %v", err))
		}
		return nil
	}
	if rec.ImageURL == "" {
		return nil
	}

	if err := o.registry.TouchUsage(ctx, rec.ID); err != nil {
		r.addError(models.StageRegistry, fmt.Sprintf("failed to record registry usage: %v", err))
	}

	r.logger.Info("character reused from registry", "event", "character_registry_reuse", "registry_id", rec.ID, "name_key", rec.NameKey)
	id := rec.ID
	return &models.CharacterModel{
		Status:     models.TaskStatusSucceeded,
		ImageURL:   rec.ImageURL,
		Source:     models.CharacterSourceRegistryReuse,
		RegistryID: &id,
		IdentityAudit: &models.IdentityAuditResult{
			TargetName:              name,
			Status:                  models.AuditStatusReused,
			Score:                   rec.AuditScore,
			Candidates:              []models.AuditCandidate{},
			SelectedReferenceImages: []string{rec.ImageURL},
			SelectedSourceURLs:      nonEmptyList(rec.SourceURL),
			ReviewReferenceImages:   []string{},
			ReviewSourceURLs:        []string{},
		},
		ConsistencyNotes: r.req.Story.Character.ConsistencyNotes,
	}
}

func (o *Orchestrator) runAudit(ctx context.Context, r *run, name string) *models.IdentityAuditResult {
	gen := r.req.Generation
	result, err := o.auditor.Audit(ctx, name, gen.IdentityAuditSources, gen.MinConfidenceScore)
	if err != nil {
		r.addError(models.StageIdentityAudit, err.Error())
		return nil
	}
	for _, se := range result.SourceErrors {
		r.addError(models.StageIdentityAudit, fmt.Sprintf("%s: %s", se.Source, se.Message))
	}
	return result
}

// adoptVerified turns a verified audit into the character model and records
// it in the registry for later runs.
func (o *Orchestrator) adoptVerified(ctx context.Context, r *run, audit *models.IdentityAuditResult) *models.CharacterModel {
	story := r.req.Story
	image := audit.SelectedReferenceImages[0]
	character := &models.CharacterModel{
		Status:           models.TaskStatusSucceeded,
		ImageURL:         image,
		Source:           models.CharacterSourceRegistryReuse,
		IdentityAudit:    audit,
		ConsistencyNotes: story.Character.ConsistencyNotes,
	}

	if o.registry == nil {
		return character
	}

	var sourceURL string
	if len(audit.SelectedSourceURLs) > 0 {
		sourceURL = audit.SelectedSourceURLs[0]
	}
	rec, err := o.registry.Upsert(ctx, models.RegistryRecord{
		Name:        story.Character.Name,
		Aliases:     story.Character.Aliases,
		ImageURL:    image,
		SourceURL:   sourceURL,
		AuditScore:  audit.Score,
		AuditStatus: string(audit.Status),
	})
	if err != nil {
		r.addError(models.StageRegistry, fmt.Sprintf("failed to save verified character: %v", err))
		return character
	}
	id := rec.ID
	character.RegistryID = &id
	r.logger.Info("verified character registered", "event", "character_registry_created", "registry_id", id, "score", audit.Score)
	return character
}

func (o *Orchestrator) generateCharacter(ctx context.Context, r *run, styleRefs []string) *models.CharacterModel {
	story := r.req.Story
	gen := r.req.Generation
	character := &models.CharacterModel{
		Status:           models.TaskStatusFailed,
		Source:           models.CharacterSourceGenerated,
		ConsistencyNotes: story.Character.ConsistencyNotes,
	}

	submittedAt := o.now()
	taskID, err := o.tasks.Submit(ctx, models.TaskKindCharacter, wavespeed.SubmitInput{
		Model:        gen.ImageModel,
		Prompt:       story.Character.CharacterModelPrompt,
		Images:       styleRefs,
		Resolution:   gen.ImageResolution,
		OutputFormat: gen.ImageOutputFormat,
	})
	if err != nil {
		r.addError(models.StageCharacter, fmt.Sprintf("character submission failed: %v", err))
		return character
	}
	character.TaskID = taskID
	character.Status = models.TaskStatusSubmitted
	r.mu.Lock()
	r.payload.CharacterModel = character
	r.mu.Unlock()
	o.checkpoint(ctx, r)

	task, err := o.awaitTask(ctx, models.TaskKindCharacter, taskID, submittedAt, gen.PollInterval, gen.PollTimeout)
	character.Status = task.Status
	if err != nil {
		r.addError(models.StageCharacter, err.Error())
		r.logger.Warn("character generation failed, continuing without consistency reference",
			"event", "character_degraded", "task_id", taskID, "status", task.Status)
		return character
	}
	character.ImageURL = task.URL()
	r.logger.Info("character generated", "event", "character_generated", "task_id", taskID)
	return character
}

func nonEmptyList(values ...string) []string {
	out := []string{}
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
