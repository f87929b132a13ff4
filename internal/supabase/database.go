package supabase

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"story-pipeline-backend/internal/models"
)

// DatabaseClient stores per-scene records in story_scenes. Rows are keyed by
// (run_id, scene_id), so concurrent scene workers never write the same row.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (d *DatabaseClient) SaveScene(ctx context.Context, storyID, runID string, scene models.Scene) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO story_scenes (
			story_id, run_id, scene_id, position, narration, image_prompt, motion_prompt,
			reference_images, image_task_id, image_status, image_url,
			video_task_id, video_status, video_url, last_error, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (run_id, scene_id) DO UPDATE SET
			position = EXCLUDED.position,
			narration = EXCLUDED.narration,
			image_prompt = EXCLUDED.image_prompt,
			motion_prompt = EXCLUDED.motion_prompt,
			reference_images = EXCLUDED.reference_images,
			image_task_id = EXCLUDED.image_task_id,
			image_status = EXCLUDED.image_status,
			image_url = EXCLUDED.image_url,
			video_task_id = EXCLUDED.video_task_id,
			video_status = EXCLUDED.video_status,
			video_url = EXCLUDED.video_url,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`, storyID, runID, scene.SceneID, scene.Position, scene.Narration, scene.ImagePrompt, scene.MotionPrompt,
		pq.Array(scene.ReferenceImages), scene.Image.TaskID, string(scene.Image.Status), scene.Image.URL,
		scene.Video.TaskID, string(scene.Video.Status), scene.Video.URL, scene.LastError, scene.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scene %s: %w", scene.SceneID, err)
	}
	return nil
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}
