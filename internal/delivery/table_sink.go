package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"story-pipeline-backend/internal/models"
)

// RowWriter upserts a row into a table, merging on onConflict.
type RowWriter interface {
	UpsertRow(ctx context.Context, table string, row any, onConflict string) error
	TableURL(table string) string
}

// TableSink stores payloads as rows keyed by run_id.
type TableSink struct {
	writer RowWriter
	table  string
	now    func() time.Time
}

func NewTableSink(writer RowWriter, table string) *TableSink {
	return &TableSink{writer: writer, table: table, now: func() time.Time { return time.Now().UTC() }}
}

type payloadRow struct {
	RunID       string          `json:"run_id"`
	StoryID     string          `json:"story_id"`
	Status      string          `json:"status"`
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     json.RawMessage `json:"payload"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s *TableSink) Name() string { return "supabase" }

func (s *TableSink) Destination(payload *models.RunPayload) string {
	return s.writer.TableURL(s.table)
}

func (s *TableSink) Write(ctx context.Context, payload *models.RunPayload, body []byte) error {
	now := s.now()
	generated := now
	if payload.Run.EndedAt != nil {
		generated = *payload.Run.EndedAt
	}
	row := payloadRow{
		RunID:       payload.RunID,
		StoryID:     payload.StoryID,
		Status:      string(payload.Status),
		GeneratedAt: generated,
		Payload:     json.RawMessage(body),
		UpdatedAt:   now,
	}
	if err := s.writer.UpsertRow(ctx, s.table, []payloadRow{row}, "run_id"); err != nil {
		if isMissingTable(err) {
			return fmt.Errorf("%w: table %s: %v", ErrDestinationNotProvisioned, s.table, err)
		}
		return err
	}
	return nil
}

func isMissingTable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "pgrst205"),
		strings.Contains(msg, "could not find the table"),
		strings.Contains(msg, "table not found"),
		strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"):
		return true
	}
	return false
}
