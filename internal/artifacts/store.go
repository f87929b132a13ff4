// Package artifacts keeps the local files of each run: a state checkpoint
// rewritten after every stage and the final payload.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"story-pipeline-backend/internal/models"
)

var ErrNotFound = errors.New("run payload not found")

const latestPayloadFile = "latest_payload.json"

// Store writes run files under one directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Checkpoint rewrites state_{run_id}.json.
func (s *Store) Checkpoint(ctx context.Context, payload *models.RunPayload) error {
	return s.write(fmt.Sprintf("state_%s.json", payload.RunID), payload)
}

// Finalize writes payload_{run_id}.json and latest_payload.json and returns
// the path of the former.
func (s *Store) Finalize(ctx context.Context, payload *models.RunPayload) (string, error) {
	name := fmt.Sprintf("payload_%s.json", payload.RunID)
	if err := s.write(name, payload); err != nil {
		return "", err
	}
	if err := s.write(latestPayloadFile, payload); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, name), nil
}

// Load returns the final payload of runID, falling back to its last checkpoint
// while the run is still in progress.
func (s *Store) Load(runID string) (*models.RunPayload, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}
	for _, name := range []string{"payload_" + runID + ".json", "state_" + runID + ".json"} {
		payload, err := s.read(name)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		return payload, err
	}
	return nil, ErrNotFound
}

// Latest returns the most recently finalized payload.
func (s *Store) Latest() (*models.RunPayload, error) {
	payload, err := s.read(latestPayloadFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return payload, err
}

func (s *Store) read(name string) (*models.RunPayload, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	var payload models.RunPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return &payload, nil
}

// write replaces name atomically so readers never see a partial file.
func (s *Store) write(name string, payload *models.RunPayload) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
