package registry

import (
	"context"
	"sync"
	"time"

	"story-pipeline-backend/internal/models"
)

// MemoryStore keeps records in process. Used for dry runs, tests and
// deployments without DATABASE_URL.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.RegistryRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.RegistryRecord)}
}

func (s *MemoryStore) FindByKey(ctx context.Context, nameKey string) (*models.RegistryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[nameKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) FindByAlias(ctx context.Context, aliasKey string) (*models.RegistryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		for _, a := range rec.Aliases {
			if a == aliasKey {
				return cloneRecord(rec), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Save(ctx context.Context, record *models.RegistryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.NameKey] = *cloneRecord(*record)
	return nil
}

func (s *MemoryStore) MarkUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.records {
		if rec.ID == id {
			rec.LastUsedAt = &at
			s.records[key] = rec
			return nil
		}
	}
	return ErrNotFound
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(rec models.RegistryRecord) *models.RegistryRecord {
	out := rec
	out.Aliases = append([]string(nil), rec.Aliases...)
	if rec.LastUsedAt != nil {
		t := *rec.LastUsedAt
		out.LastUsedAt = &t
	}
	return &out
}
