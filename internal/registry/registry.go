// Package registry persists audited character models so later runs can reuse
// them instead of generating a new consistency reference.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"story-pipeline-backend/internal/models"
)

var ErrNotFound = errors.New("registry record not found")

// Store is the persistence behind a Registry. Save upserts on NameKey.
type Store interface {
	FindByKey(ctx context.Context, nameKey string) (*models.RegistryRecord, error)
	FindByAlias(ctx context.Context, aliasKey string) (*models.RegistryRecord, error)
	Save(ctx context.Context, record *models.RegistryRecord) error
	MarkUsed(ctx context.Context, id string, at time.Time) error
}

type Config struct {
	// Aliases maps alternative names to their canonical name. Both sides are
	// normalized before use.
	Aliases map[string]string
	Logger  *slog.Logger
	Now     func() time.Time
}

type Registry struct {
	store   Store
	aliases map[string]string
	locks   *keyedMutex
	logger  *slog.Logger
	now     func() time.Time
}

func New(store Store, cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	aliases := make(map[string]string, len(cfg.Aliases))
	for alias, canonical := range cfg.Aliases {
		if a, c := NormalizeName(alias), NormalizeName(canonical); a != "" && c != "" {
			aliases[a] = c
		}
	}
	return &Registry{
		store:   store,
		aliases: aliases,
		locks:   newKeyedMutex(),
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// NormalizeName case-folds name, drops punctuation and collapses whitespace.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_':
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Key returns the lookup key for name after alias expansion.
func (r *Registry) Key(name string) string {
	key := NormalizeName(name)
	if canonical, ok := r.aliases[key]; ok {
		return canonical
	}
	return key
}

// Lookup finds a record by name key, then by stored alias.
func (r *Registry) Lookup(ctx context.Context, name string) (*models.RegistryRecord, error) {
	key := r.Key(name)
	if key == "" {
		return nil, ErrNotFound
	}

	rec, err := r.store.FindByKey(ctx, key)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up %q: %w", key, err)
	}

	rec, err = r.store.FindByAlias(ctx, NormalizeName(name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up alias %q: %w", name, err)
	}
	return rec, nil
}

// Upsert creates or replaces the record for the name's key. Writers for the
// same key are serialized and the last write wins.
func (r *Registry) Upsert(ctx context.Context, record models.RegistryRecord) (*models.RegistryRecord, error) {
	key := r.Key(record.Name)
	if key == "" {
		return nil, fmt.Errorf("registry record name %q normalizes to an empty key", record.Name)
	}

	unlock := r.locks.Lock(key)
	defer unlock()

	now := r.now()
	record.NameKey = key
	record.Aliases = normalizeAliases(record.Aliases, key)
	record.UpdatedAt = now

	existing, err := r.store.FindByKey(ctx, key)
	switch {
	case err == nil:
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		record.Aliases = normalizeAliases(append(existing.Aliases, record.Aliases...), key)
		if record.LastUsedAt == nil {
			record.LastUsedAt = existing.LastUsedAt
		}
	case errors.Is(err, ErrNotFound):
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		record.CreatedAt = now
	default:
		return nil, fmt.Errorf("failed to load %q before upsert: %w", key, err)
	}

	if err := r.store.Save(ctx, &record); err != nil {
		return nil, fmt.Errorf("failed to save registry record %q: %w", key, err)
	}

	r.logger.Info("registry record saved",
		"event", "registry_upsert",
		"registry_id", record.ID,
		"name_key", key,
		"audit_status", record.AuditStatus,
		"audit_score", record.AuditScore,
	)
	return &record, nil
}

// TouchUsage bumps last_used_at for a reused record.
func (r *Registry) TouchUsage(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrNotFound
	}
	if err := r.store.MarkUsed(ctx, id, r.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to mark %s used: %w", id, err)
	}
	return nil
}

func normalizeAliases(aliases []string, key string) []string {
	out := make([]string, 0, len(aliases))
	seen := map[string]bool{key: true}
	for _, a := range aliases {
		n := NormalizeName(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
