package registry_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"story-pipeline-backend/internal/models"
	"story-pipeline-backend/internal/registry"
)

func newRegistry(store registry.Store, aliases map[string]string) *registry.Registry {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return registry.New(store, registry.Config{
		Aliases: aliases,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"Ada Lovelace":        "ada lovelace",
		"  ADA   lovelace!! ": "ada lovelace",
		"O'Brien, Jr.":        "obrien jr",
		"jean-luc_picard":     "jean luc picard",
		"...":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, registry.NormalizeName(in), in)
	}
}

func TestRegistry_UpsertAndLookup(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := newRegistry(store, nil)
	ctx := context.Background()

	_, err := reg.Lookup(ctx, "Ada Lovelace")
	assert.ErrorIs(t, err, registry.ErrNotFound)

	created, err := reg.Upsert(ctx, models.RegistryRecord{
		Name:        "Ada Lovelace",
		Aliases:     []string{"Countess of Lovelace", "ada lovelace"},
		ImageURL:    "https://img/ada.jpg",
		AuditScore:  0.82,
		AuditStatus: string(models.AuditStatusVerified),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "ada lovelace", created.NameKey)
	assert.Equal(t, []string{"countess of lovelace"}, created.Aliases)
	assert.False(t, created.CreatedAt.IsZero())

	found, err := reg.Lookup(ctx, "ADA LOVELACE.")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	byAlias, err := reg.Lookup(ctx, "Countess of Lovelace")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byAlias.ID)

	updated, err := reg.Upsert(ctx, models.RegistryRecord{
		Name:       "ada lovelace",
		Aliases:    []string{"Augusta Ada King"},
		ImageURL:   "https://img/ada-v2.jpg",
		AuditScore: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, []string{"countess of lovelace", "augusta ada king"}, updated.Aliases)
	assert.Equal(t, 1, store.Len())
}

func TestRegistry_ConfiguredAliases(t *testing.T) {
	reg := newRegistry(registry.NewMemoryStore(), map[string]string{"The Enchantress of Numbers": "Ada Lovelace"})
	ctx := context.Background()

	_, err := reg.Upsert(ctx, models.RegistryRecord{Name: "Ada Lovelace", ImageURL: "https://img/ada.jpg"})
	require.NoError(t, err)

	found, err := reg.Lookup(ctx, "the enchantress of numbers")
	require.NoError(t, err)
	assert.Equal(t, "ada lovelace", found.NameKey)
	assert.Equal(t, "ada lovelace", reg.Key("The Enchantress of Numbers!"))
}

func TestRegistry_ConcurrentUpsertsSameKey(t *testing.T) {
	store := registry.NewMemoryStore()
	reg := newRegistry(store, nil)
	ctx := context.Background()

	var mu sync.Mutex
	ids := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := reg.Upsert(ctx, models.RegistryRecord{
				Name:     "Ada Lovelace",
				ImageURL: fmt.Sprintf("https://img/ada-%d.jpg", i),
			})
			if assert.NoError(t, err) {
				mu.Lock()
				ids[rec.ID] = true
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, store.Len())
	assert.Len(t, ids, 1)
}

func TestRegistry_TouchUsage(t *testing.T) {
	reg := newRegistry(registry.NewMemoryStore(), nil)
	ctx := context.Background()

	rec, err := reg.Upsert(ctx, models.RegistryRecord{Name: "Ada Lovelace", ImageURL: "https://img/ada.jpg"})
	require.NoError(t, err)
	assert.Nil(t, rec.LastUsedAt)

	require.NoError(t, reg.TouchUsage(ctx, rec.ID))

	found, err := reg.Lookup(ctx, "Ada Lovelace")
	require.NoError(t, err)
	require.NotNil(t, found.LastUsedAt)

	assert.ErrorIs(t, reg.TouchUsage(ctx, "missing"), registry.ErrNotFound)
	assert.ErrorIs(t, reg.TouchUsage(ctx, ""), registry.ErrNotFound)
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	reg := newRegistry(registry.NewMemoryStore(), nil)
	_, err := reg.Upsert(context.Background(), models.RegistryRecord{Name: "?!"})
	assert.Error(t, err)
}
