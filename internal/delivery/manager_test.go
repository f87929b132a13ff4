package delivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-pipeline-backend/internal/delivery"
	"story-pipeline-backend/internal/models"
)

// memoryTable behaves like a PostgREST table with a unique run_id.
type memoryTable struct {
	mu    sync.Mutex
	rows  map[string]json.RawMessage
	calls int
	err   error
}

func (m *memoryTable) UpsertRow(ctx context.Context, table string, row any, onConflict string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return m.err
	}
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	var decoded []struct {
		RunID   string          `json:"run_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if m.rows == nil {
		m.rows = map[string]json.RawMessage{}
	}
	for _, r := range decoded {
		m.rows[r.RunID] = r.Payload
	}
	return nil
}

func (m *memoryTable) TableURL(table string) string {
	return "https://abc.supabase.co/rest/v1/" + table
}

type memoryBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	err     error
}

func (b *memoryBucket) Upload(ctx context.Context, storagePath, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	if b.objects == nil {
		b.objects = map[string][]byte{}
	}
	b.objects[storagePath] = data
	return b.GetPublicURL(storagePath), nil
}

func (b *memoryBucket) GetPublicURL(storagePath string) string {
	return "https://abc.supabase.co/storage/v1/object/public/story-payloads/" + storagePath
}

func testPayload() *models.RunPayload {
	ended := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.RunPayload{
		StoryID: "ada-lovelace",
		RunID:   "20260102T030405Z-abcd1234",
		Status:  models.RunStatusCompleted,
		Run:     models.RunTimes{StartedAt: ended.Add(-time.Hour), EndedAt: &ended},
		Scenes:  []models.Scene{{SceneID: "scene_01", Position: 1}},
		CloudTransfer: models.CloudTransfer{
			Provider: "supabase",
			Status:   models.DeliveryStatusPending,
		},
		Errors: []models.StageError{},
	}
}

func newManager(t *testing.T, provider string, table *memoryTable, bucket *memoryBucket) *delivery.Manager {
	t.Helper()
	m, err := delivery.NewManager(delivery.Config{
		Provider:  provider,
		Primary:   delivery.NewTableSink(table, "aprt_story_payloads"),
		Secondary: delivery.NewStorageSink(bucket, "payloads"),
	})
	require.NoError(t, err)
	return m
}

func TestManager_PrimarySuccess(t *testing.T) {
	table, bucket := &memoryTable{}, &memoryBucket{}
	m := newManager(t, delivery.ProviderAuto, table, bucket)

	transfer, err := m.Deliver(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, "supabase", transfer.Provider)
	assert.Equal(t, models.DeliveryStatusSuccess, transfer.Status)
	require.NotNil(t, transfer.Destination)
	assert.Equal(t, "https://abc.supabase.co/rest/v1/aprt_story_payloads", *transfer.Destination)
	assert.Empty(t, transfer.PrimaryError)
	assert.Equal(t, 1, table.calls)
	assert.Equal(t, 0, bucket.calls)

	var stored models.RunPayload
	require.NoError(t, json.Unmarshal(table.rows["20260102T030405Z-abcd1234"], &stored))
	assert.Equal(t, models.DeliveryStatusSuccess, stored.CloudTransfer.Status)
}

func TestManager_MissingTableFallsBack(t *testing.T) {
	table := &memoryTable{err: errors.New("(PGRST205) Could not find the table 'public.aprt_story_payloads' in the schema cache")}
	bucket := &memoryBucket{}
	m := newManager(t, delivery.ProviderAuto, table, bucket)

	payload := testPayload()
	transfer, err := m.Deliver(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "supabase_storage", transfer.Provider)
	assert.Equal(t, models.DeliveryStatusSuccess, transfer.Status)
	assert.Contains(t, transfer.PrimaryError, "PGRST205")
	assert.Contains(t, transfer.PrimaryError, delivery.ErrDestinationNotProvisioned.Error())
	assert.Equal(t, 1, table.calls)
	assert.Equal(t, 1, bucket.calls)

	body, ok := bucket.objects["payloads/ada-lovelace/20260102T030405Z-abcd1234.json"]
	require.True(t, ok)
	var stored models.RunPayload
	require.NoError(t, json.Unmarshal(body, &stored))
	assert.Equal(t, payload.RunID, stored.RunID)
	assert.Len(t, stored.Scenes, 1)
	assert.Equal(t, "supabase_storage", stored.CloudTransfer.Provider)
	assert.Contains(t, stored.CloudTransfer.PrimaryError, "PGRST205")

	// The caller's payload is not mutated by delivery.
	assert.Equal(t, models.DeliveryStatusPending, payload.CloudTransfer.Status)
}

func TestManager_BothSinksFail(t *testing.T) {
	table := &memoryTable{err: errors.New("connection refused")}
	bucket := &memoryBucket{err: errors.New("bucket not found")}
	m := newManager(t, delivery.ProviderAuto, table, bucket)

	transfer, err := m.Deliver(context.Background(), testPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, delivery.ErrDelivery)

	assert.Equal(t, models.DeliveryStatusFailed, transfer.Status)
	assert.Nil(t, transfer.Destination)
	assert.Equal(t, "connection refused", transfer.PrimaryError)
	assert.Equal(t, 1, table.calls)
	assert.Equal(t, 1, bucket.calls)
}

func TestManager_RedeliveryOverwrites(t *testing.T) {
	table, bucket := &memoryTable{}, &memoryBucket{}
	m := newManager(t, delivery.ProviderAuto, table, bucket)

	first, err := m.Deliver(context.Background(), testPayload())
	require.NoError(t, err)
	second, err := m.Deliver(context.Background(), testPayload())
	require.NoError(t, err)

	assert.Equal(t, *first.Destination, *second.Destination)
	assert.Len(t, table.rows, 1)
}

func TestManager_ProviderModes(t *testing.T) {
	t.Run("supabase only does not fall back", func(t *testing.T) {
		table := &memoryTable{err: errors.New("boom")}
		bucket := &memoryBucket{}
		m := newManager(t, delivery.ProviderSupabase, table, bucket)

		_, err := m.Deliver(context.Background(), testPayload())
		assert.ErrorIs(t, err, delivery.ErrDelivery)
		assert.Equal(t, 0, bucket.calls)
	})

	t.Run("storage only skips the table", func(t *testing.T) {
		table, bucket := &memoryTable{}, &memoryBucket{}
		m := newManager(t, delivery.ProviderStorage, table, bucket)

		transfer, err := m.Deliver(context.Background(), testPayload())
		require.NoError(t, err)
		assert.Equal(t, "supabase_storage", transfer.Provider)
		assert.Empty(t, transfer.PrimaryError)
		assert.Equal(t, 0, table.calls)
	})

	t.Run("storage failure is not a primary error", func(t *testing.T) {
		table, bucket := &memoryTable{}, &memoryBucket{err: errors.New("bucket not found")}
		m := newManager(t, delivery.ProviderStorage, table, bucket)

		transfer, err := m.Deliver(context.Background(), testPayload())
		require.ErrorIs(t, err, delivery.ErrDelivery)
		assert.Equal(t, models.DeliveryStatusFailed, transfer.Status)
		assert.Equal(t, "bucket not found", transfer.Message)
		assert.Empty(t, transfer.PrimaryError)
		assert.Equal(t, 0, table.calls)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := delivery.NewManager(delivery.Config{Provider: "cloudinary"})
		assert.Error(t, err)
	})

	t.Run("no sinks", func(t *testing.T) {
		m, err := delivery.NewManager(delivery.Config{})
		require.NoError(t, err)
		_, err = m.Deliver(context.Background(), testPayload())
		assert.ErrorIs(t, err, delivery.ErrDelivery)
	})
}

func TestManager_DryRun(t *testing.T) {
	table, bucket := &memoryTable{}, &memoryBucket{}
	m, err := delivery.NewManager(delivery.Config{
		Primary:   delivery.NewTableSink(table, "aprt_story_payloads"),
		Secondary: delivery.NewStorageSink(bucket, "payloads"),
		DryRun:    true,
	})
	require.NoError(t, err)

	transfer, err := m.Deliver(context.Background(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusSuccess, transfer.Status)
	assert.Equal(t, "supabase", transfer.Provider)
	assert.Equal(t, 0, table.calls)
	assert.Equal(t, 0, bucket.calls)
}

type memoryObjectStore struct {
	buckets map[string]bool
	objects map[string][]byte
	created int
}

func (s *memoryObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return s.buckets[bucketName], nil
}

func (s *memoryObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	s.created++
	s.buckets[bucketName] = true
	return nil
}

func (s *memoryObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.objects[bucketName+"/"+objectName] = data
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: objectSize}, nil
}

func TestMinIOSink_CreatesBucketAndOverwrites(t *testing.T) {
	store := &memoryObjectStore{buckets: map[string]bool{}, objects: map[string][]byte{}}
	sink := delivery.NewMinIOSink(store, "localhost:9000", false, "story-payloads", "payloads")
	m, err := delivery.NewManager(delivery.Config{
		Primary:   delivery.NewTableSink(&memoryTable{err: errors.New("relation \"aprt_story_payloads\" does not exist")}, "aprt_story_payloads"),
		Secondary: sink,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		transfer, err := m.Deliver(context.Background(), testPayload())
		require.NoError(t, err)
		assert.Equal(t, "minio", transfer.Provider)
		assert.Equal(t, "http://localhost:9000/story-payloads/payloads/ada-lovelace/20260102T030405Z-abcd1234.json", *transfer.Destination)
	}
	assert.Equal(t, 1, store.created)
	assert.Len(t, store.objects, 1)
}

func TestBlobPath(t *testing.T) {
	assert.Equal(t, "payloads/ada-lovelace/run-1.json",
		delivery.BlobPath("/payloads/", &models.RunPayload{StoryID: "ada-lovelace", RunID: "run-1"}))
}
