package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"story-pipeline-backend/internal/models"
)

// BlobPath is the object path of a payload: {folder}/{story_id}/{run_id}.json.
func BlobPath(folder string, payload *models.RunPayload) string {
	return path.Join(strings.Trim(folder, "/"), payload.StoryID, payload.RunID+".json")
}

// BlobUploader stores an object, replacing any existing one at the same path.
type BlobUploader interface {
	Upload(ctx context.Context, storagePath, contentType string, data []byte) (string, error)
	GetPublicURL(storagePath string) string
}

// StorageSink writes payloads as JSON objects to Supabase Storage.
type StorageSink struct {
	uploader BlobUploader
	folder   string
}

func NewStorageSink(uploader BlobUploader, folder string) *StorageSink {
	return &StorageSink{uploader: uploader, folder: folder}
}

func (s *StorageSink) Name() string { return "supabase_storage" }

func (s *StorageSink) Destination(payload *models.RunPayload) string {
	return s.uploader.GetPublicURL(BlobPath(s.folder, payload))
}

func (s *StorageSink) Write(ctx context.Context, payload *models.RunPayload, body []byte) error {
	if _, err := s.uploader.Upload(ctx, BlobPath(s.folder, payload), "application/json", body); err != nil {
		return fmt.Errorf("storage upload failed: %w", err)
	}
	return nil
}

// ObjectStore is the subset of *minio.Client used by MinIOSink.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

func NewMinIOClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

// MinIOSink writes payloads to an S3-compatible bucket, creating the bucket
// on first use.
type MinIOSink struct {
	store   ObjectStore
	bucket  string
	baseURL string
	folder  string
}

func NewMinIOSink(store ObjectStore, endpoint string, useSSL bool, bucket, folder string) *MinIOSink {
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return &MinIOSink{
		store:   store,
		bucket:  bucket,
		baseURL: fmt.Sprintf("%s://%s", scheme, strings.TrimRight(endpoint, "/")),
		folder:  folder,
	}
}

func (s *MinIOSink) Name() string { return "minio" }

func (s *MinIOSink) Destination(payload *models.RunPayload) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, s.bucket, BlobPath(s.folder, payload))
}

func (s *MinIOSink) Write(ctx context.Context, payload *models.RunPayload, body []byte) error {
	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.store.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: bucket %s: %v", ErrDestinationNotProvisioned, s.bucket, err)
		}
	}

	_, err = s.store.PutObject(ctx, s.bucket, BlobPath(s.folder, payload), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("minio upload failed: %w", err)
	}
	return nil
}
