package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/topasig/PolicyBroker/internal/config"
)

// MinIO stores blobs in one bucket of an S3-compatible server.
type MinIO struct {
	client *minio.Client
	bucket string
}

// NewMinIO connects and creates the bucket when missing.
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIO, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("storage: minio endpoint is required")
	}
	bucket := cfg.Bucket
	if bucket == "" {
		bucket = config.DefaultMinIOBucket
	}
	client, errNew := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if errNew != nil {
		return nil, fmt.Errorf("storage: minio client: %w", errNew)
	}
	exists, errExists := client.BucketExists(ctx, bucket)
	if errExists != nil {
		return nil, fmt.Errorf("storage: check bucket %s: %w", bucket, errExists)
	}
	if !exists {
		if errMake := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); errMake != nil {
			return nil, fmt.Errorf("storage: create bucket %s: %w", bucket, errMake)
		}
	}
	return &MinIO{client: client, bucket: bucket}, nil
}

// Put uploads data under key.
func (m *MinIO) Put(ctx context.Context, key string, data []byte, contentType string) error {
	cleaned, errKey := cleanKey(key)
	if errKey != nil {
		return errKey
	}
	_, errPut := m.client.PutObject(ctx, m.bucket, cleaned, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if errPut != nil {
		return fmt.Errorf("storage: put %s: %w", key, errPut)
	}
	return nil
}

// Get downloads the object at key.
func (m *MinIO) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, errKey := cleanKey(key)
	if errKey != nil {
		return nil, errKey
	}
	object, errGet := m.client.GetObject(ctx, m.bucket, cleaned, minio.GetObjectOptions{})
	if errGet != nil {
		return nil, m.translate(key, errGet)
	}
	defer func() {
		_ = object.Close()
	}()
	data, errRead := io.ReadAll(object)
	if errRead != nil {
		return nil, m.translate(key, errRead)
	}
	return data, nil
}

// Delete removes the object at key.
func (m *MinIO) Delete(ctx context.Context, key string) error {
	cleaned, errKey := cleanKey(key)
	if errKey != nil {
		return errKey
	}
	if errRemove := m.client.RemoveObject(ctx, m.bucket, cleaned, minio.RemoveObjectOptions{}); errRemove != nil {
		return fmt.Errorf("storage: delete %s: %w", key, errRemove)
	}
	return nil
}

func (m *MinIO) translate(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("storage: get %s: %w", key, err)
}
