package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig configures an S3-compatible endpoint.
type MinioConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	UseSSL     bool
	Region     string
}

// MinioProvider implements Provider against any S3-compatible endpoint via
// minio-go/v7 (MinIO itself, AWS S3, or a compatible on-prem deployment).
type MinioProvider struct {
	client *minio.Client
	bucket string
}

func NewMinioProvider(cfg MinioConfig) (*MinioProvider, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create minio client: %w", err)
	}
	return &MinioProvider{client: client, bucket: cfg.Bucket}, nil
}

func (p *MinioProvider) Name() string { return "minio" }

// PutObject uploads body under key. Called by the upload_storage stage
// with a content-addressed key — a repeat upload of the same
// bytes is naturally idempotent since it simply overwrites identical
// content, giving "instant upload" dedup for free at the storage layer.
func (p *MinioProvider) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := p.client.PutObject(ctx, p.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: put object %q: %w", key, err)
	}
	return nil
}

// GetObjectURL returns a time-limited URL to read an existing object.
func (p *MinioProvider) GetObjectURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := p.client.PresignedGetObject(ctx, p.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("storage: presign get %q: %w", key, err)
	}
	return u.String(), nil
}

// PresignPut returns a time-limited URL the caller can PUT directly to,
// used by the upload-presign operation.
func (p *MinioProvider) PresignPut(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error) {
	u, err := p.client.PresignedPutObject(ctx, p.bucket, key, ttl)
	if err != nil {
		return "", fmt.Errorf("storage: presign put %q: %w", key, err)
	}
	return u.String(), nil
}

func (p *MinioProvider) Delete(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key is already present in the bucket — used by the
// upload_storage stage action to short-circuit a content-addressed upload
// ("content-addressed so a repeat upload is a no-op").
func (p *MinioProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %q: %w", key, err)
	}
	return true, nil
}
