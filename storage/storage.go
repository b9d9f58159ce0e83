// Package storage defines the object-storage provider contract: upload,
// presigned URL issuance, and delete, over whichever S3-compatible
// backend the registry binds.
package storage

import (
	"context"
	"io"
	"time"
)

// Provider is the uniform object-storage contract.
type Provider interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	GetObjectURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// Name is the registry provider name (e.g. "minio", "s3").
	Name() string
}
