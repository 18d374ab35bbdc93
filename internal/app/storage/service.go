/*
Package storage issues presigned upload URLs for profile images on S3-compatible object storage.
*/
package storage

import (
	"context"
	"time"

	"relay/internal/pkg/errs"
)

// ErrStorageFailed wraps any object storage failure.
var ErrStorageFailed = errs.NewSentinel(errs.ErrFileStorageFailed, "file storage failed")

// ServiceConfig holds the configuration required to connect to the storage service.
type ServiceConfig struct {
	S3BucketName      string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// StorageService defines the public interface for the file storage service.
type StorageService interface {
	// PresignUpload generates a pre-signed URL for uploading a file.
	PresignUpload(
		ctx context.Context,
		key string,
		mimeType string,
		fileSize int64,
		duration time.Duration,
	) (string, error)

	// ObjectURL returns the public URL an uploaded object is served from.
	ObjectURL(key string) string

	// Delete removes the file specified by the given key.
	Delete(ctx context.Context, key string) error
}

// NewStorageService is the factory function for StorageService.
// It initializes and returns a concrete implementation based on the provided configuration.
func NewStorageService(ctx context.Context, cfg ServiceConfig) (StorageService, error) {
	// Currently, only S3 compatible implementations are supported.
	return newS3Client(ctx, cfg)
}
