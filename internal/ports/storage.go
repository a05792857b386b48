package ports

import (
	"context"
	"io"
)

type PutObjectInput struct {
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	// On localfs this is the same object_key.
	// On gdrive this is the real fileId (needed to read/stream later).
	ObjectKey string
	Size      int64
}

// StorageProvider: implementations (localfs, gdrive, s3, etc.)
// Providers must tolerate concurrent PutObject calls from different workers.
type StorageProvider interface {
	Provider() string

	// EnsureBucket verifies the target container exists, creating it if
	// absent. Used by the object-store readiness check.
	EnsureBucket(ctx context.Context) error

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, objectKey string) error
}
