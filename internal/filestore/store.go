// Package filestore defines the object storage interface used to export
// query results.
//
// Callers depend only on this package, never on a specific provider:
//
//	cfg := filestore.DefaultConfig("localhost:9000", "minioadmin", "minioadmin")
//	store, err := minio.New(ctx, cfg)
//	if err != nil { ... }
//	defer store.Close()
//
//	info, err := store.PutObject(ctx, cfg.Bucket, "q1.csv", r, size, filestore.PutOptions{})
package filestore

import (
	"context"
	"io"
	"time"
)

// Store is implemented by every object storage provider.
type Store interface {
	// Ping verifies the backend is reachable with the configured credentials.
	Ping(ctx context.Context) error

	// Close releases held resources.
	Close() error

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error

	// PutObject uploads size bytes from r to key inside bucket. A negative
	// size streams until EOF.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (*ObjectInfo, error)

	// StatObject returns metadata for key inside bucket without
	// downloading it.
	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)

	// PresignGetURL returns a time-limited download URL for key.
	PresignGetURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}
