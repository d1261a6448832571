package filestore

import "time"

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Bucket string

	// Key is the full object path within the bucket, e.g. "exports/q1.csv".
	Key string

	// Size is the byte size of the object. -1 if unknown.
	Size int64

	ContentType  string
	ETag         string
	LastModified time.Time
}

// PutOptions controls how an object is written.
type PutOptions struct {
	ContentType string

	// Metadata is stored as user metadata on the object.
	Metadata map[string]string
}
