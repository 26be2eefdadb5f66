package storage

import (
	"context"
)

// Store defines the interface for report blob persistence.
// Implementations include GCS and S3 for production, MinIO for local
// development and an afero-backed store for tests and single-host setups.
//
// Keys are produced by the keys package; stores treat them as opaque
// slash-separated object names.
type Store interface {
	// Get retrieves the object stored at key.
	// Returns nil if the object does not exist.
	// Returns an error if the retrieval operation fails (excluding not-found).
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data at key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys of all objects whose name starts with prefix.
	// This is meant for operational tooling, not for the comparison path.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the storage client.
	Close() error
}
