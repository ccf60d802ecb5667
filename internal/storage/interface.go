// Package storage defines the object store interface backups are written to,
// with S3-compatible and GCS implementations.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound reports that the requested object key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore defines the operations backups need from an object store.
type ObjectStore interface {
	// CanUseBucket reports whether the configured bucket exists and can be
	// used. A missing bucket folds into false; connectivity and authorization
	// failures are returned as errors so callers see the real cause.
	CanUseBucket(ctx context.Context) (bool, error)

	// List returns the objects under the given key prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Exists reports whether an object with the given key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// GetStream returns the lazily streamed body of an object. The caller
	// must close it. Returns ErrObjectNotFound for unknown keys.
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)

	// Put streams the reader into the object identified by key. expectedSize
	// is an estimate used to size upload parts; the stream may turn out
	// shorter or longer. A failed Put never leaves a partial object visible.
	Put(ctx context.Context, key string, reader io.Reader, expectedSize int64) error
}

// ObjectInfo contains information about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}
