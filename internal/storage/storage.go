// Package storage defines the blob store abstraction that holds the contacts
// snapshot. Backends live in subpackages (gcs, s3, local, memory) so the
// application stays independent of a specific storage implementation.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound reports that no object exists at the requested path.
	ErrNotFound = errors.New("storage: object not found")
	// ErrPreconditionFailed reports that the object changed (or appeared)
	// since the version the caller based its write on.
	ErrPreconditionFailed = errors.New("storage: precondition failed")
)

// BlobStore reads and conditionally writes whole objects.
//
// Versions are opaque strings issued by the backend: a GCS generation, an S3
// ETag, a content digest, or a counter.
type BlobStore interface {
	// GetObject returns the object bytes and their current version.
	GetObject(ctx context.Context, path string) ([]byte, string, error)
	// PutObject replaces the object only if it is still at ifVersion. An empty
	// ifVersion means the object must not exist yet. It returns the new version.
	PutObject(ctx context.Context, path, contentType string, data []byte, ifVersion string) (string, error)
}
