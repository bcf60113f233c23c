// Package memory stores snapshots in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/contact-form/internal/storage"
)

type object struct {
	data    []byte
	version string
}

// BlobStore keeps objects in a map with monotonically increasing versions.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
	next    int64
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]object),
	}
}

// GetObject returns a copy of the stored bytes.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return append([]byte(nil), obj.data...), obj.version, nil
}

// PutObject stores a copy of data when ifVersion matches the current version.
func (s *BlobStore) PutObject(_ context.Context, path, _ string, data []byte, ifVersion string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.objects[path]
	switch {
	case ifVersion == "" && exists:
		return "", fmt.Errorf("put %s: object already exists: %w", path, storage.ErrPreconditionFailed)
	case ifVersion != "" && (!exists || current.version != ifVersion):
		return "", fmt.Errorf("put %s: version %s is stale: %w", path, ifVersion, storage.ErrPreconditionFailed)
	}

	s.next++
	version := strconv.FormatInt(s.next, 10)
	s.objects[path] = object{data: append([]byte(nil), data...), version: version}
	return version, nil
}
