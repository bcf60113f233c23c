// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/contact-form/internal/hash/sha256"
	"github.com/JakeFAU/contact-form/internal/storage"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where snapshots will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes snapshots to the local filesystem. Versions are SHA-256
// digests of the file contents; the compare-and-write is serialised by a
// mutex, so it only guards writers sharing this process.
type BlobStore struct {
	baseDir string
	hasher  *sha256.Hasher
	mu      sync.Mutex
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: cfg.BaseDir,
		hasher:  sha256.New(),
	}, nil
}

// GetObject reads the file at path and returns its digest as the version.
func (s *BlobStore) GetObject(_ context.Context, path string) ([]byte, string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(fullPath)
}

// PutObject writes data when the file on disk still matches ifVersion.
func (s *BlobStore) PutObject(_ context.Context, path, _ string, data []byte, ifVersion string) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, current, err := s.read(fullPath)
	exists := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	switch {
	case ifVersion == "" && exists:
		return "", fmt.Errorf("put %s: object already exists: %w", path, storage.ErrPreconditionFailed)
	case ifVersion != "" && (!exists || current != ifVersion):
		return "", fmt.Errorf("put %s: version is stale: %w", path, storage.ErrPreconditionFailed)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return "", fmt.Errorf("failed to replace file: %w", err)
	}

	version, err := s.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash contents: %w", err)
	}
	return version, nil
}

func (s *BlobStore) read(fullPath string) ([]byte, string, error) {
	// #nosec G304 -- fullPath is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", storage.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	version, err := s.hasher.Hash(data)
	if err != nil {
		return nil, "", fmt.Errorf("hash contents: %w", err)
	}
	return data, version, nil
}

// resolve joins path onto baseDir and rejects anything escaping it.
func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBaseDir := filepath.Clean(s.baseDir)
	fullPath := filepath.Clean(filepath.Join(cleanBaseDir, path))
	if !strings.HasPrefix(fullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
