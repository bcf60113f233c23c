// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	blob "github.com/JakeFAU/contact-form/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore reads and writes snapshots in a configured GCS bucket. Object
// generations serve as versions.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// GetObject downloads the object and reports its generation.
func (s *BlobStore) GetObject(ctx context.Context, path string) ([]byte, string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", fmt.Errorf("path is required")
	}
	reader, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", blob.ErrNotFound
		}
		return nil, "", fmt.Errorf("open gs://%s/%s: %w", s.bucket, path, err)
	}
	defer reader.Close() //nolint:errcheck // read-only

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("read gs://%s/%s: %w", s.bucket, path, err)
	}
	return data, strconv.FormatInt(reader.Attrs.Generation, 10), nil
}

// PutObject uploads data conditioned on the object generation. Retries are
// disabled so a lost race surfaces instead of being replayed.
func (s *BlobStore) PutObject(ctx context.Context, path, contentType string, data []byte, ifVersion string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	cond := storage.Conditions{DoesNotExist: true}
	if ifVersion != "" {
		generation, err := strconv.ParseInt(ifVersion, 10, 64)
		if err != nil {
			return "", fmt.Errorf("parse generation %q: %w", ifVersion, err)
		}
		cond = storage.Conditions{GenerationMatch: generation}
	}

	obj := s.client.Bucket(s.bucket).Object(path).
		If(cond).
		Retryer(storage.WithPolicy(storage.RetryNever))
	writer := obj.NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", classify(fmt.Errorf("write object: %w (close writer: %v)", err, closeErr), closeErr)
		}
		return "", classify(fmt.Errorf("write object: %w", err), err)
	}
	if err := writer.Close(); err != nil {
		return "", classify(fmt.Errorf("close writer: %w", err), err)
	}
	return strconv.FormatInt(writer.Attrs().Generation, 10), nil
}

func classify(wrapped, cause error) error {
	var apiErr *googleapi.Error
	if errors.As(cause, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %w", wrapped, blob.ErrPreconditionFailed)
	}
	return wrapped
}
