package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockBlobStore is a mock implementation of BlobStore for testing.
type MockBlobStore struct {
	mock.Mock
}

// GetObject is the mock implementation of the GetObject method.
func (m *MockBlobStore) GetObject(ctx context.Context, path string) ([]byte, string, error) {
	args := m.Called(ctx, path)
	var data []byte
	if v := args.Get(0); v != nil {
		data = v.([]byte)
	}
	return data, args.String(1), args.Error(2) //nolint:wrapcheck
}

// PutObject is the mock implementation of the PutObject method.
func (m *MockBlobStore) PutObject(ctx context.Context, path, contentType string, data []byte, ifVersion string) (string, error) {
	args := m.Called(ctx, path, contentType, data, ifVersion)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}

var _ BlobStore = (*MockBlobStore)(nil)
