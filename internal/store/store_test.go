package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/storage"
	"github.com/JakeFAU/contact-form/internal/storage/memory"
)

const testPath = "site/contacts.sqlite"

func newTestStore(t *testing.T, blobs storage.BlobStore) *Store {
	t.Helper()
	s, err := New(blobs, testPath, zap.NewNop(), WithTempDir(t.TempDir()))
	require.NoError(t, err)
	return s
}

func sampleSubmission() contact.Submission {
	return contact.Submission{
		EmailAddress: "a@example.com",
		IPAddress:    sql.NullString{String: "1.2.3.4", Valid: true},
		Inquiry:      sql.NullString{String: "pricing", Valid: true},
		Host:         sql.NullString{String: "https://example.com", Valid: true},
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, testPath, nil)
	assert.Error(t, err)
	_, err = New(memory.NewBlobStore(), " ", nil)
	assert.Error(t, err)
}

func TestFetchOrCreateEmpty(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewBlobStore())

	snap, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck

	n, err := snap.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, snap.Version())
}

func TestFetchOrCreateRejectsOldSchema(t *testing.T) {
	ctx := context.Background()

	file := filepath.Join(t.TempDir(), "old.sqlite")
	db, err := sql.Open("sqlite", file)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `CREATE TABLE contacts (
		contact_id INTEGER PRIMARY KEY,
		email_address TEXT NOT NULL,
		name TEXT,
		created_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	data, err := os.ReadFile(file)
	require.NoError(t, err)

	blobs := memory.NewBlobStore()
	_, err = blobs.PutObject(ctx, testPath, snapshotContentType, data, "")
	require.NoError(t, err)

	_, err = newTestStore(t, blobs).FetchOrCreate(ctx)
	require.ErrorIs(t, err, ErrIncompatibleSchema)
	assert.Contains(t, err.Error(), "phone_number")
	assert.NotContains(t, err.Error(), "email_address")
}

func TestAppendPersistFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	s := newTestStore(t, blobs)

	snap, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	rec, err := s.Append(ctx, snap, sampleSubmission())
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`), rec.CreatedAt)
	require.NoError(t, s.Persist(ctx, snap))
	require.NoError(t, snap.Close())

	_, err = os.Stat(snap.dir)
	assert.True(t, os.IsNotExist(err), "working copy should be removed")

	second := sampleSubmission()
	second.EmailAddress = "b@example.com"
	second.Inquiry = sql.NullString{}

	snap, err = s.FetchOrCreate(ctx)
	require.NoError(t, err)
	before, err := snap.Count(ctx)
	require.NoError(t, err)
	_, err = s.Append(ctx, snap, second)
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, snap))
	require.NoError(t, snap.Close())

	snap, err = s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck

	after, err := snap.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+1, after)

	records, err := snap.Records(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, second, records[0].Submission)
	assert.Equal(t, int64(2), records[0].ID)

	all, err := snap.Records(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, sampleSubmission(), all[1].Submission)
}

func TestPersistStaleSnapshotConflicts(t *testing.T) {
	ctx := context.Background()
	blobs := memory.NewBlobStore()
	s := newTestStore(t, blobs)

	seed, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	_, err = s.Append(ctx, seed, sampleSubmission())
	require.NoError(t, err)
	require.NoError(t, s.Persist(ctx, seed))
	require.NoError(t, seed.Close())

	first, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer first.Close() //nolint:errcheck
	second, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer second.Close() //nolint:errcheck

	_, err = s.Append(ctx, first, sampleSubmission())
	require.NoError(t, err)
	_, err = s.Append(ctx, second, sampleSubmission())
	require.NoError(t, err)

	require.NoError(t, s.Persist(ctx, first))
	err = s.Persist(ctx, second)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	check, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer check.Close() //nolint:errcheck
	n, err := check.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConcurrentCreateConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewBlobStore())

	a, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	b, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer b.Close() //nolint:errcheck

	require.NoError(t, s.Persist(ctx, a))
	assert.ErrorIs(t, s.Persist(ctx, b), ErrConflict)
}

func TestAppendRequiresEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, memory.NewBlobStore())

	snap, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck

	_, err = s.Append(ctx, snap, contact.Submission{})
	assert.ErrorIs(t, err, contact.ErrMissingEmail)
}

func TestFetchErrorPropagates(t *testing.T) {
	blobs := &storage.MockBlobStore{}
	blobs.On("GetObject", mock.Anything, testPath).Return(nil, "", errors.New("bucket unavailable"))
	s := newTestStore(t, blobs)

	_, err := s.FetchOrCreate(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	blobs.AssertExpectations(t)
}

func TestPersistUploadErrorIsNotConflict(t *testing.T) {
	ctx := context.Background()
	blobs := &storage.MockBlobStore{}
	blobs.On("GetObject", mock.Anything, testPath).Return(nil, "", storage.ErrNotFound)
	blobs.On("PutObject", mock.Anything, testPath, snapshotContentType, mock.Anything, "").
		Return("", errors.New("network down"))
	s := newTestStore(t, blobs)

	snap, err := s.FetchOrCreate(ctx)
	require.NoError(t, err)
	defer snap.Close() //nolint:errcheck

	err = s.Persist(ctx, snap)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	blobs.AssertExpectations(t)
}
