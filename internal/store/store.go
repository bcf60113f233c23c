// Package store keeps the contacts table as a single SQLite file ("snapshot")
// in a blob store. Each write downloads the snapshot, appends one row to a
// private working copy, and uploads the whole file conditioned on the version
// it was fetched at.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/contact-form/internal/contact"
	"github.com/JakeFAU/contact-form/internal/storage"
)

//go:embed migrations/*.sql
var migrations embed.FS

const snapshotContentType = "application/x-sqlite3"

// ErrConflict reports that another writer replaced the snapshot after it was
// fetched. The appended row was not persisted.
var ErrConflict = errors.New("store: snapshot was modified concurrently")

// ErrIncompatibleSchema reports a fetched snapshot whose contacts table lacks
// columns this build writes. Migrations never alter an existing table.
var ErrIncompatibleSchema = errors.New("store: snapshot schema is incompatible")

var insertQuery = buildInsertQuery()

func buildInsertQuery() string {
	cols := contact.Columns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf(
		"INSERT INTO contacts (%s, created_at) VALUES (%s, datetime('now')) RETURNING contact_id, created_at",
		strings.Join(cols, ", "), placeholders,
	)
}

// Record is a persisted Submission.
type Record struct {
	ID int64
	contact.Submission
	CreatedAt string
}

// Fields returns the non-null fields of the record including created_at.
func (r Record) Fields() []contact.Field {
	return append(r.Submission.Fields(), contact.Field{Name: "created_at", Value: r.CreatedAt})
}

// Store moves snapshots between the blob store and local working copies.
type Store struct {
	blobs   storage.BlobStore
	path    string
	tempDir string
	logger  *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithTempDir places working copies under dir instead of the OS default.
func WithTempDir(dir string) Option {
	return func(s *Store) { s.tempDir = dir }
}

// New builds a Store for the snapshot at path.
func New(blobs storage.BlobStore, path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{blobs: blobs, path: path, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path is the object path of the snapshot.
func (s *Store) Path() string {
	return s.path
}

// Snapshot is a local working copy of the contacts table.
type Snapshot struct {
	db      *sql.DB
	dir     string
	file    string
	version string
}

// Version is the blob version the working copy was fetched at; empty when
// the snapshot did not exist yet.
func (s *Snapshot) Version() string {
	return s.version
}

// FetchOrCreate downloads the current snapshot into a private temp directory,
// or starts an empty one when none exists, and ensures the schema.
func (s *Store) FetchOrCreate(ctx context.Context) (*Snapshot, error) {
	dir, err := os.MkdirTemp(s.tempDir, "contacts-*")
	if err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}
	snap := &Snapshot{dir: dir, file: filepath.Join(dir, "contacts.sqlite")}

	data, version, err := s.blobs.GetObject(ctx, s.path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.logger.Info("no snapshot found, creating one", zap.String("path", s.path))
	case err != nil:
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	default:
		if err := os.WriteFile(snap.file, data, 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("write working copy: %w", err)
		}
		snap.version = version
	}

	db, err := sql.Open("sqlite", snap.file)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("open working copy: %w", err)
	}
	db.SetMaxOpenConns(1)
	snap.db = db

	if err := migrate(ctx, db); err != nil {
		_ = snap.Close()
		return nil, err
	}
	if err := checkSchema(ctx, db); err != nil {
		_ = snap.Close()
		return nil, err
	}

	s.logger.Debug("snapshot fetched",
		zap.String("path", s.path),
		zap.String("version", snap.version),
		zap.Int("bytes", len(data)),
	)
	return snap, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func checkSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, "SELECT name FROM pragma_table_info('contacts')")
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect schema: %w", err)
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	var missing []string
	for _, col := range append([]string{"contact_id", "created_at"}, contact.Columns()...) {
		if !have[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: contacts is missing %s", ErrIncompatibleSchema, strings.Join(missing, ", "))
	}
	return nil
}

// Append inserts sub with a database-clock created_at. The row is committed
// to the working copy before Append returns.
func (s *Store) Append(ctx context.Context, snap *Snapshot, sub contact.Submission) (Record, error) {
	if sub.EmailAddress == "" {
		return Record{}, contact.ErrMissingEmail
	}
	rec := Record{Submission: sub}
	if err := snap.db.QueryRowContext(ctx, insertQuery, sub.Values()...).Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return Record{}, fmt.Errorf("insert contact: %w", err)
	}
	return rec, nil
}

// Persist uploads the working copy. It fails with ErrConflict when the remote
// snapshot no longer matches the version the copy was fetched at.
func (s *Store) Persist(ctx context.Context, snap *Snapshot) error {
	data, err := os.ReadFile(snap.file)
	if err != nil {
		return fmt.Errorf("read working copy: %w", err)
	}

	version, err := s.blobs.PutObject(ctx, s.path, snapshotContentType, data, snap.version)
	if err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			s.logger.Warn("snapshot conflict",
				zap.String("path", s.path),
				zap.String("fetched_version", snap.version),
			)
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return fmt.Errorf("upload snapshot: %w", err)
	}

	s.logger.Debug("snapshot persisted",
		zap.String("path", s.path),
		zap.String("previous_version", snap.version),
		zap.String("version", version),
	)
	snap.version = version
	return nil
}

// Count returns the number of stored contacts.
func (snap *Snapshot) Count(ctx context.Context) (int, error) {
	var n int
	if err := snap.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM contacts").Scan(&n); err != nil {
		return 0, fmt.Errorf("count contacts: %w", err)
	}
	return n, nil
}

// Records returns up to limit contacts, newest first. A non-positive limit
// returns every row.
func (snap *Snapshot) Records(ctx context.Context, limit int) ([]Record, error) {
	cols := contact.Columns()
	query := fmt.Sprintf("SELECT contact_id, %s, created_at FROM contacts ORDER BY contact_id DESC", strings.Join(cols, ", "))
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := snap.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err is checked below

	var out []Record
	for rows.Next() {
		var rec Record
		values := make([]sql.NullString, len(cols))
		dest := make([]any, 0, len(cols)+2)
		dest = append(dest, &rec.ID)
		for i := range values {
			dest = append(dest, &values[i])
		}
		dest = append(dest, &rec.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		sub, err := contact.FromValues(values)
		if err != nil {
			return nil, err
		}
		rec.Submission = sub
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

// Close releases the database handle and removes the working copy.
func (snap *Snapshot) Close() error {
	var closeErr error
	if snap.db != nil {
		closeErr = snap.db.Close()
	}
	if err := os.RemoveAll(snap.dir); err != nil {
		return errors.Join(closeErr, fmt.Errorf("remove working copy: %w", err))
	}
	if closeErr != nil {
		return fmt.Errorf("close working copy: %w", closeErr)
	}
	return nil
}
