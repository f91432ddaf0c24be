package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5000

// Store is the client-side ledger of files received over the relay. The
// relay server itself keeps nothing on disk; this index only describes files
// the client already wrote to its download directory.
type Store struct {
	db *sql.DB
}

// ReceivedFile is one row in the ledger.
type ReceivedFile struct {
	ID         int64
	FileID     string
	Filename   string
	SizeBytes  int64
	Sender     string
	SHA256     string
	Path       string
	ReceivedAt time.Time
}

// NewStore opens (creating if needed) the SQLite ledger at path. Call Close
// when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "lanshare.db"
	}
	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying DB connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = path[len("sqlite://"):]
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, defaultBusyTimeout)
}

// Migrate creates the schema when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS received_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		file_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		sender TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		path TEXT NOT NULL,
		received_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	return err
}

// RecordFile appends a row for a file that was just written to disk.
func (s *Store) RecordFile(ctx context.Context, file ReceivedFile) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO received_files(file_id, filename, size_bytes, sender, sha256, path) VALUES(?, ?, ?, ?, ?, ?)`,
		file.FileID, file.Filename, file.SizeBytes, file.Sender, file.SHA256, file.Path)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// ListFiles returns the most recent ledger rows, newest first. A limit of
// zero or less means no limit.
func (s *Store) ListFiles(ctx context.Context, limit int) ([]ReceivedFile, error) {
	query := `SELECT id, file_id, filename, size_bytes, sender, sha256, path, received_at
		FROM received_files ORDER BY received_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []ReceivedFile
	for rows.Next() {
		var f ReceivedFile
		if err := rows.Scan(&f.ID, &f.FileID, &f.Filename, &f.SizeBytes, &f.Sender, &f.SHA256, &f.Path, &f.ReceivedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FindByFileID returns the ledger row for a transfer id, or nil when the
// transfer was never recorded.
func (s *Store) FindByFileID(ctx context.Context, fileID string) (*ReceivedFile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, file_id, filename, size_bytes, sender, sha256, path, received_at
		FROM received_files WHERE file_id = ? ORDER BY id DESC LIMIT 1`, fileID)
	var f ReceivedFile
	if err := row.Scan(&f.ID, &f.FileID, &f.Filename, &f.SizeBytes, &f.Sender, &f.SHA256, &f.Path, &f.ReceivedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}
