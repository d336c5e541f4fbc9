package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/hyperengineering/outbox/internal/store/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

const (
	encodingSnappy = "snappy"
	encodingRaw    = "raw"
)

// Store is a Storage backed by a local SQLite file. Blobs are snappy-compressed.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
	path   string
}

// NewStore opens or creates a snapshot database.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("store: set goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "."); err != nil {
		return fmt.Errorf("store: run migrations: %w", err)
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', ?), ('created_at', ?)
	`, schemaVersion, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Load returns the blob saved under key.
func (s *Store) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	var value []byte
	var encoding string
	err := s.db.QueryRow(`SELECT value, encoding FROM snapshots WHERE key = ?`, key).Scan(&value, &encoding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", key, err)
	}

	switch encoding {
	case encodingSnappy:
		out, err := snappy.Decode(nil, value)
		if err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", key, err)
		}
		return out, nil
	case encodingRaw:
		return value, nil
	default:
		return nil, fmt.Errorf("store: %s has unknown encoding %q", key, encoding)
	}
}

// Save replaces the blob under key.
func (s *Store) Save(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO snapshots (key, value, encoding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encoding = excluded.encoding, updated_at = excluded.updated_at
	`, key, snappy.Encode(nil, value), encodingSnappy, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: save %s: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last saved.
func (s *Store) UpdatedAt(key string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return time.Time{}, ErrStoreClosed
	}

	var raw string
	err := s.db.QueryRow(`SELECT updated_at FROM snapshots WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoSnapshot
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("store: updated_at %s: %w", key, err)
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// GetMetadata returns a metadata value, or "" when unset.
func (s *Store) GetMetadata(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMetadata stores a metadata value.
func (s *Store) SetMetadata(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	_, err := s.db.Exec(`
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Backup copies the database to destPath after checkpointing the WAL.
func (s *Store) Backup(ctx context.Context, destPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("checkpoint WAL: %w", err)
	}

	src, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("copy database: %w", err)
	}

	return dst.Sync()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
