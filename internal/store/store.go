// Package store implements the local durable key-value store backed by a
// single SQLite file. Each collection is a table keyed by the record's
// primary key.
//
// If the database cannot be opened the store degrades to a no-op: writes are
// dropped, reads return nothing and no error reaches the caller. The cause is
// logged once and kept for inspection through Err.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/atinyakov/declutter/internal/logger"
	"github.com/atinyakov/declutter/internal/models"
)

var (
	// ErrStorageUnavailable marks a store that could not be opened and runs degraded.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrMissingKey is returned when a record lacks its collection's primary key.
	ErrMissingKey = errors.New("record has no primary key")
	// ErrUnknownCollection is returned for collections the store does not manage.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Store is the contract of the local persistent store.
type Store interface {
	Open(ctx context.Context) error
	Put(ctx context.Context, c models.Collection, rec models.Record) error
	Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error)
	GetAll(ctx context.Context, c models.Collection) ([]models.Record, error)
	Delete(ctx context.Context, c models.Collection, key string) error
	Close() error
}

// SQLiteStore is a Store on top of modernc.org/sqlite.
type SQLiteStore struct {
	path string
	log  *zap.Logger

	mu       sync.Mutex
	db       *sql.DB
	injected bool
	opened   bool
	closed   bool
	err      error
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite returns a store for the database file at path. Nothing is touched
// on disk until Open or the first operation.
func NewSQLite(path string, log *zap.Logger) *SQLiteStore {
	return &SQLiteStore{path: path, log: logger.OrNop(log)}
}

// NewSQLiteWithDB returns a store over an already opened database handle.
// Open only creates the collection tables.
func NewSQLiteWithDB(db *sql.DB, log *zap.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, injected: true, log: logger.OrNop(log)}
}

// Open prepares the database. It is idempotent and never fails: an open
// error switches the store into degraded mode, see Err.
func (s *SQLiteStore) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.openLocked(ctx)
	return nil
}

// Available reports whether the store is backed by a working database.
func (s *SQLiteStore) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened && s.err == nil && !s.closed
}

// Err returns the degradation cause wrapping ErrStorageUnavailable, or nil.
func (s *SQLiteStore) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *SQLiteStore) openLocked(ctx context.Context) {
	if s.opened {
		return
	}
	s.opened = true

	if err := s.init(ctx); err != nil {
		s.err = fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		s.log.Error("local store unavailable, running without persistence",
			zap.String("path", s.path),
			zap.Error(err),
		)
		if s.db != nil && !s.injected {
			_ = s.db.Close()
			s.db = nil
		}
		return
	}
	s.log.Debug("local store opened", zap.String("path", s.path))
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if !s.injected {
		if s.path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
				return fmt.Errorf("create store directory: %w", err)
			}
		}

		dsn := "file:" + s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		// one connection serialises writers and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
		s.db = db

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping sqlite: %w", err)
		}
	}

	for _, c := range models.Collections {
		stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`, table(c))
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", c, err)
		}
	}
	return nil
}

// handle opens lazily and returns the database, or nil when degraded.
func (s *SQLiteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.openLocked(ctx)
	if s.err != nil {
		return nil, nil
	}
	return s.db, nil
}

// Put upserts rec by its primary key. The last write wins.
func (s *SQLiteStore) Put(ctx context.Context, c models.Collection, rec models.Record) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	key, ok := models.KeyOf(c, rec)
	if !ok {
		return fmt.Errorf("%w: %s requires %q", ErrMissingKey, c, c.KeyField())
	}

	db, err := s.handle(ctx)
	if err != nil || db == nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, key, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`, table(c))
	if _, err := db.ExecContext(ctx, query, key, string(data), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("put %s/%s: %w", c, key, err)
	}
	return nil
}

// Get returns the record stored under key. A missing key is not an error.
func (s *SQLiteStore) Get(ctx context.Context, c models.Collection, key string) (models.Record, bool, error) {
	if !c.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	db, err := s.handle(ctx)
	if err != nil || db == nil {
		return nil, false, err
	}

	var data string
	err = db.QueryRowContext(ctx, fmt.Sprintf(`SELECT data FROM %s WHERE key = ?`, table(c)), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", c, key, err)
	}

	rec, err := models.DecodeRecord([]byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", c, key, err)
	}
	return rec, true, nil
}

// GetAll returns every record of the collection in insertion order.
func (s *SQLiteStore) GetAll(ctx context.Context, c models.Collection) ([]models.Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	db, err := s.handle(ctx)
	if err != nil || db == nil {
		return []models.Record{}, err
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT data FROM %s ORDER BY rowid`, table(c)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		rec, err := models.DecodeRecord([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", c, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	return out, nil
}

// Delete removes key from the collection. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, c models.Collection, key string) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}

	db, err := s.handle(ctx)
	if err != nil || db == nil {
		return err
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, table(c)), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, key, err)
	}
	return nil
}

// Close checkpoints the write-ahead log and releases the database. It is idempotent.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db == nil {
		return nil
	}

	if !s.injected && s.err == nil {
		if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			s.log.Warn("wal checkpoint failed", zap.Error(err))
		}
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

func table(c models.Collection) string {
	return `"` + string(c) + `"`
}
