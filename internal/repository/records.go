// Package repository provides persistence for the reference server's records
// using a PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when no live record matches.
var ErrNotFound = errors.New("record not found")

// Entry is a stored record document.
type Entry struct {
	ID   string
	Data []byte
}

// PostgresRecordRepository stores JSON documents per collection.
type PostgresRecordRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewPostgresRecordRepository creates a repository over db.
func NewPostgresRecordRepository(db *sql.DB) *PostgresRecordRepository {
	return &PostgresRecordRepository{DB: db}
}

// Upsert inserts or replaces a document and revives it if it was soft-deleted.
func (r *PostgresRecordRepository) Upsert(ctx context.Context, collection, id string, data []byte) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO records (collection, id, data, updated_at, deleted, deleted_at)
		VALUES ($1, $2, $3, now(), false, NULL)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = now(),
			deleted = false,
			deleted_at = NULL
	`, collection, id, string(data))
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Merge applies a shallow JSON merge of patch onto a live document.
func (r *PostgresRecordRepository) Merge(ctx context.Context, collection, id string, patch []byte) ([]byte, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `
		UPDATE records SET data = data || $3::jsonb, updated_at = now()
		WHERE collection = $1 AND id = $2 AND deleted = false
		RETURNING data
	`, collection, id, string(patch)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("merge %s/%s: %w", collection, id, err)
	}
	return data, nil
}

// SoftDelete marks a live document deleted. The cleaner purges it later.
func (r *PostgresRecordRepository) SoftDelete(ctx context.Context, collection, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE records SET deleted = true, deleted_at = now()
		WHERE collection = $1 AND id = $2 AND deleted = false
	`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns one live document.
func (r *PostgresRecordRepository) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM records
		WHERE collection = $1 AND id = $2 AND deleted = false
	`, collection, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return data, nil
}

// List returns live documents of a collection. With ids set only those are returned.
func (r *PostgresRecordRepository) List(ctx context.Context, collection string, ids []string) ([]Entry, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT id, data FROM records
			WHERE collection = $1 AND deleted = false
			ORDER BY updated_at
		`, collection)
	} else {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT id, data FROM records
			WHERE collection = $1 AND id = ANY($2) AND deleted = false
			ORDER BY updated_at
		`, collection, pq.Array(ids))
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Data); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return entries, nil
}
