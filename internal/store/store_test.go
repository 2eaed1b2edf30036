package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/declutter/internal/models"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "declutter.db")
	s := NewSQLite(path, nil)
	require.NoError(t, s.Open(context.Background()))
	require.True(t, s.Available(), "store should open: %v", s.Err())
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": "u1", "name": "Ann"}))

	rec, ok, err := s.Get(ctx, models.Users, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ann", rec["name"])
}

func TestPut_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, models.Streaks, models.Record{"userId": "u1", "current": 1}))
	require.NoError(t, s.Put(ctx, models.Streaks, models.Record{"userId": "u1", "current": 2}))

	rec, ok, err := s.Get(ctx, models.Streaks, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, json.Number("2"), rec["current"])

	all, err := s.GetAll(ctx, models.Streaks)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPut_NumericKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": 42}))

	_, ok, err := s.Get(ctx, models.Users, "42")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGet_MissingKey(t *testing.T) {
	s, _ := newTestStore(t)

	rec, ok, err := s.Get(context.Background(), models.Users, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)
}

func TestGetAll_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": id}))
	}
	// an update keeps the original position
	require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": "c", "name": "updated"}))

	all, err := s.GetAll(ctx, models.Users)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0]["id"])
	assert.Equal(t, "updated", all[0]["name"])
	assert.Equal(t, "a", all[1]["id"])
	assert.Equal(t, "b", all[2]["id"])
}

func TestGetAll_Empty(t *testing.T) {
	s, _ := newTestStore(t)

	all, err := s.GetAll(context.Background(), models.DigitalData)
	require.NoError(t, err)
	assert.NotNil(t, all)
	assert.Empty(t, all)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, models.DigitalData, models.Record{"userId": "u1", "photoCount": 10}))
	require.NoError(t, s.Delete(ctx, models.DigitalData, "u1"))
	require.NoError(t, s.Delete(ctx, models.DigitalData, "u1"), "deleting an absent key is a no-op")

	_, ok, err := s.Get(ctx, models.DigitalData, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_Validation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	err := s.Put(ctx, models.DigitalData, models.Record{"id": "x"})
	assert.ErrorIs(t, err, ErrMissingKey)

	err = s.Put(ctx, models.Collection("photos"), models.Record{"id": "x"})
	assert.ErrorIs(t, err, ErrUnknownCollection)

	_, _, err = s.Get(ctx, models.Collection("photos"), "x")
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "declutter.db")

	s := NewSQLite(path, nil)
	require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": "u1"}))
	require.NoError(t, s.Put(ctx, models.PendingActions, models.Record{"id": "a1", "type": "CREATE"}))
	require.NoError(t, s.Close())

	reopened := NewSQLite(path, nil)
	defer reopened.Close()

	_, ok, err := reopened.Get(ctx, models.Users, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	actions, err := reopened.GetAll(ctx, models.PendingActions)
	require.NoError(t, err)
	assert.Len(t, actions, 1)
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.Open(ctx))
	assert.True(t, s.Available())
}

func TestDegradedMode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s := NewSQLite(filepath.Join(blocker, "sub", "declutter.db"), nil)
	require.NoError(t, s.Open(ctx), "open never fails")
	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Err(), ErrStorageUnavailable)

	assert.NoError(t, s.Put(ctx, models.Users, models.Record{"id": "u1"}))

	rec, ok, err := s.Get(ctx, models.Users, "u1")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rec)

	all, err := s.GetAll(ctx, models.Users)
	assert.NoError(t, err)
	assert.Empty(t, all)

	assert.NoError(t, s.Delete(ctx, models.Users, "u1"))
	assert.NoError(t, s.Close())
}

func TestLazyOpen(t *testing.T) {
	ctx := context.Background()
	s := NewSQLite(filepath.Join(t.TempDir(), "lazy.db"), nil)
	defer s.Close()

	require.NoError(t, s.Put(ctx, models.Users, models.Record{"id": "u1"}))
	assert.True(t, s.Available())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.Put(ctx, models.Users, models.Record{"id": "u1"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Open(ctx), ErrClosed)
}

func expectTables(mock sqlmock.Sqlmock) {
	for range models.Collections {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
}

func TestPut_ExecError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectTables(mock)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "users"`)).
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectClose()

	s := NewSQLiteWithDB(db, nil)
	err = s.Put(context.Background(), models.Users, models.Record{"id": "u1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NotErrorIs(t, err, ErrStorageUnavailable)

	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectTables(mock)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM "streaks" WHERE key = ?`)).
		WithArgs("u1").
		WillReturnError(errors.New("database is locked"))

	s := NewSQLiteWithDB(db, nil)
	_, ok, err := s.Get(context.Background(), models.Streaks, "u1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAll_ScanRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	expectTables(mock)
	rows := sqlmock.NewRows([]string{"data"}).
		AddRow(`{"id":"a"}`).
		AddRow(`{"id":"b"}`)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT data FROM "users" ORDER BY rowid`)).WillReturnRows(rows)

	s := NewSQLiteWithDB(db, nil)
	all, err := s.GetAll(context.Background(), models.Users)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[1]["id"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpen_TableErrorDegrades(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnError(errors.New("read-only file system"))

	s := NewSQLiteWithDB(db, nil)
	require.NoError(t, s.Open(context.Background()))
	assert.False(t, s.Available())
	assert.ErrorIs(t, s.Err(), ErrStorageUnavailable)

	assert.NoError(t, s.Put(context.Background(), models.Users, models.Record{"id": "u1"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
