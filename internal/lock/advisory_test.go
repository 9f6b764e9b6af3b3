package lock

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/sfrecorder/internal/sqlutil"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestAcquireRelease_MySQL(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewAdvisoryLock(db, sqlutil.MySQL, "test_lock")

	mock.ExpectQuery("SELECT GET_LOCK(?, ?)").
		WithArgs("test_lock", 1).
		WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK(?)").
		WithArgs("test_lock").
		WillReturnRows(sqlmock.NewRows([]string{"release"}).AddRow(1))

	acquired, err := l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	// Re-acquiring a held lock does not query again
	acquired, err = l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())

	released, err = l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.False(t, released, "nothing to release")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_MySQLHeldElsewhere(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewAdvisoryLock(db, sqlutil.MySQL, "test_lock")

	mock.ExpectQuery("SELECT GET_LOCK(?, ?)").
		WithArgs("test_lock", 1).
		WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(0))

	err := l.AcquireOrFail(context.Background())
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Contains(t, err.Error(), "test_lock")
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_MySQLErrors(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		msg    string
	}{
		{
			name: "null result",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT GET_LOCK(?, ?)").WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(nil))
			},
			msg: "returned NULL",
		},
		{
			name: "query error",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT GET_LOCK(?, ?)").WillReturnError(errors.New("server has gone away"))
			},
			msg: "failed to execute GET_LOCK",
		},
		{
			name: "unexpected value",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT GET_LOCK(?, ?)").WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(7))
			},
			msg: "returned 7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			tt.expect(mock)

			acquired, err := NewAdvisoryLock(db, sqlutil.MySQL, "test_lock").AcquireLock(context.Background(), TimeoutImmediate)
			assert.False(t, acquired)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestAcquireRelease_Postgres(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewAdvisoryLock(db, sqlutil.Postgres, "test_lock")

	mock.ExpectQuery("SELECT pg_try_advisory_lock(hashtext($1))").
		WithArgs("test_lock").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	mock.ExpectQuery("SELECT pg_advisory_unlock(hashtext($1))").
		WithArgs("test_lock").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))

	require.NoError(t, l.AcquireOrFail(context.Background()))
	assert.True(t, l.IsHeld())

	released, err := l.ReleaseLock(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_PostgresPollsUntilTimeout(t *testing.T) {
	old := pollInterval
	pollInterval = 400 * time.Millisecond
	defer func() { pollInterval = old }()

	db, mock := newMockDB(t)
	l := NewAdvisoryLock(db, sqlutil.Postgres, "test_lock")

	// 1s timeout with 400ms polling gives the first try plus two retries
	for i := 0; i < 3; i++ {
		mock.ExpectQuery("SELECT pg_try_advisory_lock(hashtext($1))").
			WithArgs("test_lock").
			WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))
	}

	acquired, err := l.AcquireLock(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_PostgresImmediate(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT pg_try_advisory_lock(hashtext($1))").
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))

	acquired, err := NewAdvisoryLock(db, sqlutil.Postgres, "test_lock").AcquireLock(context.Background(), TimeoutImmediate)
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_MySQLNoSuchLock(t *testing.T) {
	db, mock := newMockDB(t)
	l := NewAdvisoryLock(db, sqlutil.MySQL, "test_lock")

	mock.ExpectQuery("SELECT GET_LOCK(?, ?)").WillReturnRows(sqlmock.NewRows([]string{"lock"}).AddRow(1))
	mock.ExpectQuery("SELECT RELEASE_LOCK(?)").WillReturnRows(sqlmock.NewRows([]string{"release"}).AddRow(nil))

	require.NoError(t, l.AcquireOrFail(context.Background()))
	released, err := l.ReleaseLock(context.Background())
	assert.False(t, released)
	assert.ErrorContains(t, err, "no such lock")
	assert.False(t, l.IsHeld(), "connection is returned even when release fails")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateTableLockName(t *testing.T) {
	assert.Equal(t, "sfrecorder:table:sf_recorder.recorder_records", GenerateTableLockName("sf_recorder.recorder_records"))
	assert.Equal(t, "sfrecorder:table:a_b_c", GenerateTableLockName("a b;c"))

	long := GenerateTableLockName(strings.Repeat("x", 100))
	assert.Len(t, long, 64)

	l := NewTableLock(nil, sqlutil.MySQL, "records")
	assert.Equal(t, "sfrecorder:table:records", l.LockName())
	assert.False(t, l.IsHeld())
}
