// Package lock provides database advisory locking so that only one scraper
// instance writes to a records table at a time.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/sfrecorder/internal/sqlutil"
)

// ErrLockTimeout means another scraper holds the table lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Lock wait bounds in seconds.
const (
	TimeoutImmediate = 0
	TimeoutShort     = 1
)

// pollInterval spaces PostgreSQL try-lock attempts, which do not wait on their own.
var pollInterval = 250 * time.Millisecond

// AdvisoryLock is a named session lock. MySQL uses GET_LOCK(); PostgreSQL
// uses pg_try_advisory_lock() on the hash of the name. Both are tied to the
// connection that took them, so the lock pins one connection from the pool
// until it is released.
type AdvisoryLock struct {
	db       *sql.DB
	dialect  sqlutil.Dialect
	lockName string
	conn     *sql.Conn
}

// NewAdvisoryLock returns an unacquired lock named lockName.
func NewAdvisoryLock(db *sql.DB, dialect sqlutil.Dialect, lockName string) *AdvisoryLock {
	return &AdvisoryLock{
		db:       db,
		dialect:  dialect,
		lockName: lockName,
	}
}

// AcquireLock waits up to timeoutSeconds for the lock. It reports false
// without error when the wait ran out.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.conn != nil {
		return true, nil
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	if a.dialect == sqlutil.Postgres {
		acquired, err = a.acquirePostgres(ctx, conn, timeoutSeconds)
	} else {
		acquired, err = a.acquireMySQL(ctx, conn, timeoutSeconds)
	}
	if err != nil || !acquired {
		conn.Close()
		return false, err
	}

	a.conn = conn
	return true, nil
}

func (a *AdvisoryLock) acquireMySQL(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}

	// GET_LOCK yields NULL when the server failed to take the lock at all.
	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK(%q) returned NULL", a.lockName)
	}
	if result.Int64 != 0 && result.Int64 != 1 {
		return false, fmt.Errorf("GET_LOCK(%q) returned %d", a.lockName, result.Int64)
	}
	return result.Int64 == 1, nil
}

func (a *AdvisoryLock) acquirePostgres(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
		}
		if ok {
			return true, nil
		}
		if !time.Now().Add(pollInterval).Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReleaseLock unlocks and hands the pinned connection back to the pool.
// It reports false when nothing was held.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if a.conn == nil {
		return false, nil
	}
	conn := a.conn
	a.conn = nil
	defer conn.Close()

	if a.dialect == sqlutil.Postgres {
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
		}
		return ok, nil
	}

	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("RELEASE_LOCK(%q) returned NULL, no such lock", a.lockName)
	}
	return result.Int64 == 1, nil
}

// IsHeld reports whether this process holds the lock.
func (a *AdvisoryLock) IsHeld() bool {
	return a.conn != nil
}

// LockName is the server-side name of the lock.
func (a *AdvisoryLock) LockName() string {
	return a.lockName
}

// AcquireOrFail takes the lock or fails fast with ErrLockTimeout.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	ok, err := a.AcquireLock(ctx, TimeoutShort)
	switch {
	case err != nil:
		return err
	case !ok:
		return fmt.Errorf("%w: %s is taken by another scraper", ErrLockTimeout, a.lockName)
	}
	return nil
}

// GenerateTableLockName creates the lock name guarding a records table.
// Lock names follow the format "sfrecorder:table:{table}". MySQL caps lock
// names at 64 characters.
func GenerateTableLockName(table string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', strings.ContainsRune("_-.", r):
			return r
		}
		return '_'
	}, table)

	name := "sfrecorder:table:" + clean
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// NewTableLock returns the lock guarding writes to table.
func NewTableLock(db *sql.DB, dialect sqlutil.Dialect, table string) *AdvisoryLock {
	return NewAdvisoryLock(db, dialect, GenerateTableLockName(table))
}
