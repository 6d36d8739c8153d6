package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const defaultAttempts = 3

// Store owns the single connection to the embedded database. Every statement
// the application issues goes through it, so the retry policy for transient
// lock errors lives in one place.
type Store struct {
	DB       *sql.DB
	Attempts int
	Backoff  time.Duration
	Sleep    func(time.Duration)
}

// New wraps an opened database with the default retry policy.
func New(db *sql.DB) *Store {
	return &Store{
		DB:       db,
		Attempts: defaultAttempts,
		Backoff:  100 * time.Millisecond,
		Sleep:    time.Sleep,
	}
}

// FailureError reports a write that still failed after the retry budget was
// spent, or an unrecoverable store error.
type FailureError struct {
	Attempts int
	Err      error
}

func (e *FailureError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("store failure after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("store failure: %v", e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// IsTransient reports whether an error is a lock/busy condition worth
// retrying. The sqlite driver surfaces these as SQLITE_BUSY (5) and
// SQLITE_LOCKED (6) with stable message text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "sqlite_locked")
}

func (s *Store) attempts() int {
	if s.Attempts > 0 {
		return s.Attempts
	}
	return defaultAttempts
}

func (s *Store) sleep(attempt int) {
	backoff := s.Backoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	fn := s.Sleep
	if fn == nil {
		fn = time.Sleep
	}
	fn(time.Duration(attempt) * backoff)
}

// retry runs fn up to the attempt budget, backing off linearly between
// transient failures. Non-transient errors return immediately.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	max := s.attempts()
	var err error
	for attempt := 1; attempt <= max; attempt++ {
		err = fn()
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt < max {
			s.sleep(attempt)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &FailureError{Attempts: max, Err: err}
}

// Exec runs a single statement with retry on transient lock errors.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.retry(ctx, func() error {
		var execErr error
		res, execErr = s.DB.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Query runs a read statement with retry on transient lock errors.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := s.retry(ctx, func() error {
		var queryErr error
		rows, queryErr = s.DB.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// QueryRow runs a single-row read. Errors surface at Scan time, so the retry
// policy does not apply here; WAL mode keeps readers from blocking anyway.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.DB.QueryRowContext(ctx, query, args...)
}

// WithTx groups statements into one transaction. A failing fn (or commit)
// rolls everything back before the error propagates; no partial writes
// survive. Transient failures rerun the whole function on a fresh
// transaction, up to the attempt budget.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.retry(ctx, func() error {
		tx, err := s.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
