package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNoHosts is returned by Open when no ClickHouse address is configured.
	ErrNoHosts = errors.New("no clickhouse hosts configured")

	// ErrUnavailable means ClickHouse could not be reached.
	ErrUnavailable = errors.New("journal unavailable")

	// ErrInsertFailed means a batch was not written after every retry.
	ErrInsertFailed = errors.New("journal insert failed")

	// ErrWriterClosed is returned by Record after Close.
	ErrWriterClosed = errors.New("journal writer is closed")

	// ErrMigrationChanged means an applied migration no longer matches its file.
	ErrMigrationChanged = errors.New("applied journal migration was modified")
)

// JournalError records which journal operation failed and, for inserts,
// how many rows and attempts were involved.
type JournalError struct {
	Op       string
	Rows     int
	Attempts int
	Err      error
}

func (e *JournalError) Error() string {
	if e.Rows > 0 {
		return fmt.Sprintf("journal %s of %d rows after %d attempts: %v", e.Op, e.Rows, e.Attempts, e.Err)
	}
	return fmt.Sprintf("journal %s: %v", e.Op, e.Err)
}

func (e *JournalError) Unwrap() error { return e.Err }

func unavailable(op string, err error) error {
	return &JournalError{Op: op, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
}

func insertFailed(rows, attempts int, err error) error {
	return &JournalError{
		Op:       "insert",
		Rows:     rows,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", ErrInsertFailed, err),
	}
}
