// SPDX-License-Identifier: Apache-2.0

// Package db wraps a *sql.DB opened against a SQLite file with retry
// behavior for transient lock contention, and a handful of helpers shared by
// every component that reads or writes one of the engine's two databases.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxBackoffDuration = 1 * time.Minute
	backoffInterval    = 10 * time.Millisecond
)

// DB is the interface every engine component depends on instead of a bare
// *sql.DB, so tests can substitute FakeDB and so retry behavior is applied
// uniformly.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error
	RawConn() *sql.DB
	Close() error
}

// RDB wraps a *sql.DB opened on a SQLite file and retries operations using
// exponential backoff (with jitter) when SQLite reports the database is busy
// or locked — the single-process analog of pgroll's postgres lock_timeout
// retry, swapped for SQLite's own contention signal.
type RDB struct {
	Conn *sql.DB
}

// Open opens a SQLite database file with foreign keys enabled and returns it
// wrapped in an RDB. dsn is passed through to modernc.org/sqlite verbatim
// except that _txlock=immediate is appended so every *sql.Tx acquires its
// write lock at BEGIN instead of on first write; callers may append further
// query parameters of their own (e.g. "file:old.sqlite?_pragma=busy_timeout(5000)").
func Open(ctx context.Context, dsn string) (*RDB, error) {
	conn, err := sql.Open("sqlite", withTxLockImmediate(dsn))
	if err != nil {
		return nil, err
	}

	// A single *sql.DB handing out one busy-retrying connection at a time is
	// enough for this engine's access pattern (one writer per database file)
	// and avoids SQLITE_BUSY storms between idle pooled connections.
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		conn.Close()
		return nil, err
	}

	// A single-process writer per file; WAL lets readers (e.g. `status`)
	// proceed without blocking on an in-flight writer.
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, err
	}

	return &RDB{Conn: conn}, nil
}

func withTxLockImmediate(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_txlock=immediate"
}

func isBusy(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func (db *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		res, err := db.Conn.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if isBusy(err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

func (db *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		rows, err := db.Conn.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if isBusy(err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return nil, werr
			}
			continue
		}
		return nil, err
	}
}

// QueryRowContext does not retry: callers that need retry-on-busy semantics
// for a single-row read should use QueryContext + ScanFirstValue.
func (db *RDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.Conn.QueryRowContext(ctx, query, args...)
}

// WithRetryableTransaction runs f inside a transaction, retrying the whole
// attempt on busy/locked errors raised at BEGIN, during f, or at COMMIT.
// go.mod's driver opens every connection with _txlock=immediate (see Open),
// so db.Conn.BeginTx already acquires the write lock up front instead of on
// first write, which is what lets this retry loop observe contention before
// doing any work.
func (db *RDB) WithRetryableTransaction(ctx context.Context, f func(context.Context, *sql.Tx) error) error {
	b := backoff.New(maxBackoffDuration, backoffInterval)
	for {
		tx, err := db.Conn.BeginTx(ctx, nil)
		if err != nil {
			if isBusy(err) {
				if werr := sleepCtx(ctx, b.Duration()); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		err = f(ctx, tx)
		if err == nil {
			if cerr := tx.Commit(); cerr != nil {
				if isBusy(cerr) {
					if werr := sleepCtx(ctx, b.Duration()); werr != nil {
						return werr
					}
					continue
				}
				return cerr
			}
			return nil
		}

		if errRollback := tx.Rollback(); errRollback != nil && !errors.Is(errRollback, sql.ErrTxDone) {
			return errors.Join(err, errRollback)
		}

		if isBusy(err) {
			if werr := sleepCtx(ctx, b.Duration()); werr != nil {
				return werr
			}
			continue
		}
		return err
	}
}

func (db *RDB) RawConn() *sql.DB {
	return db.Conn
}

func (db *RDB) Close() error {
	return db.Conn.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ScanFirstValue scans the single value of the first row of rows into dest,
// closing rows. If rows has no rows, dest is left untouched and no error is
// returned.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
