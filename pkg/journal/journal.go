// SPDX-License-Identifier: Apache-2.0

// Package journal owns the old DB's write-recording marker and log: the
// `_migration_marker` and `_migration_log` tables, the transitions between
// them, and the transactional write API applications use to route writes
// through the journal while a migration is in flight.
//
// The application-side write path itself (request routing, read-only
// queries, business logic) is an external collaborator per the engine's
// contract; this package specifies only the hooks: RunTransaction and the
// RecordInsert/RecordUpdate/RecordDelete buffering it exposes to a
// caller-supplied function.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/errs"
)

// MarkerStatus is the old DB's recording/draining state.
type MarkerStatus string

const (
	MarkerRecording MarkerStatus = "recording"
	MarkerDraining  MarkerStatus = "draining"
)

// Op is the kind of write a journal Entry records.
type Op string

const (
	OpInsert Op = "Insert"
	OpUpdate Op = "Update"
	OpDelete Op = "Delete"
)

// Entry is one buffered write, recorded by the hooks during an application
// transaction and flushed to _migration_log at commit.
type Entry struct {
	Table    string
	Op       Op
	SourcePK []any
	Payload  []any // nil for Delete
}

// LogRow is one persisted row of _migration_log, read back by the Replayer.
type LogRow struct {
	Ordering int64
	TxnID    string
	Table    string
	Op       Op
	SourcePK []any
	Payload  []any
}

const installSQL = `
CREATE TABLE IF NOT EXISTS _migration_marker (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS _migration_log (
	ordering INTEGER PRIMARY KEY AUTOINCREMENT,
	txn_id TEXT NOT NULL,
	table_name TEXT NOT NULL,
	op TEXT NOT NULL,
	source_pk TEXT NOT NULL,
	payload TEXT
);
`

// Install creates _migration_marker (status=recording) and _migration_log
// in conn. Called by the Migration Controller as the final step of migrate,
// after the bulk copy has fully committed, so recording only begins once
// there is nothing left to race against.
func Install(ctx context.Context, conn db.DB) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, installSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO _migration_marker(id, status) VALUES (0, ?)", string(MarkerRecording))
		return err
	})
}

// ReadStatus reads the marker status. present is false when the table does
// not exist or holds no row, the steady state of a database that has never
// been migrated.
func ReadStatus(ctx context.Context, conn db.DB) (status MarkerStatus, present bool, err error) {
	rows, err := conn.QueryContext(ctx, "SELECT status FROM _migration_marker WHERE id = 0")
	if err != nil {
		if isNoSuchTable(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	var s string
	if err := rows.Scan(&s); err != nil {
		return "", false, err
	}
	return MarkerStatus(s), true, nil
}

// SetStatus transitions the marker to status, in its own transaction.
func SetStatus(ctx context.Context, conn db.DB, status MarkerStatus) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE _migration_marker SET status = ? WHERE id = 0", string(status))
		return err
	})
}

// Drop removes _migration_marker and _migration_log, in one transaction.
// Idempotent when the tables are already absent.
func Drop(ctx context.Context, conn db.DB) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS _migration_marker"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS _migration_log")
		return err
	})
}

// Count returns the number of rows in _migration_log, or 0 if the table
// does not exist.
func Count(ctx context.Context, conn db.DB) (int, error) {
	rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM _migration_log")
	if err != nil {
		if isNoSuchTable(err) {
			return 0, nil
		}
		return 0, err
	}
	var n int
	if err := db.ScanFirstValue(rows, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Recorder is the transaction-local buffer the write API hands to the
// caller's function; the record_* hooks from the specification.
type Recorder struct {
	entries []Entry
}

func (r *Recorder) RecordInsert(table string, pk, payload []any) {
	r.entries = append(r.entries, Entry{Table: table, Op: OpInsert, SourcePK: pk, Payload: payload})
}

func (r *Recorder) RecordUpdate(table string, pk, payload []any) {
	r.entries = append(r.entries, Entry{Table: table, Op: OpUpdate, SourcePK: pk, Payload: payload})
}

func (r *Recorder) RecordDelete(table string, pk []any) {
	r.entries = append(r.entries, Entry{Table: table, Op: OpDelete, SourcePK: pk})
}

// RunTransaction is the application-facing write API's single entry point.
// It opens an immediate transaction, reads the marker, and:
//   - no marker: runs f and commits; nothing is logged.
//   - recording: runs f, then on success flushes its buffered entries to
//     _migration_log under one fresh txn_id before committing.
//   - draining: returns errs.WriteRejected without invoking f.
//
// f's buffered entries are discarded on any error or rollback.
func RunTransaction(ctx context.Context, conn db.DB, f func(ctx context.Context, tx *sql.Tx, rec *Recorder) error) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		status, present, err := readStatusTx(ctx, tx)
		if err != nil {
			return err
		}
		if present && status == MarkerDraining {
			return &errs.WriteRejected{}
		}

		rec := &Recorder{}
		if err := f(ctx, tx, rec); err != nil {
			return err
		}

		if present && status == MarkerRecording && len(rec.entries) > 0 {
			if err := flush(ctx, tx, rec.entries); err != nil {
				return err
			}
		}
		return nil
	})
}

func readStatusTx(ctx context.Context, tx *sql.Tx) (MarkerStatus, bool, error) {
	row := tx.QueryRowContext(ctx, "SELECT status FROM _migration_marker WHERE id = 0")
	var s string
	if err := row.Scan(&s); err != nil {
		if err == sql.ErrNoRows || isNoSuchTable(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return MarkerStatus(s), true, nil
}

// flush appends entries to _migration_log under one new txn_id. ordering is
// left to the table's AUTOINCREMENT rowid, so entries from one transaction
// are assigned strictly contiguous, strictly increasing values by
// insertion order alone.
func flush(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	txnID := uuid.NewString()
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO _migration_log(txn_id, table_name, op, source_pk, payload) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		pkJSON, err := json.Marshal(e.SourcePK)
		if err != nil {
			return fmt.Errorf("journal: marshal source pk: %w", err)
		}
		var payloadJSON sql.NullString
		if e.Payload != nil {
			b, err := json.Marshal(e.Payload)
			if err != nil {
				return fmt.Errorf("journal: marshal payload: %w", err)
			}
			payloadJSON = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, txnID, e.Table, string(e.Op), string(pkJSON), payloadJSON); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrom reads _migration_log entries with ordering strictly greater
// than afterOrdering, ascending.
func ReadFrom(ctx context.Context, conn db.DB, afterOrdering int64) ([]LogRow, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT ordering, txn_id, table_name, op, source_pk, payload
		FROM _migration_log
		WHERE ordering > ?
		ORDER BY ordering ASC
	`, afterOrdering)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogRow
	for rows.Next() {
		var lr LogRow
		var op, pkJSON string
		var payloadJSON sql.NullString
		if err := rows.Scan(&lr.Ordering, &lr.TxnID, &lr.Table, &op, &pkJSON, &payloadJSON); err != nil {
			return nil, err
		}
		lr.Op = Op(op)
		if err := json.Unmarshal([]byte(pkJSON), &lr.SourcePK); err != nil {
			return nil, fmt.Errorf("journal: unmarshal source pk for ordering %d: %w", lr.Ordering, err)
		}
		if payloadJSON.Valid {
			if err := json.Unmarshal([]byte(payloadJSON.String), &lr.Payload); err != nil {
				return nil, fmt.Errorf("journal: unmarshal payload for ordering %d: %w", lr.Ordering, err)
			}
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
