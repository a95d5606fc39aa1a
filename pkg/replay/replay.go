// SPDX-License-Identifier: Apache-2.0

// Package replay consumes the old DB's journal and applies each
// application transaction it recorded to the new DB, translating source
// identities to target identities as it goes.
package replay

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlroll/sqlroll/pkg/copier"
	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/journal"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// Progress is the new DB's `_migration_progress` checkpoint.
type Progress struct {
	LastReplayedLogID int64
	DrainCompleted    bool
}

// EnsureProgressTable creates `_migration_progress` with an initial
// (0, false) row if absent.
func EnsureProgressTable(ctx context.Context, conn db.DB) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migration_progress (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			last_replayed_log_id INTEGER NOT NULL,
			drain_completed INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO _migration_progress (id, last_replayed_log_id, drain_completed) VALUES (0, 0, 0)
	`)
	return err
}

// ReadProgress reads the current checkpoint.
func ReadProgress(ctx context.Context, conn db.DB) (Progress, error) {
	rows, err := conn.QueryContext(ctx, "SELECT last_replayed_log_id, drain_completed FROM _migration_progress WHERE id = 0")
	if err != nil {
		return Progress{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		return Progress{}, nil
	}
	var p Progress
	var completed int
	if err := rows.Scan(&p.LastReplayedLogID, &completed); err != nil {
		return Progress{}, err
	}
	p.DrainCompleted = completed != 0
	return p, rows.Err()
}

// Drain replays every journal entry strictly after the current checkpoint,
// grouped by txn_id, and advances the checkpoint after each committed
// group. After every pass that replayed entries it polls the journal again
// (entries may have been appended by the application while that pass was
// running), and sets drain_completed=1 on the first poll that finds no
// entry after the checkpoint.
func Drain(ctx context.Context, oldConn, newConn db.DB, newSchema *schema.Schema) error {
	if err := EnsureProgressTable(ctx, newConn); err != nil {
		return err
	}
	if err := copier.EnsureIDMappingTable(ctx, newConn); err != nil {
		return err
	}

	identity, err := copier.LoadMapping(ctx, newConn)
	if err != nil {
		return err
	}

	for {
		progress, err := ReadProgress(ctx, newConn)
		if err != nil {
			return err
		}

		entries, err := journal.ReadFrom(ctx, oldConn, progress.LastReplayedLogID)
		if err != nil {
			return err
		}

		if len(entries) == 0 {
			return setDrainCompleted(ctx, newConn)
		}

		for _, group := range groupByTxn(entries) {
			if err := replayGroup(ctx, newConn, newSchema, identity, group); err != nil {
				return &errs.ReplayFailed{TxnID: group[0].TxnID, Cause: err}
			}
			if err := advanceCheckpoint(ctx, newConn, group[len(group)-1].Ordering); err != nil {
				return err
			}
		}
	}
}

func setDrainCompleted(ctx context.Context, conn db.DB) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE _migration_progress SET drain_completed = 1 WHERE id = 0")
		return err
	})
}

func advanceCheckpoint(ctx context.Context, conn db.DB, ordering int64) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "UPDATE _migration_progress SET last_replayed_log_id = ? WHERE id = 0", ordering)
		return err
	})
}

// groupByTxn splits entries (already ordering-ascending) into contiguous
// runs sharing one txn_id, preserving encounter order.
func groupByTxn(entries []journal.LogRow) [][]journal.LogRow {
	var groups [][]journal.LogRow
	for _, e := range entries {
		if n := len(groups); n > 0 && groups[n-1][0].TxnID == e.TxnID {
			groups[n-1] = append(groups[n-1], e)
			continue
		}
		groups = append(groups, []journal.LogRow{e})
	}
	return groups
}

// replayGroup applies every entry in one application transaction atomically
// against the new DB.
func replayGroup(ctx context.Context, newConn db.DB, newSchema *schema.Schema, identity copier.IdentityMap, group []journal.LogRow) error {
	return newConn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, entry := range group {
			if err := replayEntry(ctx, tx, newSchema, identity, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

func replayEntry(ctx context.Context, tx *sql.Tx, newSchema *schema.Schema, identity copier.IdentityMap, entry journal.LogRow) error {
	target := newSchema.GetTable(entry.Table)
	if target == nil {
		return fmt.Errorf("replay: unknown table %q", entry.Table)
	}
	mapIdentity := target.IsSingleColumnIntegerPK()

	srcPK, srcPKIsInt := soleInt64(entry.SourcePK)

	switch entry.Op {
	case journal.OpInsert:
		return replayInsert(ctx, tx, target, identity, entry, mapIdentity, srcPK, srcPKIsInt)
	case journal.OpUpdate:
		return replayUpdate(ctx, tx, target, identity, entry, mapIdentity, srcPK, srcPKIsInt)
	case journal.OpDelete:
		return replayDelete(ctx, tx, target, identity, mapIdentity, srcPK, srcPKIsInt)
	default:
		return fmt.Errorf("replay: unknown op %q", entry.Op)
	}
}

func replayInsert(ctx context.Context, tx *sql.Tx, target *schema.Table, identity copier.IdentityMap, entry journal.LogRow, mapIdentity bool, srcPK int64, srcPKIsInt bool) error {
	cols := make([]string, len(target.Columns))
	placeholders := make([]string, len(target.Columns))
	args := make([]any, len(target.Columns))
	fkByColumn := fkColumnIndex(target)

	for i, col := range target.Columns {
		v := valueAt(entry.Payload, i)
		if fk, isFK := fkByColumn[col.Name]; isFK && v != nil {
			translated, err := translateFK(identity, fk.RefTable, v)
			if err != nil {
				return err
			}
			v = translated
		}
		cols[i] = quoteIdent(col.Name)
		placeholders[i] = "?"
		args[i] = v
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(target.Name), join(cols), join(placeholders))
	result, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return err
	}

	if mapIdentity && srcPKIsInt {
		tgtPK, err := result.LastInsertId()
		if err != nil {
			return err
		}
		return copier.PutMapping(ctx, tx, identity, target.Name, srcPK, tgtPK)
	}
	return nil
}

func replayUpdate(ctx context.Context, tx *sql.Tx, target *schema.Table, identity copier.IdentityMap, entry journal.LogRow, mapIdentity bool, srcPK int64, srcPKIsInt bool) error {
	pkCols := target.PrimaryKey()
	if len(pkCols) != 1 || !mapIdentity || !srcPKIsInt {
		return fmt.Errorf("replay: update on table %q requires a single-column integer primary key", target.Name)
	}
	tgtPK, found := identity.Get(target.Name, srcPK)
	if !found {
		return &errs.UnmappedUpdate{Table: target.Name, SrcPK: srcPK}
	}

	fkByColumn := fkColumnIndex(target)
	var sets []string
	var args []any
	for i, col := range target.Columns {
		v := valueAt(entry.Payload, i)
		if fk, isFK := fkByColumn[col.Name]; isFK && v != nil {
			translated, err := translateFK(identity, fk.RefTable, v)
			if err != nil {
				return err
			}
			v = translated
		}
		sets = append(sets, quoteIdent(col.Name)+" = ?")
		args = append(args, v)
	}
	args = append(args, tgtPK)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quoteIdent(target.Name), join(sets), quoteIdent(pkCols[0]))
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func replayDelete(ctx context.Context, tx *sql.Tx, target *schema.Table, identity copier.IdentityMap, mapIdentity bool, srcPK int64, srcPKIsInt bool) error {
	pkCols := target.PrimaryKey()
	if len(pkCols) != 1 || !mapIdentity || !srcPKIsInt {
		return nil
	}
	tgtPK, found := identity.Get(target.Name, srcPK)
	if !found {
		// The row never existed on the target: it was inserted and deleted
		// in the source before copy or replay reached it. Idempotent no-op.
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(target.Name), quoteIdent(pkCols[0]))
	_, err := tx.ExecContext(ctx, stmt, tgtPK)
	return err
}

func fkColumnIndex(t *schema.Table) map[string]schema.Constraint {
	m := map[string]schema.Constraint{}
	for _, fk := range t.ForeignKeys() {
		if len(fk.Columns) == 1 {
			m[fk.Columns[0]] = fk
		}
	}
	return m
}

func translateFK(identity copier.IdentityMap, refTable string, v any) (any, error) {
	srcPK, ok := soleInt64([]any{v})
	if !ok {
		return v, nil
	}
	tgtPK, found := identity.Get(refTable, srcPK)
	if !found {
		return nil, &errs.MissingIdentityMapping{Table: refTable, SrcPK: srcPK}
	}
	return tgtPK, nil
}

func valueAt(payload []any, i int) any {
	if i >= len(payload) {
		return nil
	}
	return payload[i]
}

func soleInt64(pk []any) (int64, bool) {
	if len(pk) != 1 {
		return 0, false
	}
	switch n := pk[0].(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func join(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
