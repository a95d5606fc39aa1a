// SPDX-License-Identifier: Apache-2.0

// Package copier executes a copy plan against the new DB: for every target
// table in FK dependency order, it streams source rows, projects them
// through the table's column plan, resolves foreign keys via an
// accumulating identity map, and persists the result.
//
// The identity map helpers here (IdentityMap.Get, PutMapping, LoadMapping,
// EnsureIDMappingTable)
// are also used by the Replayer, which is the only other writer of
// `_id_mapping` once the initial copy is done.
package copier

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sqlroll/sqlroll/pkg/copyplan"
	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// IdentityMap accumulates table -> (source pk -> target pk) across one
// migrate or drain invocation. It mirrors the persisted `_id_mapping` table
// but is consulted first, since it is always at least as current.
type IdentityMap map[string]map[int64]int64

func (m IdentityMap) get(table string, srcPK int64) (int64, bool) {
	tgt, ok := m[table][srcPK]
	return tgt, ok
}

// Get looks up the target pk mapped to (table, srcPK). Exported for the
// Replayer, the only other package that consults the map directly.
func (m IdentityMap) Get(table string, srcPK int64) (int64, bool) {
	return m.get(table, srcPK)
}

func (m IdentityMap) put(table string, srcPK, tgtPK int64) {
	if m[table] == nil {
		m[table] = map[int64]int64{}
	}
	m[table][srcPK] = tgtPK
}

// EnsureIDMappingTable creates `_id_mapping` in the new DB if absent.
func EnsureIDMappingTable(ctx context.Context, conn db.DB) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _id_mapping (
			table_name TEXT NOT NULL,
			src_pk INTEGER NOT NULL,
			tgt_pk INTEGER NOT NULL,
			PRIMARY KEY (table_name, src_pk)
		)
	`)
	return err
}

// PutMapping records a source->target identity both in-memory and
// persisted (upserted) within tx.
func PutMapping(ctx context.Context, tx *sql.Tx, identity IdentityMap, table string, srcPK, tgtPK int64) error {
	identity.put(table, srcPK, tgtPK)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO _id_mapping (table_name, src_pk, tgt_pk) VALUES (?, ?, ?)
		ON CONFLICT (table_name, src_pk) DO UPDATE SET tgt_pk = excluded.tgt_pk
	`, table, srcPK, tgtPK)
	return err
}

// LoadMapping loads all persisted identity mappings into memory, used when
// resuming drain in a fresh process that has not accumulated an in-memory
// map via a prior copy in the same invocation.
func LoadMapping(ctx context.Context, conn db.DB) (IdentityMap, error) {
	rows, err := conn.QueryContext(ctx, "SELECT table_name, src_pk, tgt_pk FROM _id_mapping")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	m := IdentityMap{}
	for rows.Next() {
		var table string
		var src, tgt int64
		if err := rows.Scan(&table, &src, &tgt); err != nil {
			return nil, err
		}
		m.put(table, src, tgt)
	}
	return m, rows.Err()
}

// CountMappings returns the number of rows in `_id_mapping`.
func CountMappings(ctx context.Context, conn db.DB) (int, error) {
	rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM _id_mapping")
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.ScanFirstValue(rows, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// Run executes plan against newConn, reading source rows from oldConn. It
// returns the accumulated identity map. PRAGMA foreign_keys is turned off
// for the whole run (SQLite refuses to toggle it mid-transaction) and
// restored before returning, successfully or not, so parent and child
// tables can be copied independently of declared FK order within a single
// table's own transaction scope while the overall table order still
// respects dependency order.
func Run(ctx context.Context, oldConn, newConn db.DB, oldSchema, newSchema *schema.Schema, plan *copyplan.Plan) (IdentityMap, error) {
	if err := EnsureIDMappingTable(ctx, newConn); err != nil {
		return nil, err
	}

	if _, err := newConn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return nil, err
	}
	defer newConn.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	identity := IdentityMap{}
	mapIdentityByTable := map[string]bool{}
	for _, tcp := range plan.Tables {
		mapIdentityByTable[tcp.Target] = tcp.MapIdentity
	}

	for _, tcp := range plan.Tables {
		if err := copyTable(ctx, oldConn, newConn, oldSchema, newSchema, tcp, identity, mapIdentityByTable); err != nil {
			return identity, &errs.CopyFailed{Table: tcp.Target, Cause: err}
		}
	}

	return identity, nil
}

func copyTable(ctx context.Context, oldConn, newConn db.DB, oldSchema, newSchema *schema.Schema, tcp copyplan.TableCopyPlan, identity IdentityMap, mapIdentityByTable map[string]bool) error {
	target := newSchema.GetTable(tcp.Target)

	var sourceRows []map[string]any
	var sourcePKCol string
	if tcp.Source != "" {
		sourceTable := oldSchema.GetTable(tcp.Source)
		if pk := sourceTable.PrimaryKey(); len(pk) == 1 {
			sourcePKCol = pk[0]
		}

		rows, err := streamSourceRows(ctx, oldConn, tcp.Source)
		if err != nil {
			return err
		}
		sourceRows = rows
	}

	return newConn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, row := range sourceRows {
			values, err := projectRow(row, tcp.ColumnPlan, target, newSchema, identity, mapIdentityByTable)
			if err != nil {
				return err
			}

			result, err := insertRow(ctx, tx, tcp.Target, tcp.ColumnPlan, values)
			if err != nil {
				return err
			}

			if tcp.MapIdentity && sourcePKCol != "" {
				srcPK, ok := asInt64(row[sourcePKCol])
				if !ok {
					continue
				}
				tgtPK, err := result.LastInsertId()
				if err != nil {
					return err
				}
				if err := PutMapping(ctx, tx, identity, tcp.Target, srcPK, tgtPK); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// projectRow computes the bound-parameter value for every SourceColumn or
// TypeDefault column mapping, resolving foreign keys along the way.
// DefaultExpr mappings are not resolved here: their expression is inlined
// directly into the INSERT statement's SQL text by insertRow, since a SQL
// default expression (e.g. CURRENT_TIMESTAMP) is not a bindable Go value.
func projectRow(row map[string]any, plan []diff.ColumnMapping, target *schema.Table, newSchema *schema.Schema, identity IdentityMap, mapIdentityByTable map[string]bool) (map[string]any, error) {
	fkByColumn := map[string]schema.Constraint{}
	for _, fk := range target.ForeignKeys() {
		if len(fk.Columns) == 1 {
			fkByColumn[fk.Columns[0]] = fk
		}
	}

	values := map[string]any{}
	for _, m := range plan {
		var v any
		switch m.Strategy {
		case diff.StrategySourceColumn:
			v = row[m.SourceColumn]
		case diff.StrategyTypeDefault:
			v = typeDefault(target.GetColumn(m.TargetColumn).Type)
		case diff.StrategyDefaultExpr:
			continue // inlined into SQL text, not bound
		}

		if fk, isFK := fkByColumn[m.TargetColumn]; isFK && v != nil {
			if !mapIdentityByTable[fk.RefTable] {
				// Parent uses a composite PK (or is unmapped): pass the
				// source value through unchanged, per the documented
				// composite-PK identity mapping limitation.
			} else {
				srcPK, ok := asInt64(v)
				if !ok {
					return nil, fmt.Errorf("foreign key column %q: source value %v is not an integer", m.TargetColumn, v)
				}
				tgtPK, found := identity.get(fk.RefTable, srcPK)
				if !found {
					return nil, &errs.MissingIdentityMapping{Table: fk.RefTable, SrcPK: srcPK}
				}
				v = tgtPK
			}
		}

		values[m.TargetColumn] = v
	}
	return values, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, table string, plan []diff.ColumnMapping, values map[string]any) (sql.Result, error) {
	cols := make([]string, 0, len(plan))
	placeholders := make([]string, 0, len(plan))
	args := make([]any, 0, len(plan))

	for _, m := range plan {
		cols = append(cols, quoteIdent(m.TargetColumn))
		if m.Strategy == diff.StrategyDefaultExpr {
			placeholders = append(placeholders, sqlLiteral(m.DefaultExpr))
			continue
		}
		placeholders = append(placeholders, "?")
		args = append(args, values[m.TargetColumn])
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return tx.ExecContext(ctx, stmt, args...)
}

// sqlLiteral passes a default expression straight through as SQL text. The
// only value the Differ ever synthesizes itself (rather than taking
// verbatim from the target schema's declared default) is the literal
// "NULL".
func sqlLiteral(expr string) string {
	return expr
}

func typeDefault(t schema.ColumnType) any {
	switch t {
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeReal:
		return float64(0)
	case schema.TypeText:
		return ""
	case schema.TypeTimestamp:
		return "1970-01-01T00:00:00Z"
	case schema.TypeBlob:
		return []byte{}
	default:
		return nil
	}
}

func streamSourceRows(ctx context.Context, conn db.DB, table string) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s", quoteIdent(table)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			m[c] = vals[i]
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
