// SPDX-License-Identifier: Apache-2.0

// Package introspect reads the live schema of a SQLite database connection
// into a *schema.Schema. It never re-parses stored CREATE TABLE text for
// table structure: PRAGMA table_info, PRAGMA foreign_key_list and PRAGMA
// index_list/info are authoritative and more reliable than a hand-rolled SQL
// parser. Views and triggers, which have no pragma equivalent, are carried
// through from sqlite_schema verbatim.
package introspect

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// Introspect reads the schema visible on conn and returns a populated Schema
// Model. An error here is always an errs.IntrospectionFailed and always
// fatal to the caller: no partial model is ever returned.
func Introspect(ctx context.Context, conn db.DB, file string) (*schema.Schema, error) {
	s := schema.New()

	tableNames, err := listObjects(ctx, conn, "table")
	if err != nil {
		return nil, &errs.IntrospectionFailed{File: file, Cause: err}
	}

	for _, name := range tableNames {
		if isInternalTable(name) {
			continue
		}
		t, err := introspectTable(ctx, conn, name)
		if err != nil {
			return nil, &errs.IntrospectionFailed{File: file, Cause: fmt.Errorf("table %q: %w", name, err)}
		}
		s.AddTable(t)
	}

	views, err := introspectViews(ctx, conn)
	if err != nil {
		return nil, &errs.IntrospectionFailed{File: file, Cause: err}
	}
	s.Views = views

	indexes, err := introspectIndexes(ctx, conn, tableNames)
	if err != nil {
		return nil, &errs.IntrospectionFailed{File: file, Cause: err}
	}
	s.Indexes = indexes

	triggers, err := introspectTriggers(ctx, conn)
	if err != nil {
		return nil, &errs.IntrospectionFailed{File: file, Cause: err}
	}
	s.Triggers = triggers

	return s, nil
}

// isInternalTable reports whether name is one of the engine's own metadata
// tables or a SQLite-internal table; neither ever belongs in a Schema Model.
func isInternalTable(name string) bool {
	switch name {
	case "_migration_marker", "_migration_log", "_schema_identity",
		"_migration_status", "_id_mapping", "_migration_progress",
		"sqlite_sequence":
		return true
	}
	return len(name) >= 7 && name[:7] == "sqlite_"
}

func listObjects(ctx context.Context, conn db.DB, kind string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM sqlite_schema WHERE type = ? ORDER BY name", kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func introspectTable(ctx context.Context, conn db.DB, name string) (*schema.Table, error) {
	t := &schema.Table{Name: name}

	colRows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return nil, err
	}

	type rawCol struct {
		cid       int
		name      string
		colType   string
		notNull   bool
		dfltValue sql.NullString
		pk        int
	}
	var rawCols []rawCol
	for colRows.Next() {
		var c rawCol
		if err := colRows.Scan(&c.cid, &c.name, &c.colType, &c.notNull, &c.dfltValue, &c.pk); err != nil {
			colRows.Close()
			return nil, err
		}
		rawCols = append(rawCols, c)
	}
	if err := colRows.Err(); err != nil {
		colRows.Close()
		return nil, err
	}
	colRows.Close()

	pkCols := make([]string, 0)
	for _, rc := range rawCols {
		col := &schema.Column{
			Name:     rc.name,
			Type:     normalizeType(rc.colType),
			Nullable: !rc.notNull && rc.pk == 0,
		}
		if rc.dfltValue.Valid {
			v := rc.dfltValue.String
			col.Default = &v
		}
		t.Columns = append(t.Columns, col)
		if rc.pk > 0 {
			pkCols = append(pkCols, rc.name)
		}
	}

	if len(pkCols) > 0 {
		autoIncrement := len(pkCols) == 1 && isAutoIncrement(ctx, conn, name)
		t.Constraints = append(t.Constraints, schema.Constraint{
			Name:          "pk_" + name,
			Type:          schema.ConstraintPrimaryKey,
			Columns:       pkCols,
			AutoIncrement: autoIncrement,
		})
	}

	fkRows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", quoteIdent(name)))
	if err != nil {
		return nil, err
	}
	defer fkRows.Close()

	type rawFK struct {
		id, seq                   int
		table, from, to           string
		onUpdate, onDelete, match string
	}
	fkByID := map[int]*schema.Constraint{}
	var fkOrder []int
	for fkRows.Next() {
		var f rawFK
		if err := fkRows.Scan(&f.id, &f.seq, &f.table, &f.from, &f.to, &f.onUpdate, &f.onDelete, &f.match); err != nil {
			return nil, err
		}
		c, ok := fkByID[f.id]
		if !ok {
			c = &schema.Constraint{
				Name:     fmt.Sprintf("fk_%s_%d", name, f.id),
				Type:     schema.ConstraintForeignKey,
				RefTable: f.table,
				OnDelete: normalizeFKAction(f.onDelete),
				OnUpdate: normalizeFKAction(f.onUpdate),
			}
			fkByID[f.id] = c
			fkOrder = append(fkOrder, f.id)
		}
		c.Columns = append(c.Columns, f.from)
		c.RefColumns = append(c.RefColumns, f.to)
	}
	if err := fkRows.Err(); err != nil {
		return nil, err
	}
	for _, id := range fkOrder {
		t.Constraints = append(t.Constraints, *fkByID[id])
	}

	return t, nil
}

// isAutoIncrement reports whether the table's single-column integer PK uses
// AUTOINCREMENT, inferred from the presence of a sqlite_sequence row rather
// than re-parsing CREATE TABLE; a table never managed by AUTOINCREMENT is
// simply absent from sqlite_sequence.
func isAutoIncrement(ctx context.Context, conn db.DB, name string) bool {
	rows, err := conn.QueryContext(ctx, "SELECT 1 FROM sqlite_sequence WHERE name = ?", name)
	if err != nil {
		return false
	}
	defer rows.Close()
	return rows.Next()
}

func introspectViews(ctx context.Context, conn db.DB) (map[string]*schema.View, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name, sql FROM sqlite_schema WHERE type = 'view' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*schema.View{}
	for rows.Next() {
		var name, body sql.NullString
		if err := rows.Scan(&name, &body); err != nil {
			return nil, err
		}
		out[name.String] = &schema.View{Name: name.String, Body: body.String}
	}
	return out, rows.Err()
}

func introspectIndexes(ctx context.Context, conn db.DB, tableNames []string) (map[string]*schema.Index, error) {
	out := map[string]*schema.Index{}
	for _, table := range tableNames {
		rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", quoteIdent(table)))
		if err != nil {
			return nil, err
		}
		type rawIdx struct {
			seq     int
			name    string
			unique  bool
			origin  string
			partial bool
		}
		var idxs []rawIdx
		for rows.Next() {
			var idx rawIdx
			if err := rows.Scan(&idx.seq, &idx.name, &idx.unique, &idx.origin, &idx.partial); err != nil {
				rows.Close()
				return nil, err
			}
			idxs = append(idxs, idx)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		for _, idx := range idxs {
			// Auto-indexes backing a PK/UNIQUE constraint are redundant with
			// the constraint already captured on the table; skip them.
			if idx.origin != "c" {
				continue
			}
			cols, err := indexColumns(ctx, conn, idx.name)
			if err != nil {
				return nil, err
			}
			out[idx.name] = &schema.Index{Name: idx.name, Table: table, Columns: cols, Unique: idx.unique}
		}
	}
	return out, nil
}

func indexColumns(ctx context.Context, conn db.DB, indexName string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(indexName)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, err
		}
		cols = append(cols, name.String)
	}
	return cols, rows.Err()
}

func introspectTriggers(ctx context.Context, conn db.DB) (map[string]*schema.Trigger, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name, tbl_name, sql FROM sqlite_schema WHERE type = 'trigger' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]*schema.Trigger{}
	for rows.Next() {
		var name, table, body sql.NullString
		if err := rows.Scan(&name, &table, &body); err != nil {
			return nil, err
		}
		out[name.String] = &schema.Trigger{Name: name.String, Table: table.String, Body: body.String}
	}
	return out, rows.Err()
}

func normalizeType(declared string) schema.ColumnType {
	switch declared {
	case "INTEGER", "INT":
		return schema.TypeInteger
	case "REAL", "FLOAT", "DOUBLE":
		return schema.TypeReal
	case "TIMESTAMP", "DATETIME", "DATE":
		return schema.TypeTimestamp
	case "BLOB":
		return schema.TypeBlob
	default:
		return schema.TypeText
	}
}

func normalizeFKAction(pragmaAction string) schema.ForeignKeyAction {
	switch pragmaAction {
	case "CASCADE":
		return schema.ActionCascade
	case "SET NULL":
		return schema.ActionSetNull
	case "RESTRICT":
		return schema.ActionRestrict
	default:
		return schema.ActionNoAction
	}
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
