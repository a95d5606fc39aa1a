// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"strings"
)

// CreateTableSQL renders t as a CREATE TABLE statement. Column-level
// PRIMARY KEY with AUTOINCREMENT is rendered inline (SQLite requires this
// form for rowid aliasing); every other constraint is rendered as a
// table-level clause.
func (t *Table) CreateTableSQL() string {
	var cols []string
	var tableConstraints []string

	singleColAutoPK := t.singleColumnAutoIncrementPK()

	for _, c := range t.Columns {
		cols = append(cols, c.columnDefSQL(singleColAutoPK == c.Name))
	}

	for _, c := range t.Constraints {
		if c.Type == ConstraintPrimaryKey && c.Name != "" && len(c.Columns) == 1 && c.Columns[0] == singleColAutoPK {
			continue // already rendered inline above
		}
		if clause := c.tableConstraintSQL(); clause != "" {
			tableConstraints = append(tableConstraints, clause)
		}
	}

	body := strings.Join(append(cols, tableConstraints...), ",\n\t")
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(t.Name), body)
}

// singleColumnAutoIncrementPK returns the column name of t's primary key
// when it is exactly one AUTOINCREMENT INTEGER column, else "".
func (t *Table) singleColumnAutoIncrementPK() string {
	for _, c := range t.Constraints {
		if c.Type == ConstraintPrimaryKey && len(c.Columns) == 1 && c.AutoIncrement {
			col := t.GetColumn(c.Columns[0])
			if col != nil && col.Type == TypeInteger {
				return c.Columns[0]
			}
		}
	}
	return ""
}

func (c *Column) columnDefSQL(inlinePK bool) string {
	parts := []string{quoteIdent(c.Name), sqlType(c.Type)}
	if inlinePK {
		parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
	}
	if !c.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT", defaultLiteral(*c.Default))
	}
	return strings.Join(parts, " ")
}

// defaultLiteral wraps a bare default value in parentheses when it looks
// like an expression rather than a simple literal, so e.g. DEFAULT
// (unixepoch()) parses; simple literals and quoted strings pass through.
func defaultLiteral(expr string) string {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return "''"
	}
	if strings.HasPrefix(trimmed, "'") || strings.HasPrefix(trimmed, "(") {
		return trimmed
	}
	if isNumericLiteral(trimmed) || strings.EqualFold(trimmed, "NULL") || strings.EqualFold(trimmed, "CURRENT_TIMESTAMP") {
		return trimmed
	}
	return "(" + trimmed + ")"
}

func isNumericLiteral(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if r == '.' {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (c *Constraint) tableConstraintSQL() string {
	switch c.Type {
	case ConstraintPrimaryKey:
		return fmt.Sprintf("PRIMARY KEY (%s)", quoteIdents(c.Columns))
	case ConstraintUnique:
		return fmt.Sprintf("UNIQUE (%s)", quoteIdents(c.Columns))
	case ConstraintForeignKey:
		clause := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			quoteIdents(c.Columns), quoteIdent(c.RefTable), quoteIdents(c.RefColumns))
		if action := fkActionSQL(c.OnDelete); action != "" {
			clause += " ON DELETE " + action
		}
		if action := fkActionSQL(c.OnUpdate); action != "" {
			clause += " ON UPDATE " + action
		}
		return clause
	case ConstraintCheck:
		return fmt.Sprintf("CHECK (%s)", c.Check)
	default:
		return ""
	}
}

func fkActionSQL(a ForeignKeyAction) string {
	switch a {
	case ActionCascade:
		return "CASCADE"
	case ActionSetNull:
		return "SET NULL"
	case ActionRestrict:
		return "RESTRICT"
	case ActionNoAction, "":
		return ""
	default:
		return ""
	}
}

func sqlType(t ColumnType) string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeReal:
		return "REAL"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// CreateViewSQL renders v as a CREATE VIEW statement: Body verbatim if set,
// else synthesized from Join.
func (v *View) CreateViewSQL() string {
	if v.Body != "" {
		return v.Body
	}
	if v.Join == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE VIEW %s AS SELECT %s FROM %s", quoteIdent(v.Name), strings.Join(v.Join.Columns, ", "), quoteIdent(v.Join.BaseTable))
	for _, j := range v.Join.Joins {
		kind := "INNER"
		if strings.EqualFold(j.Kind, "LEFT") {
			kind = "LEFT"
		}
		fmt.Fprintf(&b, " %s JOIN %s ON %s", kind, quoteIdent(j.Table), j.On)
	}
	return b.String()
}

// CreateIndexSQL renders ix as a CREATE [UNIQUE] INDEX statement.
func (ix *Index) CreateIndexSQL() string {
	unique := ""
	if ix.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quoteIdent(ix.Name), quoteIdent(ix.Table), quoteIdents(ix.Columns))
}

// CreateTriggerSQL renders tg's verbatim CREATE TRIGGER body.
func (tg *Trigger) CreateTriggerSQL() string {
	return tg.Body
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func quoteIdents(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return strings.Join(out, ", ")
}
