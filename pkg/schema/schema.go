// SPDX-License-Identifier: Apache-2.0

// Package schema holds the canonical in-memory representation of a SQLite
// schema: tables, columns, constraints, views, indexes and triggers. It is
// pure data — nothing in this package touches a database connection.
package schema

// ColumnType is one of the nominal SQL types the engine understands.
type ColumnType string

const (
	TypeInteger   ColumnType = "INTEGER"
	TypeText      ColumnType = "TEXT"
	TypeReal      ColumnType = "REAL"
	TypeTimestamp ColumnType = "TIMESTAMP"
	TypeBlob      ColumnType = "BLOB"
)

// ForeignKeyAction is the action taken on the child row when the referenced
// parent row is deleted or updated.
type ForeignKeyAction string

const (
	ActionNoAction ForeignKeyAction = "NO_ACTION"
	ActionCascade  ForeignKeyAction = "CASCADE"
	ActionSetNull  ForeignKeyAction = "SET_NULL"
	ActionRestrict ForeignKeyAction = "RESTRICT"
)

// AnnotationKind decorates a table for the downstream code generator. The
// engine itself never interprets these; it only carries them through
// introspection and diffing so they round-trip.
type AnnotationKind string

const (
	AnnotationQueryBy         AnnotationKind = "QueryBy"
	AnnotationQueryByOrCreate AnnotationKind = "QueryByOrCreate"
	AnnotationInsertOrIgnore  AnnotationKind = "InsertOrIgnore"
)

// Annotation is a single codegen directive attached to a table.
type Annotation struct {
	Kind    AnnotationKind `json:"kind"`
	Columns []string       `json:"columns,omitempty"`
}

// Schema is a full target or introspected database schema.
type Schema struct {
	Tables   map[string]*Table   `json:"tables"`
	Views    map[string]*View    `json:"views"`
	Indexes  map[string]*Index   `json:"indexes"`
	Triggers map[string]*Trigger `json:"triggers"`
}

// New returns an empty Schema ready for population.
func New() *Schema {
	return &Schema{
		Tables:   make(map[string]*Table),
		Views:    make(map[string]*View),
		Indexes:  make(map[string]*Index),
		Triggers: make(map[string]*Trigger),
	}
}

// Table is a single table definition. Columns is kept both as an ordered
// slice (declaration order matters for positional payloads in the journal)
// and is looked up by name via GetColumn.
type Table struct {
	Name string `json:"name"`

	// Columns in declaration order.
	Columns []*Column `json:"columns"`

	// RenameFrom, if set, is an explicit hint that this table replaces a
	// source table of a different name. Hinted pairs are settled before
	// shape-based rename inference runs; inference only considers tables no
	// hint has claimed and never substitutes for a hint.
	RenameFrom string `json:"renameFrom,omitempty"`

	Constraints []Constraint `json:"constraints,omitempty"`

	Annotations []Annotation `json:"annotations,omitempty"`
}

// Column is a single column definition.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`

	// Nullable false means NOT NULL.
	Nullable bool `json:"nullable"`

	// Default, if non-nil, is either a literal or a SQL expression. The
	// engine only tells them apart when rendering a DEFAULT clause, where
	// anything that is not a quoted string, an already parenthesized
	// expression, a number, NULL or CURRENT_TIMESTAMP is wrapped in
	// parentheses; as a projection
	// expression it is used as-is.
	Default *string `json:"default,omitempty"`

	// RenameFrom is a per-column rename hint, honored the same way as
	// Table.RenameFrom.
	RenameFrom string `json:"renameFrom,omitempty"`
}

// ConstraintType enumerates the supported constraint kinds.
type ConstraintType string

const (
	ConstraintPrimaryKey ConstraintType = "PRIMARY_KEY"
	ConstraintUnique     ConstraintType = "UNIQUE"
	ConstraintForeignKey ConstraintType = "FOREIGN_KEY"
	ConstraintCheck      ConstraintType = "CHECK"
)

// Constraint is a table-level constraint. Single-column constraints are
// represented the same way as composite ones, with len(Columns) == 1.
type Constraint struct {
	Name string         `json:"name"`
	Type ConstraintType `json:"type"`

	Columns []string `json:"columns,omitempty"`

	// AutoIncrement only applies to ConstraintPrimaryKey with a single
	// INTEGER column.
	AutoIncrement bool `json:"autoIncrement,omitempty"`

	// Foreign key fields.
	RefTable   string           `json:"refTable,omitempty"`
	RefColumns []string         `json:"refColumns,omitempty"`
	OnDelete   ForeignKeyAction `json:"onDelete,omitempty"`
	OnUpdate   ForeignKeyAction `json:"onUpdate,omitempty"`

	// Check constraint expression.
	Check string `json:"check,omitempty"`
}

// View is a named SELECT. Either Body is given verbatim or Join is a
// structured specification from which a body is synthesized.
type View struct {
	Name string    `json:"name"`
	Body string    `json:"body,omitempty"`
	Join *ViewJoin `json:"join,omitempty"`
}

// ViewJoin is a structured join specification used to synthesize a view
// body when Body is not given literally.
type ViewJoin struct {
	BaseTable string       `json:"baseTable"`
	Columns   []string     `json:"columns"`
	Joins     []JoinClause `json:"joins,omitempty"`
}

// JoinClause is one INNER/LEFT JOIN in a ViewJoin.
type JoinClause struct {
	Table string `json:"table"`
	Kind  string `json:"kind"` // "INNER" or "LEFT"
	On    string `json:"on"`
}

// Index is a named index on a single table.
type Index struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Trigger carries its CREATE TRIGGER body verbatim; the engine never
// re-derives trigger semantics, only checks that the referenced table
// exists.
type Trigger struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	Body  string `json:"body"`
}

// GetTable returns a table by name, or nil.
func (s *Schema) GetTable(name string) *Table {
	if s.Tables == nil {
		return nil
	}
	return s.Tables[name]
}

// AddTable adds or replaces a table.
func (s *Schema) AddTable(t *Table) {
	if s.Tables == nil {
		s.Tables = make(map[string]*Table)
	}
	s.Tables[t.Name] = t
}

// TableNames returns all table names, unsorted.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	return names
}

// GetColumn returns a column by name, or nil.
func (t *Table) GetColumn(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// PrimaryKey returns the ordered column names making up the table's primary
// key, derived from its constraints. Returns nil if the table has none.
func (t *Table) PrimaryKey() []string {
	for _, c := range t.Constraints {
		if c.Type == ConstraintPrimaryKey {
			return c.Columns
		}
	}
	return nil
}

// ForeignKeys returns all FOREIGN_KEY constraints on the table.
func (t *Table) ForeignKeys() []Constraint {
	var out []Constraint
	for _, c := range t.Constraints {
		if c.Type == ConstraintForeignKey {
			out = append(out, c)
		}
	}
	return out
}

// IsSingleColumnIntegerPK reports whether the table has exactly one PK
// column and that column is an INTEGER — the only shape the engine
// maintains an identity mapping for.
func (t *Table) IsSingleColumnIntegerPK() bool {
	pk := t.PrimaryKey()
	if len(pk) != 1 {
		return false
	}
	col := t.GetColumn(pk[0])
	return col != nil && col.Type == TypeInteger
}
