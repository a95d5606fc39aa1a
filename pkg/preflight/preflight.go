// SPDX-License-Identifier: Apache-2.0

// Package preflight classifies a Schema Diff into supported and unsupported
// atoms, validates the target Schema Model's internal consistency, and
// produces the report shared by the `plan` dry-run command and every
// `migrate` invocation.
package preflight

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// Report is the outcome of running preflight against a source and target
// Schema Model.
type Report struct {
	Supported   []string
	Unsupported []string

	// CopyOrder is the FK-dependency-respecting target table order as
	// supplied by the caller; the Migration Controller supplies it whenever
	// the Copy Planner finds no FK cycle, whether or not other atoms are
	// unsupported.
	CopyOrder []string

	SchemaHash string

	Diff *diff.Diff
}

// Runnable reports whether migrate may proceed: no unsupported atoms were
// found.
func (r *Report) Runnable() bool {
	return len(r.Unsupported) == 0
}

// Run computes the diff between oldSchema and newSchema, validates
// newSchema's internal consistency, and classifies every atom. copyOrder is
// supplied by the caller (the Copy Planner) so preflight and the planner
// never disagree on ordering; Run does not import the copyplan package to
// keep the dependency direction preflight -> diff/schema only.
func Run(oldSchema, newSchema *schema.Schema, copyOrder []string) (*Report, error) {
	d := diff.Compute(oldSchema, newSchema)

	r := &Report{SchemaHash: newSchema.Hash(), Diff: d, CopyOrder: copyOrder}

	for _, name := range d.Added {
		r.Supported = append(r.Supported, fmt.Sprintf("add table %q", name))
	}
	for _, name := range d.Removed {
		r.Supported = append(r.Supported, fmt.Sprintf("remove table %q", name))
	}
	for _, pair := range d.Renamed {
		r.Supported = append(r.Supported, fmt.Sprintf("rename table %q -> %q", pair.From, pair.To))
	}
	for _, name := range d.AmbiguousPairs {
		r.Unsupported = append(r.Unsupported, fmt.Sprintf("ambiguous add+remove pair for table %q: could not infer a unique rename", name))
	}

	for _, td := range d.Tables {
		label := td.Target
		if td.Renamed {
			label = fmt.Sprintf("%s (renamed from %s)", td.Target, td.Source)
		}
		if td.PKChanged {
			r.Unsupported = append(r.Unsupported, fmt.Sprintf("table %q: primary key type or composition changed", label))
			continue
		}
		if len(td.IncompatibleColumns) > 0 {
			r.Unsupported = append(r.Unsupported, fmt.Sprintf("table %q: incompatible type change on column(s) %v", label, td.IncompatibleColumns))
			continue
		}
		r.Supported = append(r.Supported, fmt.Sprintf("table %q: matched with column mapping", label))
	}

	r.Unsupported = append(r.Unsupported, validateConsistency(newSchema)...)

	sort.Strings(r.Supported)
	sort.Strings(r.Unsupported)

	return r, nil
}

// AsError returns a *errs.PreflightFailed if the report is not runnable,
// else nil.
func (r *Report) AsError() error {
	if r.Runnable() {
		return nil
	}
	return &errs.PreflightFailed{Supported: r.Supported, Unsupported: r.Unsupported}
}

// validateConsistency checks the non-table invariants from the
// specification's Schema Model section: FK/index/trigger references to
// existing tables and columns, view dependency acyclicity, and name
// uniqueness.
func validateConsistency(s *schema.Schema) []string {
	var problems []string

	for _, tname := range s.TableNames() {
		t := s.GetTable(tname)
		for _, fk := range t.ForeignKeys() {
			refTable := s.GetTable(fk.RefTable)
			if refTable == nil {
				problems = append(problems, fmt.Sprintf("table %q: foreign key references missing table %q", tname, fk.RefTable))
				continue
			}
			for _, col := range fk.RefColumns {
				if refTable.GetColumn(col) == nil {
					problems = append(problems, fmt.Sprintf("table %q: foreign key references missing column %q on table %q", tname, col, fk.RefTable))
				}
			}
		}
	}

	for name, idx := range s.Indexes {
		t := s.GetTable(idx.Table)
		if t == nil {
			problems = append(problems, fmt.Sprintf("index %q: references missing table %q", name, idx.Table))
			continue
		}
		for _, col := range idx.Columns {
			if t.GetColumn(col) == nil {
				problems = append(problems, fmt.Sprintf("index %q: references missing column %q on table %q", name, col, idx.Table))
			}
		}
	}

	for name, trg := range s.Triggers {
		if s.GetTable(trg.Table) == nil {
			problems = append(problems, fmt.Sprintf("trigger %q: references missing table %q", name, trg.Table))
		}
	}

	for name, v := range s.Views {
		problems = append(problems, validateViewReferences(s, name, v)...)
	}

	problems = append(problems, checkDuplicateNames(s)...)
	problems = append(problems, checkViewCycles(s)...)

	sort.Strings(problems)
	return problems
}

// validateViewReferences checks a structured view's base table, joined
// tables/views, and selected columns against s. A literal view Body carries
// no discoverable structure, so only Join-backed views are checked here,
// matching checkViewCycles' own scope.
func validateViewReferences(s *schema.Schema, name string, v *schema.View) []string {
	if v.Join == nil {
		return nil
	}

	var problems []string

	if !tableOrViewExists(s, v.Join.BaseTable) {
		problems = append(problems, fmt.Sprintf("view %q: references missing table %q", name, v.Join.BaseTable))
	}
	for _, j := range v.Join.Joins {
		if !tableOrViewExists(s, j.Table) {
			problems = append(problems, fmt.Sprintf("view %q: references missing table %q", name, j.Table))
		}
	}

	for _, col := range v.Join.Columns {
		qualifier, column, ok := parseSimpleColumnRef(col)
		if !ok {
			// Not a bare "[table.]column[ AS alias]" reference (e.g. an
			// aggregate or expression) — nothing to check statically.
			continue
		}
		if qualifier == "" {
			qualifier = v.Join.BaseTable
		}
		t := s.GetTable(qualifier)
		if t == nil {
			// Qualifier names a view, not a table: the view-existence check
			// above already covers a missing qualifier, and validating a
			// column against a nested view's own projection is out of
			// scope for this static check.
			continue
		}
		if t.GetColumn(column) == nil {
			problems = append(problems, fmt.Sprintf("view %q: references missing column %q on table %q", name, column, qualifier))
		}
	}

	return problems
}

// simpleColumnRef matches an unqualified or table-qualified column
// reference, optionally aliased with AS: "col", "tbl.col", "tbl.col AS x".
var simpleColumnRef = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*\.)?([A-Za-z_][A-Za-z0-9_]*)(\s+AS\s+[A-Za-z_][A-Za-z0-9_]*)?$`)

// parseSimpleColumnRef extracts the qualifier (table name, or "" if
// unqualified) and column name from a view's selected column expression. It
// reports ok=false for anything more complex (function calls, operators,
// literals) since those aren't statically checkable without a SQL parser.
func parseSimpleColumnRef(expr string) (qualifier, column string, ok bool) {
	m := simpleColumnRef.FindStringSubmatch(strings.TrimSpace(expr))
	if m == nil {
		return "", "", false
	}
	return strings.TrimSuffix(m[1], "."), m[2], true
}

// tableOrViewExists reports whether name is a real table or view in s, per
// spec.md's "Views reference existing tables/views" invariant.
func tableOrViewExists(s *schema.Schema, name string) bool {
	return s.GetTable(name) != nil || s.Views[name] != nil
}

// checkDuplicateNames reports any name shared by more than one schema
// object across tables, views, indexes, and triggers — SQLite itself
// enforces a single namespace for these in sqlite_schema, and spec.md lists
// "duplicate object names" as an explicit unsupported atom.
func checkDuplicateNames(s *schema.Schema) []string {
	kindByName := map[string]string{}
	var dupes []string

	check := func(name, kind string) {
		if existing, seen := kindByName[name]; seen {
			dupes = append(dupes, fmt.Sprintf("duplicate object name %q: used by both %s and %s", name, existing, kind))
			return
		}
		kindByName[name] = kind
	}

	for _, name := range s.TableNames() {
		check(name, "a table")
	}
	for name := range s.Views {
		check(name, "a view")
	}
	for name := range s.Indexes {
		check(name, "an index")
	}
	for name := range s.Triggers {
		check(name, "a trigger")
	}

	return dupes
}

// checkViewCycles reports any cycle in the view dependency graph. A view's
// dependencies are its base table plus any joined tables/views named in its
// join specification; a literal view body is treated as having no
// discoverable dependencies beyond what engine preflight can statically
// determine from the structured form.
func checkViewCycles(s *schema.Schema) []string {
	deps := map[string][]string{}
	for name, v := range s.Views {
		if v.Join == nil {
			continue
		}
		deps[name] = append(deps[name], v.Join.BaseTable)
		for _, j := range v.Join.Joins {
			deps[name] = append(deps[name], j.Table)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var problems []string

	var visit func(name string, path []string) bool
	visit = func(name string, path []string) bool {
		if color[name] == gray {
			return true
		}
		if color[name] == black {
			return false
		}
		if _, isView := s.Views[name]; !isView {
			// A plain table (or a dangling reference, already reported by
			// validateViewReferences) has no further Join dependencies to
			// walk, so it can't extend a cycle either way.
			return false
		}
		color[name] = gray
		for _, dep := range deps[name] {
			if visit(dep, append(path, name)) {
				return true
			}
		}
		color[name] = black
		return false
	}

	names := make([]string, 0, len(s.Views))
	for name := range s.Views {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if color[name] == white && visit(name, nil) {
			problems = append(problems, fmt.Sprintf("view %q: participates in a dependency cycle", name))
		}
	}
	return problems
}
