// SPDX-License-Identifier: Apache-2.0

// Package copyplan orders a target Schema Model's tables by foreign-key
// dependency and attaches a per-table column projection plan, ready for the
// Bulk Copier to execute in sequence.
package copyplan

import (
	"fmt"
	"sort"

	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// TableCopyPlan is the copy instructions for one target table.
type TableCopyPlan struct {
	Target string

	// Source is the source table name to copy from, or "" for a newly
	// added table with no source counterpart.
	Source string

	ColumnPlan []diff.ColumnMapping

	// MapIdentity is true iff Target has a single-column integer primary
	// key, the only shape the engine maintains an identity mapping for.
	MapIdentity bool
}

// Plan is the full ordered copy plan for a migrate invocation.
type Plan struct {
	Tables []TableCopyPlan
}

// TableOrder returns the target table names in copy order.
func (p *Plan) TableOrder() []string {
	names := make([]string, len(p.Tables))
	for i, t := range p.Tables {
		names[i] = t.Target
	}
	return names
}

// CyclicFKError reports that the target schema's foreign key graph
// contains a cycle, which the planner refuses rather than attempt a
// deferred-constraint copy order.
type CyclicFKError struct {
	Tables []string
}

func (e *CyclicFKError) Error() string {
	return fmt.Sprintf("foreign key graph contains a cycle among tables: %v", e.Tables)
}

// Build runs Kahn's topological sort over the target schema's FK graph
// (parents before children), breaking ties lexicographically by table name
// for determinism, then attaches a column plan derived from d for each
// table. Tables present in d.Removed never appear in the plan.
func Build(newSchema *schema.Schema, d *diff.Diff) (*Plan, error) {
	order, err := topoOrder(newSchema)
	if err != nil {
		return nil, err
	}

	tableDiffByTarget := map[string]diff.TableDiff{}
	for _, td := range d.Tables {
		tableDiffByTarget[td.Target] = td
	}

	plan := &Plan{}
	for _, name := range order {
		t := newSchema.GetTable(name)
		tcp := TableCopyPlan{
			Target:      name,
			MapIdentity: t.IsSingleColumnIntegerPK(),
		}
		if td, matched := tableDiffByTarget[name]; matched {
			tcp.Source = td.Source
			tcp.ColumnPlan = td.ColumnMappings
		} else {
			// A purely added table with no source counterpart: every
			// column uses whatever strategy applies with no source row to
			// draw from, i.e. default/type-default only. The Bulk Copier
			// still iterates these via the same ColumnPlan shape, but
			// since Source is empty it has no row stream to project —
			// added tables start empty and are populated only by
			// subsequent application writes once the target is live.
		}
		plan.Tables = append(plan.Tables, tcp)
	}

	return plan, nil
}

func topoOrder(s *schema.Schema) ([]string, error) {
	names := s.TableNames()
	sort.Strings(names)

	inDegree := map[string]int{}
	children := map[string][]string{}
	for _, name := range names {
		inDegree[name] = 0
	}
	for _, name := range names {
		t := s.GetTable(name)
		seen := map[string]bool{}
		for _, fk := range t.ForeignKeys() {
			if fk.RefTable == name || seen[fk.RefTable] {
				continue
			}
			seen[fk.RefTable] = true
			if _, ok := inDegree[fk.RefTable]; !ok {
				continue
			}
			inDegree[name]++
			children[fk.RefTable] = append(children[fk.RefTable], name)
		}
	}
	for _, name := range names {
		sort.Strings(children[name])
	}

	var ready []string
	for _, name := range names {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, child := range children[next] {
			inDegree[child]--
			if inDegree[child] == 0 {
				newlyReady = append(newlyReady, child)
			}
		}
		sort.Strings(newlyReady)
		ready = mergeSorted(ready, newlyReady)
	}

	if len(order) != len(names) {
		var remaining []string
		for _, name := range names {
			if inDegree[name] > 0 {
				remaining = append(remaining, name)
			}
		}
		return nil, &CyclicFKError{Tables: remaining}
	}

	return order, nil
}

// mergeSorted merges two already-sorted slices, keeping the result sorted,
// so Kahn's ready queue always breaks ties lexicographically regardless of
// discovery order.
func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
