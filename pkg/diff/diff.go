// SPDX-License-Identifier: Apache-2.0

// Package diff computes the Schema Diff between a source and a target
// Schema Model: which tables were added, removed, or renamed, and for every
// matched or renamed table, a per-column projection strategy.
package diff

import (
	"sort"

	"github.com/sqlroll/sqlroll/pkg/schema"
)

// Strategy is how a target column's value is produced from a source row
// during copy or replay.
type Strategy string

const (
	StrategySourceColumn Strategy = "SourceColumn"
	StrategyDefaultExpr  Strategy = "DefaultExpr"
	StrategyTypeDefault  Strategy = "TypeDefault"
)

// ColumnMapping is the resolved projection for one target column.
type ColumnMapping struct {
	TargetColumn string
	Strategy     Strategy

	// SourceColumn is set when Strategy == StrategySourceColumn.
	SourceColumn string

	// DefaultExpr is set when Strategy == StrategyDefaultExpr: either the
	// target's declared default expression, or the literal "NULL".
	DefaultExpr string
}

// TableDiff is the result of matching one target table against its source
// counterpart (same name, or an inferred/hinted rename).
type TableDiff struct {
	Target  string
	Source  string
	Renamed bool

	ColumnMappings []ColumnMapping

	// IncompatibleColumns lists target column names whose source
	// counterpart has an incompatible type. Any non-empty value renders
	// this table unsupported.
	IncompatibleColumns []string

	// PKChanged reports a change in primary key type or column composition
	// between source and target. Renders the table unsupported.
	PKChanged bool
}

// Unsupported reports whether this table diff, on its own, disqualifies the
// migration.
func (d TableDiff) Unsupported() bool {
	return len(d.IncompatibleColumns) > 0 || d.PKChanged
}

// Diff is the full result of comparing two Schema Models.
type Diff struct {
	// Added holds target-only table names.
	Added []string

	// Removed holds source-only table names (the Copy Planner simply
	// omits these; they carry no TableDiff).
	Removed []string

	// Renamed holds the source->target name pairs classified as renames
	// (inferred or hinted), in the order established by Tables.
	Renamed []RenamePair

	// Tables holds one TableDiff for every matched or renamed target
	// table, ordered lexicographically by target name.
	Tables []TableDiff

	// AmbiguousPairs lists target table names that could not be resolved
	// as a rename and remain classified as both an add and a remove
	// because the shape match was ambiguous (more than one candidate on
	// either side). These names also appear in Added, and their removed
	// counterparts in Removed; recorded separately so the preflight
	// planner can flag the ambiguity precisely per spec's unsupported
	// atom "Ambiguous add+remove pair".
	AmbiguousPairs []string
}

// RenamePair is one source table renamed to a target name.
type RenamePair struct {
	From string
	To   string
}

// Compute computes the diff between oldSchema (the live/source schema) and
// newSchema (the target declarative schema). Table and column RenameFrom
// hints on newSchema are honored as explicit pairings; shape-based
// inference only runs over whatever tables remain unclaimed afterward, and
// never substitutes for an explicit hint even when the hinted pair's shapes
// differ (the pair is still matched — and may then be marked unsupported by
// the ordinary column-diff rules).
func Compute(oldSchema, newSchema *schema.Schema) *Diff {
	d := &Diff{}

	matchedTargets := map[string]string{} // target name -> source name
	claimedSources := map[string]bool{}

	targetNames := sortedNames(newSchema.TableNames())
	for _, tname := range targetNames {
		t := newSchema.GetTable(tname)
		if oldSchema.GetTable(tname) != nil && t.RenameFrom == "" {
			matchedTargets[tname] = tname
			claimedSources[tname] = true
			continue
		}
		if t.RenameFrom != "" {
			if oldSchema.GetTable(t.RenameFrom) != nil {
				matchedTargets[tname] = t.RenameFrom
				claimedSources[t.RenameFrom] = true
			}
			// A dangling hint (named source table absent) falls through
			// and is treated as a plain added table below.
		}
	}

	var renameCandidatesAdded []string
	for _, tname := range targetNames {
		if _, matched := matchedTargets[tname]; matched {
			continue
		}
		renameCandidatesAdded = append(renameCandidatesAdded, tname)
	}

	var renameCandidatesRemoved []string
	for _, sname := range sortedNames(oldSchema.TableNames()) {
		if claimedSources[sname] {
			continue
		}
		renameCandidatesRemoved = append(renameCandidatesRemoved, sname)
	}

	renamed, ambiguousAdded, ambiguousRemoved := inferRenames(oldSchema, newSchema, renameCandidatesRemoved, renameCandidatesAdded)
	for from, to := range renamed {
		matchedTargets[to] = from
		claimedSources[from] = true
	}

	addedSet := map[string]bool{}
	for _, tname := range renameCandidatesAdded {
		if _, matched := matchedTargets[tname]; !matched {
			addedSet[tname] = true
		}
	}
	for _, tname := range ambiguousAdded {
		addedSet[tname] = true
	}

	removedSet := map[string]bool{}
	for _, sname := range renameCandidatesRemoved {
		if !claimedSources[sname] {
			removedSet[sname] = true
		}
	}
	for _, sname := range ambiguousRemoved {
		removedSet[sname] = true
	}

	for _, tname := range sortedNames(keys(addedSet)) {
		d.Added = append(d.Added, tname)
	}
	for _, sname := range sortedNames(keys(removedSet)) {
		d.Removed = append(d.Removed, sname)
	}
	d.AmbiguousPairs = sortedNames(ambiguousAdded)

	for _, tname := range targetNames {
		sname, matched := matchedTargets[tname]
		if !matched {
			continue
		}
		if sname != tname {
			d.Renamed = append(d.Renamed, RenamePair{From: sname, To: tname})
		}
		d.Tables = append(d.Tables, diffTable(oldSchema.GetTable(sname), newSchema.GetTable(tname), sname != tname))
	}

	return d
}

// inferRenames applies the shape-based rename rule: a removed table R and
// an added table A constitute a rename iff their column sequences have
// identical length and every column pair matches by type, nullability and
// PK membership (names may differ), and no other candidate matches either
// side. Ambiguous candidates (a shape match that is not one-to-one) are
// returned separately and remain classified as add+remove; a table with no
// shape match at all is a plain addition or removal and is not returned.
func inferRenames(oldSchema, newSchema *schema.Schema, removed, added []string) (renamed map[string]string, ambiguousAdded, ambiguousRemoved []string) {
	renamed = map[string]string{}

	matchesForRemoved := map[string][]string{}
	matchesForAdded := map[string][]string{}
	for _, r := range removed {
		rt := oldSchema.GetTable(r)
		for _, a := range added {
			at := newSchema.GetTable(a)
			if shapeMatches(rt, at) {
				matchesForRemoved[r] = append(matchesForRemoved[r], a)
				matchesForAdded[a] = append(matchesForAdded[a], r)
			}
		}
	}

	for _, r := range removed {
		cands := matchesForRemoved[r]
		if len(cands) == 0 {
			continue // no shape match at all: a plain removal
		}
		if len(cands) != 1 {
			ambiguousRemoved = append(ambiguousRemoved, r)
			continue
		}
		a := cands[0]
		if len(matchesForAdded[a]) != 1 {
			ambiguousRemoved = append(ambiguousRemoved, r)
			continue
		}
		renamed[r] = a
	}
	renamedTargets := map[string]bool{}
	for _, to := range renamed {
		renamedTargets[to] = true
	}
	for _, a := range added {
		if renamedTargets[a] {
			continue
		}
		cands := matchesForAdded[a]
		if len(cands) == 0 {
			continue // no shape match at all: a plain addition
		}
		if len(cands) != 1 || len(matchesForRemoved[cands[0]]) != 1 {
			ambiguousAdded = append(ambiguousAdded, a)
		}
	}
	return renamed, ambiguousAdded, ambiguousRemoved
}

func shapeMatches(r, a *schema.Table) bool {
	if r == nil || a == nil || len(r.Columns) != len(a.Columns) {
		return false
	}
	rPK := columnSet(r.PrimaryKey())
	aPK := columnSet(a.PrimaryKey())
	for i := range r.Columns {
		rc, ac := r.Columns[i], a.Columns[i]
		if rc.Type != ac.Type || rc.Nullable != ac.Nullable {
			return false
		}
		if rPK[rc.Name] != aPK[ac.Name] {
			return false
		}
	}
	return true
}

func columnSet(names []string) map[string]bool {
	m := map[string]bool{}
	for _, n := range names {
		m[n] = true
	}
	return m
}

// diffTable computes the column mapping for a matched or renamed table
// pair. source is nil-safe only via caller guarantees: both source and
// target always exist for a Tables entry.
func diffTable(source, target *schema.Table, renamed bool) TableDiff {
	td := TableDiff{Target: target.Name, Source: source.Name, Renamed: renamed}

	if pkChanged(source, target) {
		td.PKChanged = true
	}

	for _, col := range target.Columns {
		mapping, incompatible := columnStrategy(source, col)
		td.ColumnMappings = append(td.ColumnMappings, mapping)
		if incompatible {
			td.IncompatibleColumns = append(td.IncompatibleColumns, col.Name)
		}
	}

	return td
}

func pkChanged(source, target *schema.Table) bool {
	sPK, tPK := source.PrimaryKey(), target.PrimaryKey()
	if len(sPK) != len(tPK) {
		return true
	}
	for i := range sPK {
		sc, tc := source.GetColumn(sPK[i]), target.GetColumn(tPK[i])
		if sc == nil || tc == nil || sc.Type != tc.Type {
			return true
		}
	}
	return false
}

// columnStrategy implements the five-rule strategy selection from the
// specification. incompatible is true only when rule 1 would apply by name
// but the matched source column's type is not compatible with the target's.
func columnStrategy(source *schema.Table, target *schema.Column) (ColumnMapping, bool) {
	sourceName := target.Name
	if target.RenameFrom != "" {
		sourceName = target.RenameFrom
	}

	if src := source.GetColumn(sourceName); src != nil {
		if typesCompatible(src.Type, target.Type) {
			return ColumnMapping{TargetColumn: target.Name, Strategy: StrategySourceColumn, SourceColumn: sourceName}, false
		}
		// Name/hint matched but types are incompatible: this column makes
		// its table unsupported regardless of the other rules.
		return ColumnMapping{TargetColumn: target.Name, Strategy: StrategySourceColumn, SourceColumn: sourceName}, true
	}

	if target.Default != nil {
		return ColumnMapping{TargetColumn: target.Name, Strategy: StrategyDefaultExpr, DefaultExpr: *target.Default}, false
	}
	if target.Nullable {
		return ColumnMapping{TargetColumn: target.Name, Strategy: StrategyDefaultExpr, DefaultExpr: "NULL"}, false
	}
	return ColumnMapping{TargetColumn: target.Name, Strategy: StrategyTypeDefault}, false
}

// typesCompatible implements the widening rule: identical nominal type, or
// INTEGER widening to REAL.
func typesCompatible(source, target schema.ColumnType) bool {
	if source == target {
		return true
	}
	return source == schema.TypeInteger && target == schema.TypeReal
}

func sortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
