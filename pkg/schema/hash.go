// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// canonical is the normalized, order-stable projection of a Schema used for
// hashing. Annotation payload is deliberately excluded: it decorates
// downstream codegen and never affects what the engine migrates.
type canonical struct {
	Tables   []canonicalTable   `json:"tables"`
	Views    []canonicalView    `json:"views"`
	Indexes  []canonicalIndex   `json:"indexes"`
	Triggers []canonicalTrigger `json:"triggers"`
}

type canonicalTable struct {
	Name        string             `json:"name"`
	Columns     []canonicalColumn  `json:"columns"`
	Constraints []Constraint       `json:"constraints"`
}

type canonicalColumn struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
	Default  *string    `json:"default,omitempty"`
}

type canonicalView struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type canonicalIndex struct {
	Name    string   `json:"name"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

type canonicalTrigger struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	Body  string `json:"body"`
}

// Canonicalize produces a deterministic, annotation-free projection of s:
// tables and their sub-objects sorted lexicographically by name, so that two
// Schemas describing the same structure always canonicalize identically
// regardless of map iteration order.
func (s *Schema) Canonicalize() []byte {
	c := canonical{}

	names := s.TableNames()
	sort.Strings(names)
	for _, name := range names {
		t := s.Tables[name]
		cols := make([]canonicalColumn, 0, len(t.Columns))
		for _, col := range t.Columns {
			cols = append(cols, canonicalColumn{
				Name:     col.Name,
				Type:     col.Type,
				Nullable: col.Nullable,
				Default:  col.Default,
			})
		}
		sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
		cons := append([]Constraint(nil), t.Constraints...)
		sort.Slice(cons, func(i, j int) bool { return cons[i].Name < cons[j].Name })
		c.Tables = append(c.Tables, canonicalTable{
			Name:        t.Name,
			Columns:     cols,
			Constraints: cons,
		})
	}

	viewNames := make([]string, 0, len(s.Views))
	for name := range s.Views {
		viewNames = append(viewNames, name)
	}
	sort.Strings(viewNames)
	for _, name := range viewNames {
		v := s.Views[name]
		c.Views = append(c.Views, canonicalView{Name: v.Name, Body: v.Body})
	}

	idxNames := make([]string, 0, len(s.Indexes))
	for name := range s.Indexes {
		idxNames = append(idxNames, name)
	}
	sort.Strings(idxNames)
	for _, name := range idxNames {
		ix := s.Indexes[name]
		cols := append([]string(nil), ix.Columns...)
		c.Indexes = append(c.Indexes, canonicalIndex{Name: ix.Name, Table: ix.Table, Columns: cols, Unique: ix.Unique})
	}

	trigNames := make([]string, 0, len(s.Triggers))
	for name := range s.Triggers {
		trigNames = append(trigNames, name)
	}
	sort.Strings(trigNames)
	for _, name := range trigNames {
		tg := s.Triggers[name]
		c.Triggers = append(c.Triggers, canonicalTrigger{Name: tg.Name, Table: tg.Table, Body: tg.Body})
	}

	// json.Marshal of a struct with no maps is itself deterministic, so this
	// never needs a second sorting pass.
	b, err := json.Marshal(c)
	if err != nil {
		// Canonicalize only ever marshals plain data built above; a failure
		// here means a Go bug, not a bad input.
		panic("schema: canonicalize: " + err.Error())
	}
	return b
}

// Hash returns the hex-encoded SHA-256 of the schema's canonical form.
func (s *Schema) Hash() string {
	sum := sha256.Sum256(s.Canonicalize())
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the 16-hex-char prefix of Hash, used for deterministic
// database filenames.
func (s *Schema) ShortHash() string {
	h := s.Hash()
	return h[:16]
}
