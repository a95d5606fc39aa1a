// SPDX-License-Identifier: Apache-2.0

// Package schemasrc is a reference implementation of the SchemaSource
// contract the CLI's migrate/plan commands consume: it reads a YAML
// declarative schema file and produces a *schema.Schema. It is not part of
// the core engine — any producer of a Schema Model satisfies the same
// contract; SQL-parsing or reflection-based sources are explicitly out of
// scope and unimplemented here.
package schemasrc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

// document is the YAML shape of a declarative schema file. Field order in
// a YAML sequence is preserved by the decoder, which is what lets Columns
// round-trip in declaration order the way the engine's Schema Model
// requires.
type document struct {
	Tables   []table   `yaml:"tables"`
	Views    []view    `yaml:"views"`
	Indexes  []index   `yaml:"indexes"`
	Triggers []trigger `yaml:"triggers"`
}

type table struct {
	Name        string       `yaml:"name"`
	RenameFrom  string       `yaml:"renameFrom,omitempty"`
	Columns     []column     `yaml:"columns"`
	Constraints []constraint `yaml:"constraints,omitempty"`
	Annotations []annotation `yaml:"annotations,omitempty"`
}

type column struct {
	Name       string  `yaml:"name"`
	Type       string  `yaml:"type"`
	Nullable   bool    `yaml:"nullable"`
	Default    *string `yaml:"default,omitempty"`
	RenameFrom string  `yaml:"renameFrom,omitempty"`
}

type constraint struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	Columns       []string `yaml:"columns,omitempty"`
	AutoIncrement bool     `yaml:"autoIncrement,omitempty"`
	RefTable      string   `yaml:"refTable,omitempty"`
	RefColumns    []string `yaml:"refColumns,omitempty"`
	OnDelete      string   `yaml:"onDelete,omitempty"`
	OnUpdate      string   `yaml:"onUpdate,omitempty"`
	Check         string   `yaml:"check,omitempty"`
}

type annotation struct {
	Kind    string   `yaml:"kind"`
	Columns []string `yaml:"columns,omitempty"`
}

type view struct {
	Name string    `yaml:"name"`
	Body string    `yaml:"body,omitempty"`
	Join *viewJoin `yaml:"join,omitempty"`
}

type viewJoin struct {
	BaseTable string       `yaml:"baseTable"`
	Columns   []string     `yaml:"columns"`
	Joins     []joinClause `yaml:"joins,omitempty"`
}

type joinClause struct {
	Table string `yaml:"table"`
	Kind  string `yaml:"kind"`
	On    string `yaml:"on"`
}

type index struct {
	Name    string   `yaml:"name"`
	Table   string   `yaml:"table"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

type trigger struct {
	Name  string `yaml:"name"`
	Table string `yaml:"table"`
	Body  string `yaml:"body"`
}

// Load reads and parses the YAML declarative schema file at path into a
// *schema.Schema. A missing file is reported as *errs.SchemaNotFound; a
// malformed file is wrapped with the path for context.
func Load(path string) (*schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &errs.SchemaNotFound{Path: path}
		}
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schemasrc: parse %s: %w", path, err)
	}

	return toSchema(doc), nil
}

func toSchema(doc document) *schema.Schema {
	s := schema.New()

	for _, t := range doc.Tables {
		out := &schema.Table{
			Name:       t.Name,
			RenameFrom: t.RenameFrom,
		}
		for _, c := range t.Columns {
			out.Columns = append(out.Columns, &schema.Column{
				Name:       c.Name,
				Type:       schema.ColumnType(c.Type),
				Nullable:   c.Nullable,
				Default:    c.Default,
				RenameFrom: c.RenameFrom,
			})
		}
		for _, c := range t.Constraints {
			out.Constraints = append(out.Constraints, schema.Constraint{
				Name:          c.Name,
				Type:          schema.ConstraintType(c.Type),
				Columns:       c.Columns,
				AutoIncrement: c.AutoIncrement,
				RefTable:      c.RefTable,
				RefColumns:    c.RefColumns,
				OnDelete:      schema.ForeignKeyAction(c.OnDelete),
				OnUpdate:      schema.ForeignKeyAction(c.OnUpdate),
				Check:         c.Check,
			})
		}
		for _, a := range t.Annotations {
			out.Annotations = append(out.Annotations, schema.Annotation{
				Kind:    schema.AnnotationKind(a.Kind),
				Columns: a.Columns,
			})
		}
		s.AddTable(out)
	}

	for _, v := range doc.Views {
		sv := &schema.View{Name: v.Name, Body: v.Body}
		if v.Join != nil {
			sj := &schema.ViewJoin{BaseTable: v.Join.BaseTable, Columns: v.Join.Columns}
			for _, j := range v.Join.Joins {
				sj.Joins = append(sj.Joins, schema.JoinClause{Table: j.Table, Kind: j.Kind, On: j.On})
			}
			sv.Join = sj
		}
		s.Views[v.Name] = sv
	}

	for _, ix := range doc.Indexes {
		s.Indexes[ix.Name] = &schema.Index{Name: ix.Name, Table: ix.Table, Columns: ix.Columns, Unique: ix.Unique}
	}

	for _, tg := range doc.Triggers {
		s.Triggers[tg.Name] = &schema.Trigger{Name: tg.Name, Table: tg.Table, Body: tg.Body}
	}

	return s
}
