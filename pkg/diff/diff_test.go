// SPDX-License-Identifier: Apache-2.0

package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

func strPtr(s string) *string { return &s }

func TestComputeMatchedTableAddedColumnUsesDefaultExpr(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{
		Name: "items",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "qty", Type: schema.TypeInteger},
		},
		Constraints: []schema.Constraint{{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}}},
	})

	newS := schema.New()
	newS.AddTable(&schema.Table{
		Name: "items",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "qty", Type: schema.TypeInteger},
			{Name: "label", Type: schema.TypeText, Nullable: false, Default: strPtr("'n/a'")},
		},
		Constraints: []schema.Constraint{{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}}},
	})

	d := diff.Compute(oldS, newS)
	require.Len(t, d.Tables, 1)
	td := d.Tables[0]
	assert.False(t, td.Renamed)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.False(t, td.Unsupported())

	var labelMapping diff.ColumnMapping
	for _, m := range td.ColumnMappings {
		if m.TargetColumn == "label" {
			labelMapping = m
		}
	}
	assert.Equal(t, diff.StrategyDefaultExpr, labelMapping.Strategy)
	assert.Equal(t, "'n/a'", labelMapping.DefaultExpr)
}

func TestComputeAddedNotNullColumnNoDefaultUsesTypeDefault(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{Name: "t", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})

	newS := schema.New()
	newS.AddTable(&schema.Table{
		Name: "t",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "flag", Type: schema.TypeInteger, Nullable: false},
		},
	})

	d := diff.Compute(oldS, newS)
	require.Len(t, d.Tables, 1)
	var flagMapping diff.ColumnMapping
	for _, m := range d.Tables[0].ColumnMappings {
		if m.TargetColumn == "flag" {
			flagMapping = m
		}
	}
	assert.Equal(t, diff.StrategyTypeDefault, flagMapping.Strategy)
}

func TestComputeRenameHintPairsExplicitly(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{
		Name:    "users",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "full_name", Type: schema.TypeText}},
	})

	newS := schema.New()
	newS.AddTable(&schema.Table{
		Name:       "users",
		RenameFrom: "",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger},
			{Name: "name", Type: schema.TypeText, RenameFrom: "full_name"},
		},
	})

	d := diff.Compute(oldS, newS)
	require.Len(t, d.Tables, 1)
	td := d.Tables[0]
	assert.False(t, td.Renamed)

	var nameMapping diff.ColumnMapping
	for _, m := range td.ColumnMappings {
		if m.TargetColumn == "name" {
			nameMapping = m
		}
	}
	assert.Equal(t, diff.StrategySourceColumn, nameMapping.Strategy)
	assert.Equal(t, "full_name", nameMapping.SourceColumn)
}

func TestComputeUnambiguousTableRenameInferred(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{
		Name:    "people",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "n", Type: schema.TypeText}},
		Constraints: []schema.Constraint{
			{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}},
		},
	})

	newS := schema.New()
	newS.AddTable(&schema.Table{
		Name:    "members",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "n", Type: schema.TypeText}},
		Constraints: []schema.Constraint{
			{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}},
		},
	})

	d := diff.Compute(oldS, newS)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	require.Len(t, d.Renamed, 1)
	assert.Equal(t, diff.RenamePair{From: "people", To: "members"}, d.Renamed[0])
	require.Len(t, d.Tables, 1)
	assert.True(t, d.Tables[0].Renamed)
}

func TestComputeAmbiguousRenameStaysAddPlusRemove(t *testing.T) {
	shape := []*schema.Column{{Name: "id", Type: schema.TypeInteger}}

	oldS := schema.New()
	oldS.AddTable(&schema.Table{Name: "a_old", Columns: shape})
	oldS.AddTable(&schema.Table{Name: "b_old", Columns: shape})

	newS := schema.New()
	newS.AddTable(&schema.Table{Name: "a_new", Columns: shape})
	newS.AddTable(&schema.Table{Name: "b_new", Columns: shape})

	d := diff.Compute(oldS, newS)
	assert.ElementsMatch(t, []string{"a_new", "b_new"}, d.Added)
	assert.ElementsMatch(t, []string{"a_old", "b_old"}, d.Removed)
	assert.Empty(t, d.Renamed)
}

func TestComputeIncompatibleTypeChangeMarksUnsupported(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{Name: "users", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})

	newS := schema.New()
	newS.AddTable(&schema.Table{Name: "users", Columns: []*schema.Column{{Name: "id", Type: schema.TypeText}}})

	d := diff.Compute(oldS, newS)
	require.Len(t, d.Tables, 1)
	assert.True(t, d.Tables[0].Unsupported())
	assert.Contains(t, d.Tables[0].IncompatibleColumns, "id")
}

func TestComputeIntegerWidensToReal(t *testing.T) {
	oldS := schema.New()
	oldS.AddTable(&schema.Table{Name: "t", Columns: []*schema.Column{{Name: "amount", Type: schema.TypeInteger}}})

	newS := schema.New()
	newS.AddTable(&schema.Table{Name: "t", Columns: []*schema.Column{{Name: "amount", Type: schema.TypeReal}}})

	d := diff.Compute(oldS, newS)
	require.Len(t, d.Tables, 1)
	assert.False(t, d.Tables[0].Unsupported())
}
