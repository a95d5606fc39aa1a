// SPDX-License-Identifier: Apache-2.0

package copyplan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/copyplan"
	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/schema"
)

func TestBuildOrdersParentsBeforeChildren(t *testing.T) {
	s := schema.New()
	s.AddTable(&schema.Table{
		Name:    "orders",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "user_id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{
			{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}},
			{Name: "fk_user", Type: schema.ConstraintForeignKey, Columns: []string{"user_id"}, RefTable: "users", RefColumns: []string{"id"}},
		},
	})
	s.AddTable(&schema.Table{
		Name:        "users",
		Columns:     []*schema.Column{{Name: "id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}}},
	})

	plan, err := copyplan.Build(s, &diff.Diff{})
	require.NoError(t, err)

	order := plan.TableOrder()
	require.Equal(t, []string{"users", "orders"}, order)
}

func TestBuildBreaksTiesLexicographically(t *testing.T) {
	s := schema.New()
	s.AddTable(&schema.Table{Name: "zebra", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})
	s.AddTable(&schema.Table{Name: "apple", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})
	s.AddTable(&schema.Table{Name: "mango", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})

	plan, err := copyplan.Build(s, &diff.Diff{})
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "mango", "zebra"}, plan.TableOrder())
}

func TestBuildRejectsCyclicFKGraph(t *testing.T) {
	s := schema.New()
	s.AddTable(&schema.Table{
		Name:    "a",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "b_id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{
			{Name: "fk_b", Type: schema.ConstraintForeignKey, Columns: []string{"b_id"}, RefTable: "b", RefColumns: []string{"id"}},
		},
	})
	s.AddTable(&schema.Table{
		Name:    "b",
		Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}, {Name: "a_id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{
			{Name: "fk_a", Type: schema.ConstraintForeignKey, Columns: []string{"a_id"}, RefTable: "a", RefColumns: []string{"id"}},
		},
	})

	_, err := copyplan.Build(s, &diff.Diff{})
	require.Error(t, err)
	var cyclic *copyplan.CyclicFKError
	require.ErrorAs(t, err, &cyclic)
}

func TestBuildMapIdentityForSingleColumnIntegerPK(t *testing.T) {
	s := schema.New()
	s.AddTable(&schema.Table{
		Name:        "users",
		Columns:     []*schema.Column{{Name: "id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}}},
	})
	s.AddTable(&schema.Table{
		Name:    "memberships",
		Columns: []*schema.Column{{Name: "user_id", Type: schema.TypeInteger}, {Name: "team_id", Type: schema.TypeInteger}},
		Constraints: []schema.Constraint{
			{Name: "pk", Type: schema.ConstraintPrimaryKey, Columns: []string{"user_id", "team_id"}},
		},
	})

	plan, err := copyplan.Build(s, &diff.Diff{})
	require.NoError(t, err)

	byName := map[string]copyplan.TableCopyPlan{}
	for _, tcp := range plan.Tables {
		byName[tcp.Target] = tcp
	}
	assert.True(t, byName["users"].MapIdentity)
	assert.False(t, byName["memberships"].MapIdentity)
}
