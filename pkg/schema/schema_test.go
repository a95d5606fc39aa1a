// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/schema"
)

func usersTable() *schema.Table {
	return &schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger, Nullable: false},
			{Name: "name", Type: schema.TypeText, Nullable: false},
		},
		Constraints: []schema.Constraint{
			{Name: "pk_users", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}, AutoIncrement: true},
		},
	}
}

func TestHashIsOrderIndependent(t *testing.T) {
	s1 := schema.New()
	s1.AddTable(usersTable())
	s1.AddTable(&schema.Table{Name: "orders", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})

	s2 := schema.New()
	s2.AddTable(&schema.Table{Name: "orders", Columns: []*schema.Column{{Name: "id", Type: schema.TypeInteger}}})
	s2.AddTable(usersTable())

	assert.Equal(t, s1.Hash(), s2.Hash())
}

func TestHashIgnoresAnnotations(t *testing.T) {
	withAnno := usersTable()
	withAnno.Annotations = []schema.Annotation{{Kind: schema.AnnotationInsertOrIgnore}}
	withoutAnno := usersTable()

	s1 := schema.New()
	s1.AddTable(withAnno)
	s2 := schema.New()
	s2.AddTable(withoutAnno)

	assert.Equal(t, s1.Hash(), s2.Hash())
}

func TestHashChangesWithStructure(t *testing.T) {
	s1 := schema.New()
	s1.AddTable(usersTable())

	changed := usersTable()
	changed.Columns = append(changed.Columns, &schema.Column{Name: "email", Type: schema.TypeText, Nullable: true})
	s2 := schema.New()
	s2.AddTable(changed)

	assert.NotEqual(t, s1.Hash(), s2.Hash())
}

func TestShortHashPrefixesHash(t *testing.T) {
	s := schema.New()
	s.AddTable(usersTable())
	require.True(t, len(s.Hash()) == 64)
	assert.Equal(t, s.Hash()[:16], s.ShortHash())
}

func TestIsSingleColumnIntegerPK(t *testing.T) {
	u := usersTable()
	assert.True(t, u.IsSingleColumnIntegerPK())

	composite := &schema.Table{
		Name: "memberships",
		Columns: []*schema.Column{
			{Name: "user_id", Type: schema.TypeInteger},
			{Name: "team_id", Type: schema.TypeInteger},
		},
		Constraints: []schema.Constraint{
			{Name: "pk_memberships", Type: schema.ConstraintPrimaryKey, Columns: []string{"user_id", "team_id"}},
		},
	}
	assert.False(t, composite.IsSingleColumnIntegerPK())
}
