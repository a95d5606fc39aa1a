// SPDX-License-Identifier: Apache-2.0

package schemasrc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/schema"
	"github.com/sqlroll/sqlroll/pkg/schemasrc"
)

const doc = `
tables:
  - name: users
    columns:
      - name: id
        type: INTEGER
        nullable: false
      - name: name
        type: TEXT
        nullable: false
    constraints:
      - name: pk_users
        type: PRIMARY_KEY
        columns: [id]
        autoIncrement: true
    annotations:
      - kind: QueryBy
        columns: [name]
  - name: orders
    columns:
      - name: id
        type: INTEGER
        nullable: false
      - name: user_id
        type: INTEGER
        nullable: false
    constraints:
      - name: pk_orders
        type: PRIMARY_KEY
        columns: [id]
        autoIncrement: true
      - name: fk_orders_user
        type: FOREIGN_KEY
        columns: [user_id]
        refTable: users
        refColumns: [id]
        onDelete: CASCADE
views:
  - name: recent_orders
    body: "CREATE VIEW recent_orders AS SELECT * FROM orders"
indexes:
  - name: idx_orders_user
    table: orders
    columns: [user_id]
triggers:
  - name: trg_noop
    table: orders
    body: "CREATE TRIGGER trg_noop AFTER INSERT ON orders BEGIN SELECT 1; END"
`

func TestLoadParsesFullDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.fsx")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	s, err := schemasrc.Load(path)
	require.NoError(t, err)

	users := s.GetTable("users")
	require.NotNil(t, users)
	require.Len(t, users.Columns, 2)
	assert.Equal(t, "id", users.Columns[0].Name)
	assert.Equal(t, schema.TypeInteger, users.Columns[0].Type)
	assert.Equal(t, []string{"id"}, users.PrimaryKey())

	orders := s.GetTable("orders")
	require.NotNil(t, orders)
	fks := orders.ForeignKeys()
	require.Len(t, fks, 1)
	assert.Equal(t, "users", fks[0].RefTable)
	assert.Equal(t, schema.ActionCascade, fks[0].OnDelete)

	require.Contains(t, s.Views, "recent_orders")
	require.Contains(t, s.Indexes, "idx_orders_user")
	require.Contains(t, s.Triggers, "trg_noop")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := schemasrc.Load(filepath.Join(t.TempDir(), "missing.fsx"))
	var notFound *errs.SchemaNotFound
	require.ErrorAs(t, err, &notFound)
}
