// SPDX-License-Identifier: Apache-2.0

package controller_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/controller"
	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/journal"
	"github.com/sqlroll/sqlroll/pkg/layout"
	"github.com/sqlroll/sqlroll/pkg/schema"
	"github.com/sqlroll/sqlroll/pkg/state"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func usersSchema() *schema.Schema {
	s := schema.New()
	s.AddTable(&schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeInteger, Nullable: false},
			{Name: "name", Type: schema.TypeText, Nullable: false},
		},
		Constraints: []schema.Constraint{
			{Name: "pk_users", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}, AutoIncrement: true},
		},
	})
	return s
}

// seedOldDB creates a "pre-existing" old DB at a path that matches the
// source-database naming contract (<dir base>-<16 hex>.sqlite), writes the
// given schema's DDL into it, and returns its path. The connection used to
// seed it is closed before returning so the engine's own connection does
// not contend with it.
func seedOldDB(t *testing.T, dir string, s *schema.Schema, seedRows func(ctx context.Context, conn db.DB)) string {
	t.Helper()
	path := filepath.Join(dir, filepath.Base(dir)+"-0000000000000001.sqlite")
	ctx := context.Background()

	conn, err := db.Open(ctx, "file:"+path)
	require.NoError(t, err)

	for _, name := range s.TableNames() {
		_, err := conn.ExecContext(ctx, s.GetTable(name).CreateTableSQL())
		require.NoError(t, err)
	}
	if seedRows != nil {
		seedRows(ctx, conn)
	}
	require.NoError(t, conn.Close())

	return path
}

func TestMigrateCopiesRowsAndInstallsJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := usersSchema()

	seedOldDB(t, dir, target, func(ctx context.Context, conn db.DB) {
		_, err := conn.ExecContext(ctx, `INSERT INTO "users" ("id", "name") VALUES (1, 'alice')`)
		require.NoError(t, err)
	})

	eng := controller.New(layout.New(dir))
	result, err := eng.Migrate(ctx, target, fixedNow, "")
	require.NoError(t, err)
	require.False(t, result.NoOp)
	assert.Equal(t, 1, result.TablesCopied)
	assert.Equal(t, 1, result.IdentityMappings)

	newConn, err := db.Open(ctx, "file:"+result.NewPath)
	require.NoError(t, err)
	defer newConn.Close()

	id, present, err := state.ReadIdentity(ctx, newConn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, target.Hash(), id.SchemaHash)

	status, present, err := state.ReadStatus(ctx, newConn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, state.StatusInProgress, status)

	var name string
	row := newConn.QueryRowContext(ctx, `SELECT name FROM "users" WHERE id = 1`)
	require.NoError(t, row.Scan(&name))
	assert.Equal(t, "alice", name)

	oldConn, err := db.Open(ctx, "file:"+result.OldPath)
	require.NoError(t, err)
	defer oldConn.Close()
	markerStatus, present, err := journal.ReadStatus(ctx, oldConn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, journal.MarkerRecording, markerStatus)
}

func TestPlanReportsRunnableWithoutTouchingNewDB(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := usersSchema()
	seedOldDB(t, dir, target, nil)

	eng := controller.New(layout.New(dir))
	result, err := eng.Plan(ctx, target)
	require.NoError(t, err)
	assert.True(t, result.Report.Runnable())

	_, statErr := os.Stat(result.NewPath)
	assert.True(t, os.IsNotExist(statErr), "plan must not create the new DB file")
}

func TestPlanReportsUnsupportedOnIncompatiblePKChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	oldSchema := usersSchema()
	seedOldDB(t, dir, oldSchema, nil)

	target := schema.New()
	target.AddTable(&schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeText, Nullable: false},
			{Name: "name", Type: schema.TypeText, Nullable: false},
		},
		Constraints: []schema.Constraint{
			{Name: "pk_users", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}},
		},
	})

	eng := controller.New(layout.New(dir))
	result, err := eng.Plan(ctx, target)
	require.NoError(t, err)
	assert.False(t, result.Report.Runnable())
	assert.NotEmpty(t, result.Report.Unsupported)
}

func TestMigrateIsNoOpOnceAlreadyMigrated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := usersSchema()
	seedOldDB(t, dir, target, nil)

	eng := controller.New(layout.New(dir))
	first, err := eng.Migrate(ctx, target, fixedNow, "")
	require.NoError(t, err)
	require.False(t, first.NoOp)

	second, err := eng.Migrate(ctx, target, fixedNow, "")
	require.NoError(t, err)
	assert.True(t, second.NoOp)
}

func TestMigrateRefusesOnIncompatiblePKChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	oldSchema := usersSchema()
	seedOldDB(t, dir, oldSchema, nil)

	target := schema.New()
	target.AddTable(&schema.Table{
		Name: "users",
		Columns: []*schema.Column{
			{Name: "id", Type: schema.TypeText, Nullable: false},
			{Name: "name", Type: schema.TypeText, Nullable: false},
		},
		Constraints: []schema.Constraint{
			{Name: "pk_users", Type: schema.ConstraintPrimaryKey, Columns: []string{"id"}},
		},
	})

	eng := controller.New(layout.New(dir))
	_, err := eng.Migrate(ctx, target, fixedNow, "")
	require.Error(t, err)
	var failed *errs.PreflightFailed
	require.ErrorAs(t, err, &failed)

	newPath := layout.New(dir).TargetPath(target.ShortHash())
	_, statErr := os.Stat(newPath)
	assert.True(t, os.IsNotExist(statErr))
}

// TestDrainThenCutoverAppliesJournaledWrite exercises end-to-end scenario 4
// and scenario 5 from the specification: three application transactions
// (insert, update, delete of one user) recorded while the old DB is
// recording, cutover refusing while drain_completed=0, then drain replaying
// them in order so that cutover succeeds.
func TestDrainThenCutoverAppliesJournaledWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	target := usersSchema()
	seedOldDB(t, dir, target, func(ctx context.Context, conn db.DB) {
		_, err := conn.ExecContext(ctx, `INSERT INTO "users" ("id", "name") VALUES (1, 'alice')`)
		require.NoError(t, err)
	})

	eng := controller.New(layout.New(dir))
	result, err := eng.Migrate(ctx, target, fixedNow, "")
	require.NoError(t, err)

	oldConn, err := db.Open(ctx, "file:"+result.OldPath)
	require.NoError(t, err)
	defer oldConn.Close()

	// The application inserts a user (source id 2, since id 1 was copied),
	// then updates it, then deletes it, each in its own recorded transaction.
	require.NoError(t, journal.RunTransaction(ctx, oldConn, func(ctx context.Context, tx *sql.Tx, rec *journal.Recorder) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO "users" ("id", "name") VALUES (2, 'bob')`); err != nil {
			return err
		}
		rec.RecordInsert("users", []any{int64(2)}, []any{int64(2), "bob"})
		return nil
	}))
	require.NoError(t, journal.RunTransaction(ctx, oldConn, func(ctx context.Context, tx *sql.Tx, rec *journal.Recorder) error {
		if _, err := tx.ExecContext(ctx, `UPDATE "users" SET name = 'robert' WHERE id = 2`); err != nil {
			return err
		}
		rec.RecordUpdate("users", []any{int64(2)}, []any{int64(2), "robert"})
		return nil
	}))
	require.NoError(t, journal.RunTransaction(ctx, oldConn, func(ctx context.Context, tx *sql.Tx, rec *journal.Recorder) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM "users" WHERE id = 2`); err != nil {
			return err
		}
		rec.RecordDelete("users", []any{int64(2)})
		return nil
	}))

	// Cutover before draining is blocked.
	err = eng.Cutover(ctx, target)
	require.Error(t, err)
	var blocked *errs.CutoverBlocked
	require.ErrorAs(t, err, &blocked)
	assert.False(t, blocked.DrainCompleted)

	require.NoError(t, eng.Drain(ctx, target))

	status, err := eng.Status(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, journal.MarkerDraining, journal.MarkerStatus(status.MarkerStatus))
	assert.Equal(t, 0, status.PendingReplay)

	require.NoError(t, eng.Cutover(ctx, target))

	newConn, err := db.Open(ctx, "file:"+result.NewPath)
	require.NoError(t, err)
	defer newConn.Close()

	var remaining int
	require.NoError(t, newConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "users"`).Scan(&remaining))
	assert.Equal(t, 1, remaining, "only the originally-copied alice row should remain")

	finalStatus, err := eng.Status(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "ready", finalStatus.NewStatus)
	assert.True(t, finalStatus.IDMappingsRemoved)
}
