// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/state"
)

func openTestDB(t *testing.T) *db.RDB {
	t.Helper()
	conn, err := db.Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "new.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestReadIdentityAbsentBeforeInstall(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)

	_, present, err := state.ReadIdentity(ctx, conn)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestInstallRecordsIdentityAndInProgressStatus(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, state.Install(ctx, conn, "deadbeef", "abc123", now))

	id, present, err := state.ReadIdentity(ctx, conn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, "deadbeef", id.SchemaHash)
	assert.Equal(t, "abc123", id.SchemaCommit)
	assert.Equal(t, "2026-01-02T03:04:05Z", id.CreatedUTC)

	status, present, err := state.ReadStatus(ctx, conn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, state.StatusInProgress, status)
}

func TestInstallWithoutSchemaCommitLeavesItEmpty(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)

	require.NoError(t, state.Install(ctx, conn, "deadbeef", "", time.Now()))

	id, present, err := state.ReadIdentity(ctx, conn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Empty(t, id.SchemaCommit)
}

func TestSetReadyTransitionsStatus(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	require.NoError(t, state.Install(ctx, conn, "deadbeef", "", time.Now()))

	require.NoError(t, conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return state.SetReady(ctx, tx)
	}))

	status, present, err := state.ReadStatus(ctx, conn)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, state.StatusReady, status)
}
