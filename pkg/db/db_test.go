// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/db"
)

func tempDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "test.sqlite")
}

func TestExecContextRetriesUntilLockReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := tempDSN(t)

	rdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	defer rdb.Close()

	_, err = rdb.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	release := holdWriteLock(t, dsn, 300*time.Millisecond)
	defer release()

	_, err = rdb.ExecContext(ctx, "INSERT INTO test(id) VALUES (1)")
	require.NoError(t, err)
}

func TestExecContextWhenContextCancelled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := tempDSN(t)

	rdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	defer rdb.Close()

	_, err = rdb.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	release := holdWriteLock(t, dsn, 2*time.Second)
	defer release()

	cctx, cancel := context.WithCancel(ctx)
	go time.AfterFunc(200*time.Millisecond, cancel)

	_, err = rdb.ExecContext(cctx, "INSERT INTO test(id) VALUES (1)")
	require.Error(t, err)
}

func TestQueryContext(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := tempDSN(t)

	rdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	defer rdb.Close()

	_, err = rdb.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	rows, err := rdb.QueryContext(ctx, "SELECT COUNT(*) FROM test")
	require.NoError(t, err)

	var count int
	require.NoError(t, db.ScanFirstValue(rows, &count))
	assert.Equal(t, 0, count)
}

func TestWithRetryableTransactionRetriesUntilLockReleased(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := tempDSN(t)

	rdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	defer rdb.Close()

	_, err = rdb.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	release := holdWriteLock(t, dsn, 300*time.Millisecond)
	defer release()

	err = rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test(id) VALUES (2)")
		return err
	})
	require.NoError(t, err)
}

func TestWithRetryableTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := tempDSN(t)

	rdb, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	defer rdb.Close()

	_, err = rdb.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	wantErr := assert.AnError
	err = rdb.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO test(id) VALUES (3)"); err != nil {
			return err
		}
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	rows, err := rdb.QueryContext(ctx, "SELECT COUNT(*) FROM test")
	require.NoError(t, err)
	var count int
	require.NoError(t, db.ScanFirstValue(rows, &count))
	assert.Equal(t, 0, count)
}

// holdWriteLock opens a second connection to dsn, begins an immediate
// transaction and holds it for d, then releases it. The returned function
// blocks until the lock has actually been released, so tests assert
// behavior after release instead of racing the timer.
func holdWriteLock(t *testing.T, dsn string, d time.Duration) func() {
	t.Helper()

	conn, err := sql.Open("sqlite", dsn+"?_txlock=immediate")
	require.NoError(t, err)

	tx, err := conn.Begin()
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		time.Sleep(d)
		tx.Rollback()
		conn.Close()
		close(done)
	}()

	return func() {
		<-done
	}
}
