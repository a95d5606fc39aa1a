// SPDX-License-Identifier: Apache-2.0

// Package state owns the new DB's two singleton metadata tables:
// `_schema_identity`, written once at migrate, and `_migration_status`,
// transitioned from in_progress to ready at cutover. Both live in the new
// DB only; the old DB's marker/log are owned by package journal.
package state

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sqlroll/sqlroll/pkg/db"
)

// Status is the new DB's migration_status value.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusReady      Status = "ready"
)

// Identity is the persisted `_schema_identity` row.
type Identity struct {
	SchemaHash   string
	SchemaCommit string // empty when not recorded
	CreatedUTC   string
}

const installSQL = `
CREATE TABLE IF NOT EXISTS _schema_identity (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	schema_hash TEXT NOT NULL,
	schema_commit TEXT,
	created_utc TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS _migration_status (
	id INTEGER PRIMARY KEY CHECK (id = 0),
	status TEXT NOT NULL
);
`

// Install creates both tables and records the identity row plus an initial
// in_progress status, in one transaction. now is passed in by the caller
// (rather than taken from time.Now here) so the Migration Controller alone
// decides the creation timestamp and every other use of "now" in the engine
// goes through the same path.
func Install(ctx context.Context, conn db.DB, schemaHash, schemaCommit string, now time.Time) error {
	return conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, installSQL); err != nil {
			return err
		}
		var commit sql.NullString
		if schemaCommit != "" {
			commit = sql.NullString{String: schemaCommit, Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _schema_identity(id, schema_hash, schema_commit, created_utc) VALUES (0, ?, ?, ?)",
			schemaHash, commit, now.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO _migration_status(id, status) VALUES (0, ?)", string(StatusInProgress))
		return err
	})
}

// ReadIdentity reads `_schema_identity`. present is false when the table
// does not exist, i.e. the new DB was never initialized by migrate.
func ReadIdentity(ctx context.Context, conn db.DB) (id Identity, present bool, err error) {
	rows, err := conn.QueryContext(ctx, "SELECT schema_hash, schema_commit, created_utc FROM _schema_identity WHERE id = 0")
	if err != nil {
		if isNoSuchTable(err) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return Identity{}, false, rows.Err()
	}
	var commit sql.NullString
	if err := rows.Scan(&id.SchemaHash, &commit, &id.CreatedUTC); err != nil {
		return Identity{}, false, err
	}
	id.SchemaCommit = commit.String
	return id, true, nil
}

// ReadStatus reads `_migration_status`. present is false when the new DB
// does not exist or has never been initialized.
func ReadStatus(ctx context.Context, conn db.DB) (status Status, present bool, err error) {
	rows, err := conn.QueryContext(ctx, "SELECT status FROM _migration_status WHERE id = 0")
	if err != nil {
		if isNoSuchTable(err) {
			return "", false, nil
		}
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return "", false, rows.Err()
	}
	var s string
	if err := rows.Scan(&s); err != nil {
		return "", false, err
	}
	return Status(s), true, nil
}

// SetReady transitions `_migration_status` to ready. Called only by
// cutover, inside the same transaction that drops `_id_mapping` and
// `_migration_progress`.
func SetReady(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, "UPDATE _migration_status SET status = ? WHERE id = 0", string(StatusReady))
	return err
}

func isNoSuchTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
