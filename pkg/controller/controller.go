// SPDX-License-Identifier: Apache-2.0

// Package controller implements the Migration Controller (C9): the state
// machine that orchestrates migrate -> drain -> cutover, plus status,
// reset, and cleanup-old, against one project directory's old/new database
// pair. It is the only package that opens and closes both database
// connections for a phase and decides the on-disk lifecycle of the new DB
// file; every other package operates purely on connections it is handed.
package controller

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sqlroll/sqlroll/pkg/copier"
	"github.com/sqlroll/sqlroll/pkg/copyplan"
	"github.com/sqlroll/sqlroll/pkg/db"
	"github.com/sqlroll/sqlroll/pkg/diff"
	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/introspect"
	"github.com/sqlroll/sqlroll/pkg/journal"
	"github.com/sqlroll/sqlroll/pkg/layout"
	"github.com/sqlroll/sqlroll/pkg/logging"
	"github.com/sqlroll/sqlroll/pkg/preflight"
	"github.com/sqlroll/sqlroll/pkg/replay"
	"github.com/sqlroll/sqlroll/pkg/schema"
	"github.com/sqlroll/sqlroll/pkg/state"
)

// Engine binds the Migration Controller's operations to one project
// directory's deterministic path layout.
type Engine struct {
	Layout *layout.Layout
	logger logging.Logger
}

// New returns an Engine rooted at l, logging phase transitions nowhere
// unless WithLogger is called.
func New(l *layout.Layout) *Engine {
	return &Engine{Layout: l, logger: logging.NewNoopLogger()}
}

// WithLogger attaches a Logger that receives phase-transition events from
// Migrate, Drain, Cutover, CleanupOld, and Reset. Returns e for chaining.
func (e *Engine) WithLogger(logger logging.Logger) *Engine {
	e.logger = logger
	return e
}

// PlanResult is the outcome of a dry-run preflight.
type PlanResult struct {
	Report  *preflight.Report
	OldPath string
	NewPath string
}

// Plan runs preflight against the live old DB and targetSchema without
// creating or modifying anything; it is shared by the `plan` command and by
// Migrate itself before any side effect occurs.
func (e *Engine) Plan(ctx context.Context, targetSchema *schema.Schema) (*PlanResult, error) {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())

	oldPath, err := e.Layout.ResolveSource(newPath)
	if err != nil {
		return nil, err
	}

	oldSchema, err := e.loadOldSchema(ctx, oldPath)
	if err != nil {
		return nil, err
	}

	report, plan, err := e.runPreflight(oldSchema, targetSchema)
	if err != nil {
		return nil, err
	}

	// A runnable plan's DDL is generated and run once against a no-op
	// connection so a malformed CreateTableSQL/CreateIndexSQL/CreateViewSQL
	// surfaces as a plan failure rather than mid-migrate, without `plan`
	// ever opening the new DB file.
	if report.Runnable() {
		if err := createSchemaObjects(ctx, &db.FakeDB{}, targetSchema, plan); err != nil {
			return nil, fmt.Errorf("plan: dry-run schema creation: %w", err)
		}
	}

	return &PlanResult{Report: report, OldPath: oldPath, NewPath: newPath}, nil
}

// MigrateResult reports what a successful Migrate did.
type MigrateResult struct {
	NoOp             bool
	OldPath          string
	NewPath          string
	TablesCopied     int
	IdentityMappings int
}

// Migrate runs the full `migrate` phase: preflight, schema creation, bulk
// copy, and finally installing the old DB's recording marker and journal as
// the very last step, so recording only begins once there is nothing left
// to race against. If the target path already holds a fully-identified new
// DB (a previous migrate to this exact schema hash already ran), Migrate
// returns a no-op success rather than redoing the copy.
func (e *Engine) Migrate(ctx context.Context, targetSchema *schema.Schema, now time.Time, schemaCommit string) (*MigrateResult, error) {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())

	if exists(newPath) {
		already, err := e.alreadyMigrated(ctx, newPath)
		if err != nil {
			return nil, err
		}
		if already {
			e.logger.LogMigrateNoOp(newPath)
			return &MigrateResult{NoOp: true, NewPath: newPath}, nil
		}
		return nil, fmt.Errorf("migrate: %s exists but was not created by a previous migrate", newPath)
	}

	e.logger.LogMigrateStart(newPath)

	oldPath, err := e.Layout.ResolveSource(newPath)
	if err != nil {
		return nil, err
	}

	oldConn, err := db.Open(ctx, "file:"+oldPath)
	if err != nil {
		return nil, err
	}
	defer oldConn.Close()

	oldSchema, err := introspect.Introspect(ctx, oldConn, oldPath)
	if err != nil {
		return nil, err
	}

	report, plan, err := e.runPreflight(oldSchema, targetSchema)
	if err != nil {
		return nil, err
	}
	if !report.Runnable() {
		// Neither the old DB nor the new DB file have been touched: the
		// only connection opened so far (oldConn) has only ever read.
		return nil, report.AsError()
	}

	// report.Runnable() guarantees plan is non-nil: a cyclic FK graph is
	// folded into Unsupported by runPreflight before this point.
	newConn, err := db.Open(ctx, "file:"+newPath)
	if err != nil {
		return nil, err
	}
	defer newConn.Close()

	if err := createSchemaObjects(ctx, newConn, targetSchema, plan); err != nil {
		return nil, err
	}

	identity, err := copier.Run(ctx, oldConn, newConn, oldSchema, targetSchema, plan)
	if err != nil {
		return nil, err
	}

	if err := state.Install(ctx, newConn, targetSchema.Hash(), schemaCommit, now); err != nil {
		return nil, err
	}
	if err := replay.EnsureProgressTable(ctx, newConn); err != nil {
		return nil, err
	}

	if err := journal.Install(ctx, oldConn); err != nil {
		return nil, err
	}

	mappings := 0
	for _, byTable := range identity {
		mappings += len(byTable)
	}

	e.logger.LogMigrateComplete(newPath, len(plan.Tables), mappings)
	return &MigrateResult{
		OldPath:          oldPath,
		NewPath:          newPath,
		TablesCopied:     len(plan.Tables),
		IdentityMappings: mappings,
	}, nil
}

// Drain runs the Replayer to completion: sets the old DB marker to
// draining, then replays the journal until drain_completed=1.
func (e *Engine) Drain(ctx context.Context, targetSchema *schema.Schema) error {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())
	oldPath, err := e.Layout.ResolveSource(newPath)
	if err != nil {
		return err
	}

	oldConn, err := db.Open(ctx, "file:"+oldPath)
	if err != nil {
		return err
	}
	defer oldConn.Close()

	newConn, err := db.Open(ctx, "file:"+newPath)
	if err != nil {
		return err
	}
	defer newConn.Close()

	_, present, err := journal.ReadStatus(ctx, oldConn)
	if err != nil {
		return err
	}
	if !present {
		return fmt.Errorf("drain: no migration in progress on %s", oldPath)
	}

	if err := journal.SetStatus(ctx, oldConn, journal.MarkerDraining); err != nil {
		return err
	}

	e.logger.LogDrainStart(oldPath)
	if err := replay.Drain(ctx, oldConn, newConn, targetSchema); err != nil {
		return err
	}

	progress, err := replay.ReadProgress(ctx, newConn)
	if err == nil {
		e.logger.LogDrainComplete(oldPath, progress.DrainCompleted)
	}
	return nil
}

// Cutover transitions the new DB to ready, provided drain has completed.
// Idempotent if the new DB is already ready.
func (e *Engine) Cutover(ctx context.Context, targetSchema *schema.Schema) error {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())
	newConn, err := db.Open(ctx, "file:"+newPath)
	if err != nil {
		return err
	}
	defer newConn.Close()

	status, present, err := state.ReadStatus(ctx, newConn)
	if err != nil {
		return err
	}
	if present && status == state.StatusReady {
		return nil
	}
	if !present || status != state.StatusInProgress {
		return fmt.Errorf("cutover: %s is not in_progress", newPath)
	}

	progress, err := replay.ReadProgress(ctx, newConn)
	if err != nil {
		return err
	}
	if !progress.DrainCompleted {
		return &errs.CutoverBlocked{DrainCompleted: false}
	}

	if err := newConn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := state.SetReady(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS _id_mapping"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS _migration_progress")
		return err
	}); err != nil {
		return err
	}

	e.logger.LogCutover(newPath)
	return nil
}

// CleanupOld drops the old DB's marker and log, provided the marker is not
// currently recording. Idempotent when the tables are already absent.
func (e *Engine) CleanupOld(ctx context.Context, targetSchema *schema.Schema) error {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())
	oldPath, err := e.Layout.ResolveSource(newPath)
	if err != nil {
		return err
	}

	oldConn, err := db.Open(ctx, "file:"+oldPath)
	if err != nil {
		return err
	}
	defer oldConn.Close()

	status, present, err := journal.ReadStatus(ctx, oldConn)
	if err != nil {
		return err
	}
	if present && status == journal.MarkerRecording {
		return &errs.CleanupRefused{Reason: "marker is still recording"}
	}
	if err := journal.Drop(ctx, oldConn); err != nil {
		return err
	}
	e.logger.LogCleanupOld(oldPath)
	return nil
}

// Reset drops the old DB's marker/log and deletes the new DB file, unless
// the new DB is ready, in which case it refuses. Either side missing is
// treated as already reset, not an error.
func (e *Engine) Reset(ctx context.Context, targetSchema *schema.Schema) error {
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())

	if exists(newPath) {
		newConn, err := db.Open(ctx, "file:"+newPath)
		if err != nil {
			return err
		}
		status, _, err := state.ReadStatus(ctx, newConn)
		closeErr := newConn.Close()
		if err != nil {
			return err
		}
		if status == state.StatusReady {
			return &errs.ResetRefused{Reason: "new database is ready"}
		}
		if closeErr != nil {
			return closeErr
		}
		if err := removeSQLiteFile(newPath); err != nil {
			return err
		}
	}

	oldPath, err := e.Layout.ResolveSource(newPath)
	if err != nil {
		if _, ok := err.(*errs.SourceDbNotFound); ok {
			e.logger.LogReset(newPath)
			return nil
		}
		return err
	}

	oldConn, err := db.Open(ctx, "file:"+oldPath)
	if err != nil {
		return err
	}
	defer oldConn.Close()
	if err := journal.Drop(ctx, oldConn); err != nil {
		return err
	}
	e.logger.LogReset(newPath)
	return nil
}

// StatusReport is a snapshot of both databases' engine-visible state.
type StatusReport struct {
	MarkerPresent     bool
	MarkerStatus      string
	JournalEntries    int
	NewPresent        bool
	SchemaHash        string
	SchemaCommit      string
	NewStatus         string
	IDMappings        int
	IDMappingsRemoved bool
	PendingReplay     int
}

// Status reports a snapshot of the migration. It falls back to new-only
// mode (old-DB fields left at their zero value) when old-DB path inference
// fails, since `status` must remain usable after cleanup-old has run.
func (e *Engine) Status(ctx context.Context, targetSchema *schema.Schema) (*StatusReport, error) {
	r := &StatusReport{}
	newPath := e.Layout.TargetPath(targetSchema.ShortHash())

	var oldConn db.DB
	if oldPath, err := e.Layout.ResolveSource(newPath); err == nil {
		conn, err := db.Open(ctx, "file:"+oldPath)
		if err == nil {
			defer conn.Close()
			oldConn = conn
		}
	}

	if oldConn != nil {
		status, present, err := journal.ReadStatus(ctx, oldConn)
		if err == nil {
			r.MarkerPresent = present
			r.MarkerStatus = string(status)
		}
		if n, err := journal.Count(ctx, oldConn); err == nil {
			r.JournalEntries = n
		}
	}

	if exists(newPath) {
		newConn, err := db.Open(ctx, "file:"+newPath)
		if err != nil {
			return nil, err
		}
		defer newConn.Close()
		r.NewPresent = true

		if id, present, err := state.ReadIdentity(ctx, newConn); err == nil && present {
			r.SchemaHash = id.SchemaHash
			r.SchemaCommit = id.SchemaCommit
		}

		status, present, err := state.ReadStatus(ctx, newConn)
		if err == nil && present {
			r.NewStatus = string(status)
		}

		if status == state.StatusReady {
			r.IDMappingsRemoved = true
		} else {
			if n, err := copier.CountMappings(ctx, newConn); err == nil {
				r.IDMappings = n
			}
			if progress, err := replay.ReadProgress(ctx, newConn); err == nil && !progress.DrainCompleted && oldConn != nil {
				if entries, err := journal.ReadFrom(ctx, oldConn, progress.LastReplayedLogID); err == nil {
					r.PendingReplay = len(entries)
				}
			}
		}
	}

	return r, nil
}

// runPreflight computes the copy plan and preflight report together,
// folding a cyclic FK graph (rejected by the Copy Planner) into the
// report's Unsupported list so Migrate has a single place to check
// Runnable(). Returns a nil plan when the report is not runnable.
func (e *Engine) runPreflight(oldSchema, targetSchema *schema.Schema) (*preflight.Report, *copyplan.Plan, error) {
	d := diff.Compute(oldSchema, targetSchema)

	plan, planErr := copyplan.Build(targetSchema, d)
	var copyOrder []string
	if planErr == nil {
		copyOrder = plan.TableOrder()
	}

	report, err := preflight.Run(oldSchema, targetSchema, copyOrder)
	if err != nil {
		return nil, nil, err
	}

	if cyc, ok := planErr.(*copyplan.CyclicFKError); ok {
		report.Unsupported = append(report.Unsupported, fmt.Sprintf("foreign key graph contains a cycle among tables: %v", cyc.Tables))
		sort.Strings(report.Unsupported)
	}

	if !report.Runnable() {
		return report, nil, nil
	}
	return report, plan, nil
}

func (e *Engine) loadOldSchema(ctx context.Context, oldPath string) (*schema.Schema, error) {
	conn, err := db.Open(ctx, "file:"+oldPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return introspect.Introspect(ctx, conn, oldPath)
}

// alreadyMigrated reports whether the file at newPath already carries a
// `_schema_identity` row, i.e. a previous migrate to this exact schema hash
// already ran (the deterministic filename already encodes the hash, so
// reaching this file at all means the hash matched).
func (e *Engine) alreadyMigrated(ctx context.Context, newPath string) (bool, error) {
	conn, err := db.Open(ctx, "file:"+newPath)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	_, present, err := state.ReadIdentity(ctx, conn)
	return present, err
}

// createSchemaObjects emits the target schema's DDL into the new DB: tables
// in copy-plan order (which is FK-dependency order), then indexes,
// triggers, and finally views (ordered so a view-on-view dependency is
// always created after the view it depends on; acyclicity is guaranteed by
// preflight's view-cycle check).
func createSchemaObjects(ctx context.Context, conn db.DB, s *schema.Schema, plan *copyplan.Plan) error {
	if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
		return err
	}
	defer conn.ExecContext(ctx, "PRAGMA foreign_keys = ON")

	for _, tcp := range plan.Tables {
		t := s.GetTable(tcp.Target)
		if _, err := conn.ExecContext(ctx, t.CreateTableSQL()); err != nil {
			return fmt.Errorf("create table %q: %w", tcp.Target, err)
		}
	}

	for _, name := range sortedKeys(s.Indexes) {
		if _, err := conn.ExecContext(ctx, s.Indexes[name].CreateIndexSQL()); err != nil {
			return fmt.Errorf("create index %q: %w", name, err)
		}
	}
	for _, name := range sortedKeys(s.Triggers) {
		if _, err := conn.ExecContext(ctx, s.Triggers[name].CreateTriggerSQL()); err != nil {
			return fmt.Errorf("create trigger %q: %w", name, err)
		}
	}
	for _, name := range orderedViewNames(s) {
		if _, err := conn.ExecContext(ctx, s.Views[name].CreateViewSQL()); err != nil {
			return fmt.Errorf("create view %q: %w", name, err)
		}
	}

	return nil
}

// orderedViewNames orders s.Views so a view never precedes a view it joins
// against. Views form no cycle by the time this runs (preflight rejects
// that); any unresolved remainder after a pass makes no further progress is
// appended in name order as a defensive fallback rather than looping
// forever.
func orderedViewNames(s *schema.Schema) []string {
	deps := map[string][]string{}
	for name, v := range s.Views {
		if v.Join == nil {
			continue
		}
		for _, j := range v.Join.Joins {
			if _, isView := s.Views[j.Table]; isView {
				deps[name] = append(deps[name], j.Table)
			}
		}
	}

	names := sortedKeys(s.Views)
	done := map[string]bool{}
	var order []string
	for len(order) < len(names) {
		progressed := false
		for _, name := range names {
			if done[name] {
				continue
			}
			ready := true
			for _, d := range deps[name] {
				if !done[d] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, name)
				done[name] = true
				progressed = true
			}
		}
		if !progressed {
			for _, name := range names {
				if !done[name] {
					order = append(order, name)
					done[name] = true
				}
			}
			break
		}
	}
	return order
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeSQLiteFile(path string) error {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
