// SPDX-License-Identifier: Apache-2.0

// Package errs is the error taxonomy shared by every engine phase: typed
// structs rather than sentinel strings, so a caller can switch on the
// concrete type and extract the fields it needs for a diagnostic.
package errs

import (
	"fmt"
	"strings"
)

// PreflightFailed reports every unsupported diff atom found before any side
// effect is created. It never carries a partial effect: migrate exits before
// touching the old DB or creating the new DB file.
type PreflightFailed struct {
	Supported   []string
	Unsupported []string
}

func (e *PreflightFailed) Error() string {
	return fmt.Sprintf("preflight failed: %s", strings.Join(e.Unsupported, "; "))
}

// SchemaNotFound reports a missing declarative schema file.
type SchemaNotFound struct {
	Path string
}

func (e *SchemaNotFound) Error() string {
	return fmt.Sprintf("schema file not found: %s", e.Path)
}

// SourceDbNotFound reports that zero or more than one file in a directory
// matched the source-database naming contract.
type SourceDbNotFound struct {
	Dir           string
	NonConforming []string
}

func (e *SourceDbNotFound) Error() string {
	if len(e.NonConforming) == 0 {
		return fmt.Sprintf("no source database found in %s", e.Dir)
	}
	return fmt.Sprintf("no unique source database in %s; candidates: %s", e.Dir, strings.Join(e.NonConforming, ", "))
}

// IntrospectionFailed reports that reading live schema from a SQLite file
// failed. No partial Schema Model is ever returned alongside this error.
type IntrospectionFailed struct {
	File  string
	Cause error
}

func (e *IntrospectionFailed) Error() string {
	return fmt.Sprintf("introspection of %s failed: %s", e.File, e.Cause)
}

func (e *IntrospectionFailed) Unwrap() error { return e.Cause }

// CopyFailed reports that a single table's copy transaction rolled back.
// The new DB file is left in place with whatever tables committed before
// this one; the operator's recovery path is reset then a fresh migrate.
type CopyFailed struct {
	Table string
	Cause error
}

func (e *CopyFailed) Error() string {
	return fmt.Sprintf("copy of table %q failed: %s", e.Table, e.Cause)
}

func (e *CopyFailed) Unwrap() error { return e.Cause }

// MissingIdentityMapping reports that a foreign key column referenced a
// source primary key with no corresponding entry in the identity map, i.e.
// the referenced parent row was never copied or replayed into the new DB.
type MissingIdentityMapping struct {
	Table string
	SrcPK any
}

func (e *MissingIdentityMapping) Error() string {
	return fmt.Sprintf("no identity mapping for table %q, source pk %v", e.Table, e.SrcPK)
}

// WriteRejected is returned by the write API to an application transaction
// attempted while the old DB marker is draining.
type WriteRejected struct{}

func (e *WriteRejected) Error() string {
	return "write rejected: migration is draining"
}

// ReplayFailed reports that replay of one journal transaction group rolled
// back. The progress checkpoint is left unchanged; rerunning drain resumes
// from the last committed group.
type ReplayFailed struct {
	TxnID string
	Cause error
}

func (e *ReplayFailed) Error() string {
	return fmt.Sprintf("replay of txn %s failed: %s", e.TxnID, e.Cause)
}

func (e *ReplayFailed) Unwrap() error { return e.Cause }

// CutoverBlocked reports that cutover's preconditions were not met.
type CutoverBlocked struct {
	DrainCompleted bool
}

func (e *CutoverBlocked) Error() string {
	return fmt.Sprintf("cutover blocked: drain_completed=%t", e.DrainCompleted)
}

// CleanupRefused reports that cleanup-old's precondition (marker not
// recording) was not met.
type CleanupRefused struct {
	Reason string
}

func (e *CleanupRefused) Error() string {
	return fmt.Sprintf("cleanup-old refused: %s", e.Reason)
}

// ResetRefused reports that reset's precondition (new DB not ready) was not
// met; reset never deletes a ready new DB.
type ResetRefused struct {
	Reason string
}

func (e *ResetRefused) Error() string {
	return fmt.Sprintf("reset refused: %s", e.Reason)
}

// UnmappedUpdate reports that a journal Update entry's source primary key
// had no identity mapping on the new DB — fatal, unlike the corresponding
// Delete case which is treated as a successful no-op.
type UnmappedUpdate struct {
	Table string
	SrcPK any
}

func (e *UnmappedUpdate) Error() string {
	return fmt.Sprintf("update of table %q references unmapped source pk %v", e.Table, e.SrcPK)
}
