// SPDX-License-Identifier: Apache-2.0

// Package logging carries structured logging for the Migration Controller's
// phase transitions, independent of the pterm-driven spinner/table output
// the CLI prints for humans.
package logging

import (
	"log/slog"
	"os"
)

// Logger is responsible for logging migration phase transitions.
type Logger interface {
	LogMigrateStart(newPath string)
	LogMigrateComplete(newPath string, tablesCopied, identityMappings int)
	LogMigrateNoOp(newPath string)
	LogDrainStart(oldPath string)
	LogDrainComplete(oldPath string, drainCompleted bool)
	LogCutover(newPath string)
	LogCleanupOld(oldPath string)
	LogReset(newPath string)

	Info(msg string, args ...any)
}

type slogLogger struct {
	logger *slog.Logger
}

// NewLogger returns a Logger that writes structured text lines to stderr.
func NewLogger() Logger {
	return &slogLogger{logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (l *slogLogger) LogMigrateStart(newPath string) {
	l.logger.Info("starting migrate", "new_db", newPath)
}

func (l *slogLogger) LogMigrateComplete(newPath string, tablesCopied, identityMappings int) {
	l.logger.Info("migrate complete",
		"new_db", newPath,
		"tables_copied", tablesCopied,
		"identity_mappings", identityMappings,
	)
}

func (l *slogLogger) LogMigrateNoOp(newPath string) {
	l.logger.Info("migrate no-op, already matches target schema", "new_db", newPath)
}

func (l *slogLogger) LogDrainStart(oldPath string) {
	l.logger.Info("starting drain", "old_db", oldPath)
}

func (l *slogLogger) LogDrainComplete(oldPath string, drainCompleted bool) {
	l.logger.Info("drain pass complete", "old_db", oldPath, "drain_completed", drainCompleted)
}

func (l *slogLogger) LogCutover(newPath string) {
	l.logger.Info("cutover complete", "new_db", newPath)
}

func (l *slogLogger) LogCleanupOld(oldPath string) {
	l.logger.Info("old database cleaned up", "old_db", oldPath)
}

func (l *slogLogger) LogReset(newPath string) {
	l.logger.Info("new database reset", "new_db", newPath)
}

func (l *slogLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, args...)
}

type noopLogger struct{}

// NewNoopLogger returns a Logger whose methods do nothing; it is the
// Engine's default so tests and library callers never need to pass one.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LogMigrateStart(newPath string)                                       {}
func (l *noopLogger) LogMigrateComplete(newPath string, tablesCopied, identityMappings int) {}
func (l *noopLogger) LogMigrateNoOp(newPath string)                                         {}
func (l *noopLogger) LogDrainStart(oldPath string)                                          {}
func (l *noopLogger) LogDrainComplete(oldPath string, drainCompleted bool)                  {}
func (l *noopLogger) LogCutover(newPath string)                                             {}
func (l *noopLogger) LogCleanupOld(oldPath string)                                          {}
func (l *noopLogger) LogReset(newPath string)                                               {}
func (l *noopLogger) Info(msg string, args ...any)                                          {}
