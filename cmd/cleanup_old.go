// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/pkg/errs"
)

func cleanupOldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup-old",
		Short: "Drop the old database's marker and journal",
		Long:  "Drops `_migration_marker` and `_migration_log` in one transaction, provided the marker is not still recording. Idempotent once the tables are already absent.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			if err := engine.CleanupOld(ctx, targetSchema); err != nil {
				var refused *errs.CleanupRefused
				if errors.As(err, &refused) {
					pterm.Error.Printfln("cleanup-old refused: %s", refused.Reason)
					return err
				}
				return err
			}

			pterm.Success.Println("old database markers and journal dropped")
			return nil
		},
	}
}
