// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/pkg/errs"
)

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop old-side markers and delete a non-ready new database",
		Long:  "The recovery path after a failed migrate: drops `_migration_marker`/`_migration_log` on the old database and deletes the new database file, unless the new database is already ready, in which case it refuses rather than destroy an authoritative database.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			if err := engine.Reset(ctx, targetSchema); err != nil {
				var refused *errs.ResetRefused
				if errors.As(err, &refused) {
					pterm.Error.Printfln("reset refused: %s", refused.Reason)
					return err
				}
				return err
			}

			pterm.Success.Println("reset complete")
			return nil
		},
	}
}
