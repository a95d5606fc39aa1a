// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/cmd/flags"
	"github.com/sqlroll/sqlroll/pkg/errs"
)

func migrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Diff, copy, and install recording for the target schema",
		Long: "Runs preflight, creates the new database with the target schema, bulk-copies " +
			"every row from the old database, and installs the old database's recording " +
			"marker and journal as the final step. Fails before any side effect if preflight " +
			"finds unsupported differences.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			sp, _ := pterm.DefaultSpinner.WithText("Running preflight...").Start()

			result, err := engine.Migrate(ctx, targetSchema, time.Now().UTC(), flags.SchemaCommit())
			if err != nil {
				var pf *errs.PreflightFailed
				if errors.As(err, &pf) {
					sp.Fail("preflight failed")
					for _, u := range pf.Unsupported {
						pterm.Error.Println(u)
					}
					return err
				}
				sp.Fail(fmt.Sprintf("migrate failed: %s", err))
				pterm.Warning.Println("rerun guidance: fix the underlying issue, then `reset` before another `migrate`")
				return err
			}

			if result.NoOp {
				sp.Success(fmt.Sprintf("%s already matches this schema; nothing to do", result.NewPath))
				return nil
			}

			sp.Success(fmt.Sprintf(
				"migrated %d table(s), %d identity mapping(s); old database %s is now recording",
				result.TablesCopied, result.IdentityMappings, result.OldPath,
			))
			return nil
		},
	}

	flags.RegisterSchemaCommit(migrateCmd)
	return migrateCmd
}
