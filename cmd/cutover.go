// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"errors"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/pkg/errs"
)

func cutoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cutover",
		Short: "Mark the new database authoritative",
		Long: "Transitions `_migration_status` to ready and drops the replay-only " +
			"`_id_mapping`/`_migration_progress` tables. Requires drain to have completed; " +
			"idempotent if rerun after a successful cutover.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			if err := engine.Cutover(ctx, targetSchema); err != nil {
				var blocked *errs.CutoverBlocked
				if errors.As(err, &blocked) {
					pterm.Error.Printfln("cutover blocked: drain_completed=%t", blocked.DrainCompleted)
					pterm.Warning.Println("rerun guidance: run `drain` until it reports complete, then retry cutover")
					return err
				}
				pterm.Error.Printfln("cutover failed: %s", err)
				return err
			}

			pterm.Success.Println(fmt.Sprintf("new database for %s is ready", targetSchema.ShortHash()))
			return nil
		},
	}
}
