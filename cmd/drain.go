// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func drainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay the journal against the new database until drain_completed",
		Long: "Sets the old database's marker to draining so the write API starts rejecting " +
			"writes, then replays `_migration_log` transaction-group by transaction-group " +
			"into the new database. Safe to rerun: resumes from the last committed group.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			sp, _ := pterm.DefaultSpinner.WithText("Draining journal...").Start()

			if err := engine.Drain(ctx, targetSchema); err != nil {
				sp.Fail(fmt.Sprintf("drain failed: %s", err))
				pterm.Warning.Println("rerun guidance: rerun drain; it resumes from the last committed transaction group")
				return err
			}

			sp.Success("drain complete")
			return nil
		},
	}
}
