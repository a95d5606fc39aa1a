// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/pkg/controller"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print a snapshot of both databases' migration state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			report, err := engine.Status(ctx, targetSchema)
			if err != nil {
				return err
			}

			printStatus(report)
			return nil
		},
	}
}

// printStatus renders a StatusReport as one human-readable "key: value"
// line per field, with readable values substituted for absent/zero states.
func printStatus(r *controller.StatusReport) {
	marker := "absent"
	if r.MarkerPresent {
		marker = r.MarkerStatus
	}
	fmt.Printf("marker: %s\n", marker)
	fmt.Printf("journal entries: %d\n", r.JournalEntries)

	if !r.NewPresent {
		fmt.Println("schema hash: n/a")
		fmt.Println("schema commit: n/a")
		fmt.Println("new status: absent")
		fmt.Println("id mappings: n/a")
		fmt.Println("pending replay: n/a")
		return
	}

	fmt.Printf("schema hash: %s\n", r.SchemaHash)
	commit := r.SchemaCommit
	if commit == "" {
		commit = "n/a"
	}
	fmt.Printf("schema commit: %s\n", commit)
	fmt.Printf("new status: %s\n", r.NewStatus)

	if r.IDMappingsRemoved {
		fmt.Println("id mappings: removed")
		fmt.Println("pending replay: 0 (ready)")
		return
	}
	fmt.Printf("id mappings: %d\n", r.IDMappings)
	fmt.Printf("pending replay: %d\n", r.PendingReplay)
}
