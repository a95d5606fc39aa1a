// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/sqlroll/sqlroll/pkg/preflight"
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Run preflight only and print the dry-run report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			engine, targetSchema, err := newEngine(ctx)
			if err != nil {
				return err
			}

			result, err := engine.Plan(ctx, targetSchema)
			if err != nil {
				return err
			}

			printPreflightReport(result.OldPath, result.NewPath, result.Report)

			if !result.Report.Runnable() {
				return result.Report.AsError()
			}
			return nil
		},
	}
}

// printPreflightReport renders a preflight report as a pterm table: one
// status column, one description column, supported atoms first so an
// operator scanning top-to-bottom sees what's safe before what blocks.
func printPreflightReport(oldPath, newPath string, report *preflight.Report) {
	pterm.Info.Printfln("old database: %s", oldPath)
	pterm.Info.Printfln("new database (target): %s", newPath)
	pterm.Info.Printfln("schema hash: %s", report.SchemaHash)

	rows := pterm.TableData{{"", "atom"}}
	for _, s := range report.Supported {
		rows = append(rows, []string{"ok", s})
	}
	for _, u := range report.Unsupported {
		rows = append(rows, []string{"blocked", u})
	}
	if len(rows) > 1 {
		_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	} else {
		pterm.Info.Println("no differences between old and target schema")
	}

	if len(report.CopyOrder) > 0 {
		pterm.Info.Printfln("copy order: %v", report.CopyOrder)
	}

	if report.Runnable() {
		pterm.Success.Println("plan is runnable")
	} else {
		pterm.Error.Println("plan is blocked; migrate would refuse to start")
	}
}
