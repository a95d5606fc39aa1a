// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sqlroll/sqlroll/cmd/flags"
)

// Version is the engine's CLI version, set at build time via ldflags.
var Version = "development"

func init() {
	viper.SetEnvPrefix("MIG")
	viper.AutomaticEnv()

	flags.RegisterPersistent(rootCmd)
}

var rootCmd = &cobra.Command{
	Use:          "mig",
	Short:        "Hot-migrate a running SQLite database to a declarative target schema",
	SilenceUsage: true,
	Version:      Version,
}

// Execute runs the root command, registering every subcommand first.
func Execute() error {
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(drainCmd())
	rootCmd.AddCommand(cutoverCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(cleanupOldCmd())
	rootCmd.AddCommand(resetCmd())

	return rootCmd.Execute()
}
