// SPDX-License-Identifier: Apache-2.0

// Package flags binds the CLI's persistent flags to viper, mirroring the
// teacher's MIG_*-prefixed environment override pattern.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Dir returns the project directory every subcommand operates against.
func Dir() string {
	return viper.GetString("DIR")
}

// SchemaCommit returns the optional commit/version identifier recorded in
// `_schema_identity.schema_commit` at migrate time, left empty when unset.
func SchemaCommit() string {
	return viper.GetString("SCHEMA_COMMIT")
}

// RegisterPersistent attaches the `--dir`/`-d` override shared by every
// subcommand and binds it through viper so the MIG_DIR env var also works.
// The migrate-only `--schema-commit` flag is attached by RegisterSchemaCommit.
func RegisterPersistent(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("dir", "d", ".", "project directory containing schema.fsx and the database files")
	_ = viper.BindPFlag("DIR", cmd.PersistentFlags().Lookup("dir"))
}

// RegisterSchemaCommit attaches the migrate-only --schema-commit flag.
func RegisterSchemaCommit(cmd *cobra.Command) {
	cmd.Flags().String("schema-commit", "", "optional commit/version identifier to record alongside the schema hash")
	_ = viper.BindPFlag("SCHEMA_COMMIT", cmd.Flags().Lookup("schema-commit"))
}
