// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/sqlroll/sqlroll/cmd/flags"
	"github.com/sqlroll/sqlroll/pkg/controller"
	"github.com/sqlroll/sqlroll/pkg/layout"
	"github.com/sqlroll/sqlroll/pkg/logging"
	"github.com/sqlroll/sqlroll/pkg/schema"
	"github.com/sqlroll/sqlroll/pkg/schemasrc"
)

// newEngine builds a Migration Controller rooted at the --dir flag's
// directory, and loads the declarative target schema from schema.fsx in
// that same directory via the reference YAML adapter. The YAML adapter is
// one concrete SchemaSource implementation, not a hard requirement of the
// core; an operator wiring in a different ingestion mechanism would swap
// this one call.
func newEngine(ctx context.Context) (*controller.Engine, *schema.Schema, error) {
	dir := flags.Dir()
	l := layout.New(dir)

	if err := l.RequireSchemaFile(); err != nil {
		return nil, nil, err
	}

	targetSchema, err := schemasrc.Load(l.SchemaPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading %s: %w", l.SchemaPath(), err)
	}

	engine := controller.New(l).WithLogger(logging.NewLogger())
	return engine, targetSchema, nil
}
