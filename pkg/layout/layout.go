// SPDX-License-Identifier: Apache-2.0

// Package layout implements the engine's deterministic path inference: given
// a directory, it derives the declarative schema file path, the target
// (new) database path from a schema hash, and locates the unique existing
// source (old) database file in that directory. None of this touches a
// database connection; it is pure filesystem/string logic consumed by the
// CLI boundary and by the Migration Controller.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/sqlroll/sqlroll/pkg/errs"
)

// SchemaFileName is the declarative schema source the CLI looks for in a
// project directory. Its internal format is an external concern; the
// reference YAML adapter in pkg/schemasrc reads this same path.
const SchemaFileName = "schema.fsx"

// Layout resolves paths within one project directory, named after the
// directory's base name per the deterministic naming contract
// "D/N-<schema_hash16>.sqlite".
type Layout struct {
	Dir  string
	Name string
}

// New returns a Layout rooted at dir, named after dir's base name.
func New(dir string) *Layout {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Layout{Dir: dir, Name: filepath.Base(abs)}
}

// SchemaPath returns the path to the declarative schema file.
func (l *Layout) SchemaPath() string {
	return filepath.Join(l.Dir, SchemaFileName)
}

// RequireSchemaFile returns an *errs.SchemaNotFound if the schema file is
// absent.
func (l *Layout) RequireSchemaFile() error {
	if _, err := os.Stat(l.SchemaPath()); err != nil {
		if os.IsNotExist(err) {
			return &errs.SchemaNotFound{Path: l.SchemaPath()}
		}
		return err
	}
	return nil
}

// TargetPath returns the deterministic new-DB path for a given 16-hex-char
// schema hash prefix: D/N-<hash16>.sqlite.
func (l *Layout) TargetPath(shortHash string) string {
	return filepath.Join(l.Dir, fmt.Sprintf("%s-%s.sqlite", l.Name, shortHash))
}

var dbFilePattern = regexp.MustCompile(`^[0-9a-f]{16}\.sqlite$`)

// ResolveSource locates the unique file in Dir matching "N-<16hex>.sqlite"
// other than targetPath, the naming contract for the old (source) database.
// Zero candidates is an *errs.SourceDbNotFound naming every non-conforming
// ".sqlite" file it found; more than one is an *errs.SourceDbNotFound naming
// the competing candidates. Either way a diagnostic names the offending
// files.
func (l *Layout) ResolveSource(targetPath string) (string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return "", err
	}

	prefix := l.Name + "-"
	var candidates []string
	var nonConforming []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		full := filepath.Join(l.Dir, name)
		if full == targetPath {
			continue
		}
		if filepath.Ext(name) != ".sqlite" {
			continue
		}
		suffix, ok := trimPrefix(name, prefix)
		if ok && dbFilePattern.MatchString(suffix) {
			candidates = append(candidates, full)
			continue
		}
		nonConforming = append(nonConforming, name)
	}

	if len(candidates) == 1 {
		return candidates[0], nil
	}
	if len(candidates) > 1 {
		return "", &errs.SourceDbNotFound{Dir: l.Dir, NonConforming: candidates}
	}
	return "", &errs.SourceDbNotFound{Dir: l.Dir, NonConforming: nonConforming}
}

func trimPrefix(name, prefix string) (string, bool) {
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", false
	}
	return name[len(prefix):], true
}
