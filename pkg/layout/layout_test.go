// SPDX-License-Identifier: Apache-2.0

package layout_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlroll/sqlroll/pkg/errs"
	"github.com/sqlroll/sqlroll/pkg/layout"
)

func TestRequireSchemaFileMissing(t *testing.T) {
	dir := t.TempDir()
	l := layout.New(dir)

	err := l.RequireSchemaFile()
	var notFound *errs.SchemaNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestTargetPathUsesDirBaseName(t *testing.T) {
	l := layout.New("/home/ops/myapp")
	assert.Equal(t, filepath.Join("/home/ops/myapp", "myapp-deadbeefcafebabe.sqlite"), l.TargetPath("deadbeefcafebabe"))
}

func TestResolveSourceFindsUniqueCandidate(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Base(dir)
	target := filepath.Join(dir, name+"-1111111111111111.sqlite")
	source := filepath.Join(dir, name+"-2222222222222222.sqlite")
	require.NoError(t, os.WriteFile(target, nil, 0o600))
	require.NoError(t, os.WriteFile(source, nil, 0o600))

	l := layout.New(dir)
	got, err := l.ResolveSource(target)
	require.NoError(t, err)
	assert.Equal(t, source, got)
}

func TestResolveSourceNoCandidates(t *testing.T) {
	dir := t.TempDir()
	l := layout.New(dir)

	_, err := l.ResolveSource(l.TargetPath("1111111111111111"))
	var notFound *errs.SourceDbNotFound
	require.ErrorAs(t, err, &notFound)
}

func TestResolveSourceAmbiguousCandidates(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Base(dir)
	target := filepath.Join(dir, name+"-1111111111111111.sqlite")
	a := filepath.Join(dir, name+"-2222222222222222.sqlite")
	b := filepath.Join(dir, name+"-3333333333333333.sqlite")
	require.NoError(t, os.WriteFile(a, nil, 0o600))
	require.NoError(t, os.WriteFile(b, nil, 0o600))

	l := layout.New(dir)
	_, err := l.ResolveSource(target)
	var notFound *errs.SourceDbNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Len(t, notFound.NonConforming, 2)
}
