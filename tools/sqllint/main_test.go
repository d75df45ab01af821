package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLintRepositoryQueries(t *testing.T) {
	violations, err := lint([]string{filepath.Join("..", "..", "internal", "sqlinline")})
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestLintReportsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QBad = `SELECT 1`\n\nconst label = \"selected items\"\n")

	violations, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "QBad", violations[0].name)
	assert.Equal(t, 3, violations[0].line)
}

func TestLintReportsMalformedMarker(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst QBad = `--sql not-a-uuid\nSELECT 1`\n")

	violations, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0].message, "invalid")
}

func TestLintReportsDuplicateMarker(t *testing.T) {
	dir := t.TempDir()
	const marker = "--sql 0e8575c1-4ee1-495c-b1ae-bc76318d2cf9"
	writeGo(t, dir, "a.go", "package q\n\nconst QOne = `"+marker+"\nSELECT 1`\n")
	writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `"+marker+"\nSELECT 2`\n")

	violations, err := lint([]string{dir})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, "QTwo", violations[0].name)
	assert.Contains(t, violations[0].message, "QOne")
}

func TestLintSkipsTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q_test.go", "package q\n\nconst QBad = `SELECT 1`\n")

	violations, err := lint([]string{dir})
	require.NoError(t, err)
	assert.Empty(t, violations)
}
