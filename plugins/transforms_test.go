package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const transformSource = `package main

import "strings"

func Transforms() map[string]func(string) string {
	return map[string]func(string) string{
		"upper": strings.ToUpper,
		"sam2bam": func(s string) string {
			return strings.TrimSuffix(s, ".sam") + ".bam"
		},
	}
}`

func TestLoadTransforms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transforms.go")
	require.NoError(t, os.WriteFile(path, []byte(transformSource), 0o644))

	table, err := LoadTransforms(path)
	require.NoError(t, err)
	require.Equal(t, []string{"sam2bam", "upper"}, TransformNames(table))
	require.Equal(t, "/runs/align.bam", table["sam2bam"]("/runs/align.sam"))
	require.Equal(t, "ABC", table["upper"]("abc"))
}

func TestLoadTransformsRejectsWrongShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc Transforms() int { return 1 }\n"), 0o644))

	_, err := LoadTransforms(path)
	require.ErrorContains(t, err, "map keyed by name")
}
