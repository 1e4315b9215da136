package main

import (
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "go.ngs.io/amm-index/"

// packageImports returns the imports of the non-test Go files in dir.
func packageImports(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var imports []string
	fset := token.NewFileSet()
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		require.NoError(t, err)
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			imports = append(imports, path)
		}
	}
	return imports
}

// The server only reads the SQLite store, so it must build without cgo
// libnetcdf.
func TestServerDependenciesExcludeNetCDF(t *testing.T) {
	root := filepath.Join("..", "..")
	seen := map[string]bool{}
	var walk func(dir string)
	walk = func(dir string) {
		if seen[dir] {
			return
		}
		seen[dir] = true
		for _, path := range packageImports(t, dir) {
			assert.False(t, strings.HasPrefix(path, "github.com/fhs/go-netcdf"), "%s imports %s", dir, path)
			if rest, ok := strings.CutPrefix(path, modulePath); ok {
				walk(filepath.Join(root, filepath.FromSlash(rest)))
			}
		}
	}
	walk(".")

	assert.True(t, seen[filepath.Join(root, "internal", "http")])
	assert.False(t, seen[filepath.Join(root, "internal", "adapter", "store", "grid")])
}
