package moduleloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volelang/vole"
)

func TestLoadReadsModuleSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.vole"), []byte(`var hi = "hello";`), 0o644))

	loader := NewFileLoader(dir)
	src, ok := loader.Load("greeter")
	require.True(t, ok)
	assert.Equal(t, `var hi = "hello";`, src)
}

func TestLoadResolvesNestedModuleNames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "util"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util", "strings.vole"), []byte(`var sep = "/";`), 0o644))

	loader := NewFileLoader(dir)
	_, ok := loader.Load("util/strings")
	assert.True(t, ok)
}

func TestLoadMissingFileReportsNotOK(t *testing.T) {
	loader := NewFileLoader(t.TempDir())
	_, ok := loader.Load("nope")
	assert.False(t, ok)
}

func TestLoadEmptyFileIsOK(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.vole"), nil, 0o644))
	src, ok := NewFileLoader(dir).Load("empty")
	require.True(t, ok)
	assert.Equal(t, "", src)
}

func TestLoaderFeedsScriptImports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mathlib.vole"), []byte(`var seven = 7;`), 0o644))

	loader := NewFileLoader(dir)
	vm := vole.NewVM(vole.Config{
		LoadModule: func(_ any, name string) (string, bool) { return loader.Load(name) },
	})
	mod, err := vm.ExecuteInModule("", []byte(`import "mathlib" for seven; var x = seven;`))
	require.NoError(t, err)
	x, ok := vm.ModuleVariable(mod, "x")
	require.True(t, ok)
	assert.Equal(t, float64(7), x.AsNumber())
}
