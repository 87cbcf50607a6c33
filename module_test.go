package vole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeModuleRejectsDuplicateName(t *testing.T) {
	vm := NewVM(Config{})
	_, err := vm.MakeModule("twice")
	require.NoError(t, err)
	_, err = vm.MakeModule("twice")
	require.Error(t, err)
	verr, ok := err.(*VMError)
	require.True(t, ok)
	assert.Equal(t, ErrModuleAlreadyDefined, verr.Code)
}

func TestGetModuleNotFound(t *testing.T) {
	vm := NewVM(Config{})
	_, err := vm.GetModule("missing")
	require.Error(t, err)
	verr, ok := err.(*VMError)
	require.True(t, ok)
	assert.Equal(t, ErrModuleNotFound, verr.Code)
}

func TestUnloadModuleRemovesFromRegistry(t *testing.T) {
	vm := NewVM(Config{})
	_, err := vm.MakeModule("gone")
	require.NoError(t, err)
	require.NoError(t, vm.UnloadModule("gone"))
	_, err = vm.GetModule("gone")
	assert.Error(t, err)
	assert.Error(t, vm.UnloadModule("gone"), "unloading twice fails the second time")
}

func TestUnloadAllModulesEmptiesRegistry(t *testing.T) {
	vm := NewVM(Config{})
	for _, name := range []string{"a", "b", "c"} {
		_, err := vm.MakeModule(name)
		require.NoError(t, err)
	}
	vm.UnloadAllModules()
	for _, name := range []string{"a", "b", "c"} {
		_, err := vm.GetModule(name)
		assert.Error(t, err, name)
	}
}

func TestExecuteInModuleLeavesModuleInSlotZero(t *testing.T) {
	vm := NewVM(Config{})
	mod, err := vm.ExecuteInModule("slotcheck", []byte(`var x = 1;`))
	require.NoError(t, err)
	v := vm.stack.Get(0)
	require.True(t, v.IsPointer())
	assert.Same(t, mod, v.AsPointer().AsModule())
}

func TestExecuteInModuleAnonymousNamesNeverCollide(t *testing.T) {
	vm := NewVM(Config{})
	m1, err := vm.ExecuteInModule("", []byte(`var a = 1;`))
	require.NoError(t, err)
	m2, err := vm.ExecuteInModule("", []byte(`var b = 2;`))
	require.NoError(t, err)
	assert.NotEqual(t, m1.Name, m2.Name)
}

func TestExecuteInModuleCachesRepeatedSource(t *testing.T) {
	vm := NewVM(Config{})
	src := []byte(`var n = 40 + 2;`)
	m1, err := vm.ExecuteInModule("hot", src)
	require.NoError(t, err)
	m2, err := vm.ExecuteInModule("hot", src)
	require.NoError(t, err)
	assert.Same(t, m1, m2, "identical (name, source) skips recompilation")

	n, ok := vm.ModuleVariable(m2, "n")
	require.True(t, ok)
	assert.Equal(t, float64(42), n.AsNumber())
}

func TestLoadStandardModulesIsIdempotent(t *testing.T) {
	vm := NewVM(Config{})
	require.NoError(t, vm.LoadStandardModules(StdlibIO))
	require.NoError(t, vm.LoadStandardModules(StdlibIO))
	_, err := vm.GetModule("std:io")
	assert.NoError(t, err)
}

func TestPrintJoinsArgumentsWithSpaces(t *testing.T) {
	var out string
	vm := NewVM(Config{Print: func(_ any, s string) { out += s }})
	require.NoError(t, vm.LoadStandardModules(StdlibIO))
	_, err := vm.ExecuteInModule("", []byte(`import "std:io" for print; print("x", 1, true, nil);`))
	require.NoError(t, err)
	assert.Equal(t, "x 1 true nil\n", out)
}

func TestImportForListPicksOnlyListedNames(t *testing.T) {
	vm := NewVM(Config{
		LoadModule: func(_ any, name string) (string, bool) {
			if name == "lib" {
				return `var wanted = 1; var unwanted = 2;`, true
			}
			return "", false
		},
	})
	mod, err := vm.ExecuteInModule("", []byte(`import "lib" for wanted;`))
	require.NoError(t, err)

	w, ok := vm.ModuleVariable(mod, "wanted")
	require.True(t, ok)
	assert.Equal(t, float64(1), w.AsNumber())

	u, ok := vm.ModuleVariable(mod, "unwanted")
	if ok {
		assert.True(t, u.IsNil(), "an unlisted name must not be copied in")
	}
}

func TestImportRenameWithEquals(t *testing.T) {
	vm := NewVM(Config{
		LoadModule: func(_ any, name string) (string, bool) {
			return `var long_name = 5;`, name == "lib"
		},
	})
	mod, err := vm.ExecuteInModule("", []byte(`import "lib" for long_name = short; var y = short;`))
	require.NoError(t, err)
	y, ok := vm.ModuleVariable(mod, "y")
	require.True(t, ok)
	assert.Equal(t, float64(5), y.AsNumber())
}

func TestImportedModuleInitRunsOnce(t *testing.T) {
	loads := 0
	vm := NewVM(Config{
		LoadModule: func(_ any, name string) (string, bool) {
			loads++
			return `var marker = 1;`, true
		},
	})
	_, err := vm.ExecuteInModule("first", []byte(`import "shared";`))
	require.NoError(t, err)
	_, err = vm.ExecuteInModule("second", []byte(`import "shared";`))
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "an already-registered module is reused, not reloaded")
}
