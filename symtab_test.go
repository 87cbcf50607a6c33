package vole

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedSymbolsHaveFixedIDs(t *testing.T) {
	tab := NewSymbolTable()
	assert.Equal(t, SymIDCtor, tab.Intern(SymbolCtor))
	assert.Equal(t, SymIDDtor, tab.Intern(SymbolDtor))
	assert.Equal(t, SymIDCall, tab.Intern(SymbolCall))
}

func TestSymbolIDsAreStableAcrossCalls(t *testing.T) {
	tab := NewSymbolTable()
	ids := map[string]int{}
	for i := 0; i < 50; i++ {
		ids[fmt.Sprintf("name%d", i)] = tab.Intern(fmt.Sprintf("name%d", i))
	}
	for name, want := range ids {
		assert.Equal(t, want, tab.Intern(name), "re-interning %q", name)
	}
}

func TestSymbolIDsAreDense(t *testing.T) {
	tab := NewSymbolTable()
	base := tab.Count()
	a := tab.Intern("alpha")
	b := tab.Intern("beta")
	assert.Equal(t, base, a)
	assert.Equal(t, base+1, b)
}

func TestLookupDoesNotIntern(t *testing.T) {
	tab := NewSymbolTable()
	before := tab.Count()
	_, ok := tab.Lookup("never-seen")
	assert.False(t, ok)
	assert.Equal(t, before, tab.Count())
}

func TestNameRoundTripsID(t *testing.T) {
	tab := NewSymbolTable()
	id := tab.Intern("roundtrip")
	assert.Equal(t, "roundtrip", tab.Name(id))
	assert.Equal(t, "", tab.Name(9999))
	assert.Equal(t, "", tab.Name(-1))
}

// TestModuleVariableSlotsFillGapsWithNil pins the sparse-array layout:
// binding a high symbol id grows the slot array, and every gap reads as
// nil rather than as a missing-index failure.
func TestModuleVariableSlotsFillGapsWithNil(t *testing.T) {
	vm := NewVM(Config{})
	mod, err := vm.MakeModule("sparse")
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		vm.symbols.Intern(fmt.Sprintf("filler-%d", i))
	}
	high := vm.symbols.Intern("high")
	vm.setModuleVar(mod, high, "high", BoxNumber(9))

	require.Greater(t, len(mod.Variables), 20)
	for sym := 0; sym < high; sym++ {
		assert.True(t, mod.Variables[sym].IsNil(), "gap slot %d", sym)
	}
	assert.Equal(t, float64(9), mod.Variables[high].AsNumber())
}
