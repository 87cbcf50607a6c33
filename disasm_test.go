package vole

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrettyStringListsEveryInstruction(t *testing.T) {
	vm := NewVM(Config{})
	mod, err := vm.ExecuteInModule("", []byte(`var x = 1 + 2;`))
	require.NoError(t, err)

	text := mod.Init.PrettyString()
	assert.Contains(t, text, "LOAD_BASIC")
	assert.Contains(t, text, "MATH_ADD")
	assert.Contains(t, text, "RETURN")
	assert.Equal(t, len(mod.Init.Code)+1, strings.Count(text, "\n"), "one line per instruction plus the header")
}

func TestHighlightPrettyStringCarriesANSIEscapes(t *testing.T) {
	vm := NewVM(Config{})
	mod, err := vm.ExecuteInModule("", []byte(`var x = 1;`))
	require.NoError(t, err)

	plain := mod.Init.PrettyString()
	colored := mod.Init.HighlightPrettyString()
	assert.NotContains(t, plain, "\033[")
	assert.Contains(t, colored, "\033[")
}

func TestDisassembleWalksNestedFunctions(t *testing.T) {
	vm := NewVM(Config{})
	mod, err := vm.ExecuteInModule("", []byte(`func helper(n) { return n; }`))
	require.NoError(t, err)

	text := Disassemble(mod)
	assert.Contains(t, text, "function <module>")
	assert.Contains(t, text, "function helper/1")
}
