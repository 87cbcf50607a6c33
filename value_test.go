package vole

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTripsThroughKindPredicates(t *testing.T) {
	vm := NewVM(Config{})
	str := vm.allocString("hi")

	cases := []struct {
		name string
		v    Value
		kind Kind
	}{
		{"number", BoxNumber(3.5), KindNumber},
		{"zero", BoxNumber(0), KindNumber},
		{"negative", BoxNumber(-1.25), KindNumber},
		{"true", True, KindTrue},
		{"false", False, KindFalse},
		{"nil", Nil, KindNil},
		{"pointer", BoxPointer(str), KindPointer},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.kind, c.v.Kind())
		})
	}
}

func TestValueNumberRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.14159, 1e300, -1e-300} {
		v := BoxNumber(f)
		require.True(t, v.IsNumber())
		assert.Equal(t, f, v.AsNumber())
	}
}

func TestValueNaNCanonicalizesAndRoundTrips(t *testing.T) {
	v := BoxNumber(math.NaN())
	require.True(t, v.IsNumber())
	assert.True(t, math.IsNaN(v.AsNumber()))
}

func TestValuePointerRoundTrip(t *testing.T) {
	vm := NewVM(Config{})
	obj := vm.allocString("pointer-roundtrip")
	v := BoxPointer(obj)
	require.True(t, v.IsPointer())
	assert.Same(t, obj, v.AsPointer())
}

// TestValueFalseIsNotNil pins a deliberate decision: false and nil
// are distinct tags, never aliased.
func TestValueFalseIsNotNil(t *testing.T) {
	assert.NotEqual(t, uint64(Nil), uint64(False))
	assert.False(t, False.IsNil())
	assert.False(t, Nil.IsFalse())
}

func TestValueKindsAreMutuallyExclusive(t *testing.T) {
	vm := NewVM(Config{})
	str := vm.allocString("x")
	values := []Value{BoxNumber(1), BoxNumber(0), True, False, Nil, BoxPointer(str)}
	for _, v := range values {
		count := 0
		for _, pred := range []bool{v.IsNumber(), v.IsTrue(), v.IsFalse(), v.IsNil(), v.IsPointer()} {
			if pred {
				count++
			}
		}
		assert.Equal(t, 1, count, "value %v matched %d predicates, want exactly 1", v, count)
	}
}

func TestValueTruthiness(t *testing.T) {
	vm := NewVM(Config{})
	assert.False(t, Nil.Truthy())
	assert.False(t, False.Truthy())
	assert.True(t, True.Truthy())
	assert.True(t, BoxNumber(0).Truthy(), "0.0 is truthy")
	assert.True(t, BoxNumber(-1).Truthy())

	str := vm.allocString("")
	assert.True(t, BoxPointer(str).Truthy(), "a non-null object pointer is truthy even if the string is empty")

	nullPtr := BoxPointer(nil)
	assert.False(t, nullPtr.Truthy(), "a null-pointer object is falsy")
}

func TestValueEqualityOnStringsComparesContent(t *testing.T) {
	vm := NewVM(Config{})
	a := BoxPointer(vm.allocString("same"))
	b := BoxPointer(vm.allocString("same"))
	c := BoxPointer(vm.allocString("different"))

	assert.True(t, Equal(a, b), "distinct string objects with equal content must compare equal")
	assert.False(t, Equal(a, c))
}

func TestValueEqualityOnNumbers(t *testing.T) {
	assert.True(t, Equal(BoxNumber(1), BoxNumber(1)))
	assert.False(t, Equal(BoxNumber(1), BoxNumber(2)))
}

func TestValueOrderingUsesIEEEForNumbers(t *testing.T) {
	assert.True(t, Less(BoxNumber(1), BoxNumber(2)))
	assert.False(t, Less(BoxNumber(2), BoxNumber(1)))
	assert.False(t, Less(BoxNumber(1), BoxNumber(1)))
}

// TestValueOrderingIsTotalAndStable pins the Open Question decision (see
// DESIGN.md): non-number, non-pointer-comparable fallback uses raw bit
// comparison, so it is at least a total, repeatable order.
func TestValueOrderingIsTotalAndStable(t *testing.T) {
	a, b := True, False
	require.False(t, Equal(a, b))
	first := Less(a, b)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Less(a, b), "ordering fallback must be stable across repeated calls")
	}
	// Exactly one direction holds for any distinct, non-equal pair.
	assert.NotEqual(t, Less(a, b), Less(b, a))
}
