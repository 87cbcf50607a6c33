package vole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstructionEncodeDecodeABC(t *testing.T) {
	i := EncodeABC(OpMathAdd, 5, 200, 511)
	assert.Equal(t, OpMathAdd, i.Opcode())
	assert.Equal(t, 5, i.A())
	assert.Equal(t, 200, i.B())
	assert.Equal(t, 511, i.C())
}

func TestInstructionEncodeDecodeABx(t *testing.T) {
	i := EncodeABx(OpLoadBasic, 3, 262143)
	assert.Equal(t, OpLoadBasic, i.Opcode())
	assert.Equal(t, 3, i.A())
	assert.Equal(t, 262143, i.Bx())
}

func TestInstructionEncodeDecodeSignedSBx(t *testing.T) {
	for _, sbx := range []int{0, 1, -1, 100, -100, 131071, -131071} {
		i := EncodeAsBx(OpJump, 0, sbx)
		assert.Equal(t, sbx, i.SBx(), "sBx=%d round trip", sbx)
	}
}

func TestInstructionOutOfRangeOperandPanics(t *testing.T) {
	assert.Panics(t, func() { EncodeABC(OpMathAdd, 1000, 0, 0) })
}

// TestOpInvalidNeverEncodes asserts the reserved "invalid" opcode value
// can never be produced by EncodeABC/EncodeABx, so the break sentinel can
// never collide with a legal instruction.
func TestOpInvalidNeverEncodes(t *testing.T) {
	assert.Panics(t, func() { EncodeABC(opInvalid, 0, 0, 0) })
	assert.Panics(t, func() { EncodeABx(opInvalid, 0, 0) })
}

// TestSentinelInstructionDecodesToInvalidOpcode pins the bit-layout
// requirement that the all-ones word decodes to the reserved opcode 0x1F.
func TestSentinelInstructionDecodesToInvalidOpcode(t *testing.T) {
	require.Equal(t, Opcode(0x1F), opInvalid)
	assert.Equal(t, opInvalid, SentinelInstruction.Opcode())
	assert.True(t, SentinelInstruction.IsBreakSentinel())
}

func TestInstructionStringDoesNotPanic(t *testing.T) {
	for _, i := range []Instruction{
		EncodeABC(OpMathAdd, 0, 1, 2),
		EncodeABx(OpLoadBasic, 0, 3),
		EncodeAsBx(OpJump, 0, -5),
		SentinelInstruction,
	} {
		assert.NotPanics(t, func() { _ = i.String() })
	}
}
