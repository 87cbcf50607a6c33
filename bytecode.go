package vole

import "fmt"

// Instruction is a 32-bit fixed-width register-machine word. Bit layout,
// LSB first: 5-bit opcode, 9-bit A, 9-bit B, 9-bit C. A second view
// reinterprets the 18 bits after A as an unsigned Bx; a third view
// reinterprets them as a signed sBx biased by half the Bx range.
type Instruction uint32

const (
	opBits = 5
	aBits  = 9
	bBits  = 9
	cBits  = 9
	bxBits = bBits + cBits // 18

	opShift = 0
	aShift  = opShift + opBits // 5
	bShift  = aShift + aBits   // 14
	cShift  = bShift + bBits   // 23
	bxShift = bShift           // 14, Bx aliases B|C

	maxArgA  = 1<<aBits - 1   // 511
	maxArgBx = 1<<bxBits - 1  // 262143
	sBxBias  = maxArgBx / 2   // 131071
)

// Opcode enumerates every instruction the VM recognizes.
type Opcode uint8

const (
	OpLoadSymbol Opcode = iota
	OpLoadBasic
	OpStoreMove
	OpStoreSymbol
	OpNewClz
	OpMathAdd
	OpMathSub
	OpMathMul
	OpMathDiv
	OpMathMod
	OpMathPow
	OpMathInv
	OpCmpEe
	OpCmpNe
	OpCmpLt
	OpCmpLe
	OpCmpGt
	OpCmpGe
	OpCmpAnd
	OpCmpOr
	OpNot
	OpCallFn
	OpJump
	OpJumpIf
	OpJumpIfNot
	OpReturn

	// opInvalid is the reserved "never a legal opcode" value. It is 0x1F
	// so that the all-ones instruction word (the break sentinel) decodes
	// to it; instruction encoding asserts no real opcode ever reaches it.
	opInvalid Opcode = 0x1F
)

// SentinelInstruction is the all-ones "unpatched break" word; the loop
// finalizer rewrites every occurrence in the loop body to a forward JUMP.
const SentinelInstruction Instruction = 0xFFFFFFFF

// LoadBasic Bx immediates.
const (
	LoadBasicTrue = iota
	LoadBasicFalse
	LoadBasicNil
	LoadBasicModule
	// Bx >= LoadBasicConstBase loads constant-pool[Bx-LoadBasicConstBase].
	LoadBasicConstBase
)

var opNames = [...]string{
	OpLoadSymbol:  "LOAD_SYMBOL",
	OpLoadBasic:   "LOAD_BASIC",
	OpStoreMove:   "STORE_MOVE",
	OpStoreSymbol: "STORE_SYMBOL",
	OpNewClz:      "NEW_CLZ",
	OpMathAdd:     "MATH_ADD",
	OpMathSub:     "MATH_SUB",
	OpMathMul:     "MATH_MUL",
	OpMathDiv:     "MATH_DIV",
	OpMathMod:     "MATH_MOD",
	OpMathPow:     "MATH_POW",
	OpMathInv:     "MATH_INV",
	OpCmpEe:       "CMP_EE",
	OpCmpNe:       "CMP_NE",
	OpCmpLt:       "CMP_LT",
	OpCmpLe:       "CMP_LE",
	OpCmpGt:       "CMP_GT",
	OpCmpGe:       "CMP_GE",
	OpCmpAnd:      "CMP_AND",
	OpCmpOr:       "CMP_OR",
	OpNot:         "NOT",
	OpCallFn:      "CALL_FN",
	OpJump:        "JUMP",
	OpJumpIf:      "JUMP_IF",
	OpJumpIfNot:   "JUMP_IF_NOT",
	OpReturn:      "RETURN",
}

func (op Opcode) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return fmt.Sprintf("OP(%d)", op)
}

func assertFits(op Opcode, name string, v, max int) {
	if v < 0 || v > max {
		panic(fmt.Sprintf("vole: %s operand %d out of range for %s (max %d)", name, v, op, max))
	}
}

// EncodeABC packs an A,B,C form instruction.
func EncodeABC(op Opcode, a, b, c int) Instruction {
	if op == opInvalid {
		panic("vole: opInvalid is reserved and must never be encoded")
	}
	assertFits(op, "A", a, maxArgA)
	assertFits(op, "B", b, maxArgA)
	assertFits(op, "C", c, maxArgA)
	return Instruction(uint32(op)<<opShift | uint32(a)<<aShift | uint32(b)<<bShift | uint32(c)<<cShift)
}

// EncodeABx packs an A,Bx form instruction (Bx unsigned, 18 bits).
func EncodeABx(op Opcode, a, bx int) Instruction {
	if op == opInvalid {
		panic("vole: opInvalid is reserved and must never be encoded")
	}
	assertFits(op, "A", a, maxArgA)
	assertFits(op, "Bx", bx, maxArgBx)
	return Instruction(uint32(op)<<opShift | uint32(a)<<aShift | uint32(bx)<<bxShift)
}

// EncodeAsBx packs a signed sBx form instruction (A may be unused, pass 0).
func EncodeAsBx(op Opcode, a, sbx int) Instruction {
	return EncodeABx(op, a, sbx+sBxBias)
}

func (i Instruction) Opcode() Opcode { return Opcode((uint32(i) >> opShift) & (1<<opBits - 1)) }
func (i Instruction) A() int         { return int((uint32(i) >> aShift) & maxArgA) }
func (i Instruction) B() int         { return int((uint32(i) >> bShift) & maxArgA) }
func (i Instruction) C() int         { return int((uint32(i) >> cShift) & maxArgA) }
func (i Instruction) Bx() int        { return int((uint32(i) >> bxShift) & maxArgBx) }
func (i Instruction) SBx() int       { return i.Bx() - sBxBias }

// IsBreakSentinel reports whether the instruction word is the unpatched
// break sentinel.
func (i Instruction) IsBreakSentinel() bool { return i == SentinelInstruction }

func (i Instruction) String() string {
	op := i.Opcode()
	switch op {
	case OpLoadBasic, OpStoreMove, OpNewClz, OpMathInv, OpNot, OpJump, OpJumpIf, OpJumpIfNot, OpReturn:
		return fmt.Sprintf("%-12s A=%d Bx=%d (sBx=%d)", op, i.A(), i.Bx(), i.SBx())
	default:
		return fmt.Sprintf("%-12s A=%d B=%d C=%d", op, i.A(), i.B(), i.C())
	}
}
