package vole

// localVar is one declared name in a lexical scope, bound to a stack slot.
type localVar struct {
	name string
	slot int
}

type lexScope struct {
	locals []localVar
}

// funcBuilder owns the function under construction: the emitted
// instruction vector, the de-duplicated constant pool, the code-to-line
// map, a stack of local-variable scopes, and the high-water local index.
// Function declarations push a new funcBuilder onto the parser's builder
// stack and pop it once the body is compiled.
type funcBuilder struct {
	vm     *VM
	module *ObjModule
	name   string
	arity  int

	code  []Instruction
	lines []int32

	constants []Value

	scopes      []lexScope
	maxLocalIdx int
	nextSlot    int

	// breakTargets is a stack of "sentinel positions per enclosing loop";
	// pushLoop/popLoop maintain it so break emits into the innermost loop.
	breakTargets [][]int

	// isModuleInit marks the builder compiling a module's embedded
	// top-level function. A bare `var` declared at this builder's outermost
	// scope binds as a module-level variable instead of a local (see
	// parser.go atModuleScope), so a host can read it back by name after
	// execution.
	isModuleInit bool
}

func newFuncBuilder(vm *VM, module *ObjModule, name string, arity int, isModuleInit bool) *funcBuilder {
	b := &funcBuilder{vm: vm, module: module, name: name, arity: arity, nextSlot: arity, isModuleInit: isModuleInit}
	b.pushScope()
	// Reserve slots [0, arity) for parameters; slot 0 is self for methods.
	// maxLocalIdx tracks the highest slot index ever used.
	if arity > b.maxLocalIdx {
		b.maxLocalIdx = arity - 1
	}
	return b
}

func (b *funcBuilder) pushScope() { b.scopes = append(b.scopes, lexScope{}) }

func (b *funcBuilder) popScope() {
	top := b.scopes[len(b.scopes)-1]
	b.nextSlot -= len(top.locals)
	b.scopes = b.scopes[:len(b.scopes)-1]
}

// declareLocal reserves a new slot for name in the current scope. It is a
// compile error to declare a name already present in that same scope.
func (b *funcBuilder) declareLocal(name string) (int, error) {
	top := &b.scopes[len(b.scopes)-1]
	for _, l := range top.locals {
		if l.name == name {
			return 0, newCompileError(0, "duplicate declaration of %q in this scope", name)
		}
	}
	slot := b.nextSlot
	b.nextSlot++
	if slot > b.maxLocalIdx {
		b.maxLocalIdx = slot
	}
	top.locals = append(top.locals, localVar{name: name, slot: slot})
	return slot, nil
}

// lookupLocal searches scopes from innermost to outermost.
func (b *funcBuilder) lookupLocal(name string) (int, bool) {
	for i := len(b.scopes) - 1; i >= 0; i-- {
		locals := b.scopes[i].locals
		for j := len(locals) - 1; j >= 0; j-- {
			if locals[j].name == name {
				return locals[j].slot, true
			}
		}
	}
	return 0, false
}

// pushTemps reserves n anonymous, LIFO-released local slots for
// subexpression evaluation and returns the first slot.
func (b *funcBuilder) pushTemps(n int) int {
	first := b.nextSlot
	b.nextSlot += n
	if b.nextSlot-1 > b.maxLocalIdx {
		b.maxLocalIdx = b.nextSlot - 1
	}
	return first
}

func (b *funcBuilder) popTemps(n int) { b.nextSlot -= n }

// popTo releases every temporary at or above mark in one shot. The parser
// uses this at statement and sub-expression boundaries instead of precise
// per-temp popTemps bookkeeping everywhere a sub-expression might itself
// leave extra registers allocated (e.g. an lvalue's pinned object register);
// restoring to a saved mark reclaims all of it uniformly.
func (b *funcBuilder) popTo(mark int) { b.nextSlot = mark }

// bindParam registers a parameter name at its pre-reserved slot (0..arity-1;
// slot 0 is self for methods). Unlike declareLocal it does not consume a new
// slot: newFuncBuilder already reserved [0, arity) via nextSlot=arity.
func (b *funcBuilder) bindParam(name string, slot int) {
	top := &b.scopes[len(b.scopes)-1]
	top.locals = append(top.locals, localVar{name: name, slot: slot})
}

func (b *funcBuilder) emit(instr Instruction, line int32) int {
	pos := len(b.code)
	b.code = append(b.code, instr)
	b.lines = append(b.lines, line)
	return pos
}

func (b *funcBuilder) emitABC(op Opcode, a, c2, c3 int, line int32) int {
	return b.emit(EncodeABC(op, a, c2, c3), line)
}

func (b *funcBuilder) emitABx(op Opcode, a, bx int, line int32) int {
	return b.emit(EncodeABx(op, a, bx), line)
}

func (b *funcBuilder) emitAsBx(op Opcode, a, sbx int, line int32) int {
	return b.emit(EncodeAsBx(op, a, sbx), line)
}

// reserveJump emits a placeholder jump instruction (sBx=0) at the current
// position, to be patched later via patchJumpHere or patchJumpTo.
func (b *funcBuilder) reserveJump(op Opcode, a int, line int32) int {
	return b.emitAsBx(op, a, 0, line)
}

// patchJumpHere rewrites the jump instruction at pos to land on the
// instruction that will be emitted next (the "current ip").
func (b *funcBuilder) patchJumpHere(pos int) {
	b.patchJumpTo(pos, len(b.code))
}

// patchJumpTo rewrites the jump instruction at pos to land on target.
func (b *funcBuilder) patchJumpTo(pos, target int) {
	old := b.code[pos]
	op, a := old.Opcode(), old.A()
	b.code[pos] = EncodeAsBx(op, a, target-pos)
}

// emitJumpBack emits a jump from the current position back to target (used
// to close while/for loops).
func (b *funcBuilder) emitJumpBack(op Opcode, a, target int, line int32) int {
	pos := len(b.code)
	return b.emit(EncodeAsBx(op, a, target-pos), line)
}

// pushLoop/popLoop track the sentinel positions emitted by `break` inside
// the innermost loop currently being compiled.
func (b *funcBuilder) pushLoop() { b.breakTargets = append(b.breakTargets, nil) }

func (b *funcBuilder) emitBreak(line int32) {
	pos := b.emit(SentinelInstruction, line)
	top := len(b.breakTargets) - 1
	b.breakTargets[top] = append(b.breakTargets[top], pos)
}

// popLoop rewrites every sentinel recorded for this loop into an
// unconditional forward JUMP to the current ip (the post-loop location).
func (b *funcBuilder) popLoop() {
	top := len(b.breakTargets) - 1
	positions := b.breakTargets[top]
	b.breakTargets = b.breakTargets[:top]
	for _, pos := range positions {
		b.code[pos] = EncodeAsBx(OpJump, 0, len(b.code)-pos)
	}
}

// addConstant interns v into the constant pool, de-duplicated by exact
// value equality, and returns the LOAD_BASIC Bx immediate that selects it.
func (b *funcBuilder) addConstant(v Value) int {
	for i, c := range b.constants {
		if Equal(c, v) {
			return i + LoadBasicConstBase
		}
	}
	b.constants = append(b.constants, v)
	return len(b.constants) - 1 + LoadBasicConstBase
}

// atModuleScope reports whether we are directly inside the module's
// top-level function body, outside of any nested block/loop scope.
func (b *funcBuilder) atModuleScope() bool { return b.isModuleInit && len(b.scopes) == 1 }

// end appends the RETURN 0 safety trailer and produces the immutable
// ObjFunction.
func (b *funcBuilder) end(line int32) *ObjFunction {
	b.emitABx(OpReturn, 0, 0, line)
	fn := b.vm.allocFunction(b.module, b.name, b.arity)
	fn.Code = b.code
	fn.Lines = b.lines
	fn.Constants = b.constants
	fn.NeededStackSpace = b.maxLocalIdx + 1
	if fn.NeededStackSpace < b.arity+1 {
		fn.NeededStackSpace = b.arity + 1
	}
	return fn
}
