package vole

import (
	"fmt"
	"math"

	"github.com/go-stack/stack"
)

// callFrame is one entry on the VM's call-frame stack: an optional function
// pointer (nil for native frames), the instruction pointer, the locals base
// within the operand stack, and the stack_top to restore on return.
type callFrame struct {
	fn           *ObjFunction
	nativeFn     *ObjNativeFn
	ip           int
	localsBase   int
	prevStackTop int
}

// VM is one instance of the runtime: a register machine, its heap, and the
// host embedding surface. A VM instance is single-threaded; embedders must
// serialize calls into it externally.
type VM struct {
	Config  Config
	symbols *SymbolTable

	gc gcState

	stack    ValueArray
	stackTop int

	frames []callFrame

	modules map[string]*ObjModule

	handles *handleList

	activeParsers []*Parser

	currentNativeFn *ObjNativeFn

	compiledCache *compiledCache
}

// NewVM creates a VM from a host configuration, applying the documented
// defaults for any zero fields.
func NewVM(cfg Config) *VM {
	cfg = cfg.withDefaults()
	vm := &VM{
		Config:  cfg,
		symbols: NewSymbolTable(),
		gc:      newGCState(cfg),
		modules: make(map[string]*ObjModule),
		handles: newHandleList(),
	}
	vm.compiledCache = newCompiledCache(64)
	vm.stack.EnsureCapacity(256)
	return vm
}

// Symbols returns the VM's symbol table, for embedders that bind native
// classes and need symbol ids for method names.
func (vm *VM) Symbols() *SymbolTable { return vm.symbols }

func (vm *VM) ensureStackCapacity(n int) {
	vm.stack.EnsureCapacity(n)
	for vm.stack.Len() < n {
		vm.stack.data = append(vm.stack.data, Nil)
	}
}

func (vm *VM) reportError(code ErrorCode, message string) {
	if vm.Config.Error != nil {
		vm.Config.Error(vm.Config.UserData, code, message)
	}
}

func (vm *VM) runtimeError(code ErrorCode, format string, args ...any) error {
	return newVMError(code, format, args...)
}

// Call invokes a callable Value (scripted function, native function, or an
// instance/reference whose class defines `call`) with the given arguments.
// This is the embedding API's generic entry point.
func (vm *VM) Call(fn Value, args []Value) (Value, error) {
	base := vm.stackTop
	vm.ensureStackCapacity(base + len(args))
	for i, a := range args {
		vm.stack.Set(base+i, a)
	}
	vm.stackTop = base + len(args)
	entryFrames := len(vm.frames)

	err := vm.performCall(fn, base, len(args))
	if err == nil && len(vm.frames) > entryFrames {
		err = vm.run(entryFrames)
	}
	if err != nil {
		vm.unwindTo(entryFrames, err)
		vm.stackTop = base
		return Nil, err
	}
	result := vm.stack.Get(base)
	vm.stackTop = base
	return result, nil
}

// performCall resolves callee to a scripted function, native function, or
// (recursively, via its class's `call` method) a callable instance, and
// either pushes a frame for the run loop to execute (scripted) or invokes
// it synchronously (native). It never drives the interpreter loop itself;
// the caller (Call, or run itself after a CALL_FN) does that.
func (vm *VM) performCall(callee Value, base, argc int) error {
	for {
		if !callee.IsPointer() {
			return vm.runtimeError(ErrInvalidOpOnType, "value is not callable")
		}
		obj := callee.AsPointer()
		if obj == nil {
			return vm.runtimeError(ErrInvalidOpOnType, "value is not callable")
		}
		switch obj.Type {
		case TypeFunction:
			fn := obj.AsFunction()
			if fn.Arity >= 0 && argc != fn.Arity {
				return vm.runtimeError(ErrFunctionArityMismatch, "function %s expects %d arguments, got %d", fn.Name, fn.Arity, argc)
			}
			needed := base + fn.NeededStackSpace
			vm.ensureStackCapacity(needed)
			prevTop := vm.stackTop
			vm.stackTop = needed
			vm.frames = append(vm.frames, callFrame{fn: fn, localsBase: base, prevStackTop: prevTop})
			return nil
		case TypeNativeFunction:
			nf := obj.AsNativeFn()
			if nf.Arity >= 0 && argc != nf.Arity {
				return vm.runtimeError(ErrFunctionArityMismatch, "native function %s expects %d arguments, got %d", nf.Name, nf.Arity, argc)
			}
			args := make([]Value, argc)
			for i := 0; i < argc; i++ {
				args[i] = vm.stack.Get(base + i)
			}
			vm.frames = append(vm.frames, callFrame{nativeFn: nf, localsBase: base, prevStackTop: vm.stackTop})
			prevNative := vm.currentNativeFn
			vm.currentNativeFn = nf
			result, err := vm.invokeNative(nf, args)
			vm.currentNativeFn = prevNative
			vm.frames = vm.frames[:len(vm.frames)-1]
			if err != nil {
				return err
			}
			vm.ensureStackCapacity(base + 1)
			vm.stack.Set(base, result)
			return nil
		case TypeInstance, TypeReference, TypeWeakReference:
			class := vm.classOf(obj)
			if class == nil {
				return vm.runtimeError(ErrInvalidOpOnType, "value is not callable")
			}
			method, ok := class.LookupMethod(SymIDCall)
			if !ok {
				return vm.runtimeError(ErrInvalidOpOnType, "no call method on %s", class.Name)
			}
			vm.ensureStackCapacity(base + argc + 1)
			for i := argc; i >= 1; i-- {
				vm.stack.Set(base+i, vm.stack.Get(base+i-1))
			}
			vm.stack.Set(base, callee)
			callee = method
			argc++
		default:
			return vm.runtimeError(ErrInvalidOpOnType, "value is not callable")
		}
	}
}

// invokeNative calls a host-bound native function, converting a Go panic
// into a runtime error carrying the Go-side call stack, so a panicking
// callback cannot bring down the embedder's process.
func (vm *VM) invokeNative(nf *ObjNativeFn, args []Value) (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			trace := stack.Trace().TrimRuntime()
			err = vm.runtimeError(ErrRuntime, "native function %s panicked: %v\n%s", nf.Name, r, trace)
		}
	}()
	return nf.Fn(vm, args)
}

func (vm *VM) classOf(obj *Object) *ObjClass {
	switch obj.Type {
	case TypeInstance:
		return obj.AsInstance().Class
	case TypeReference:
		return obj.AsReference().Class
	case TypeWeakReference:
		return obj.AsWeakReference().Class
	default:
		return nil
	}
}

// run drives the interpreter loop until len(vm.frames) drops back to
// targetLen (the frame depth at the call site that invoked run). It is the
// single place that advances ip and dispatches opcodes; CALL_FN on a
// scripted callee simply pushes a frame and lets this same loop continue.
func (vm *VM) run(targetLen int) error {
	for len(vm.frames) > targetLen {
		idx := len(vm.frames) - 1
		frame := vm.frames[idx]
		if frame.fn == nil {
			// Native frames are pushed and popped synchronously inside
			// performCall; the loop should never observe one as the top.
			return vm.runtimeError(ErrRuntime, "internal error: native frame left on call stack")
		}
		if frame.ip >= len(frame.fn.Code) {
			return vm.runtimeError(ErrRuntime, "instruction pointer ran off the end of %s", frame.fn.Name)
		}
		instr := frame.fn.Code[frame.ip]
		if instr.IsBreakSentinel() {
			return vm.runtimeError(ErrRuntime, "unpatched break instruction reached at runtime")
		}

		switch instr.Opcode() {
		case OpLoadSymbol:
			a, b, c := instr.A(), instr.B(), instr.C()
			receiver := vm.stack.Get(frame.localsBase + b)
			val, err := vm.loadSymbol(receiver, c)
			if err != nil {
				return err
			}
			vm.stack.Set(frame.localsBase+a, val)
			vm.frames[idx].ip++

		case OpLoadBasic:
			a, bx := instr.A(), instr.Bx()
			var val Value
			switch {
			case bx == LoadBasicTrue:
				val = True
			case bx == LoadBasicFalse:
				val = False
			case bx == LoadBasicNil:
				val = Nil
			case bx == LoadBasicModule:
				val = BoxPointer(&frame.fn.Module.Object)
			default:
				ci := bx - LoadBasicConstBase
				if ci < 0 || ci >= len(frame.fn.Constants) {
					return vm.runtimeError(ErrRuntime, "constant index %d out of range", ci)
				}
				val = frame.fn.Constants[ci]
			}
			vm.stack.Set(frame.localsBase+a, val)
			vm.frames[idx].ip++

		case OpStoreMove:
			a, bx := instr.A(), instr.Bx()
			vm.stack.Set(frame.localsBase+a, vm.stack.Get(frame.localsBase+bx))
			vm.frames[idx].ip++

		case OpStoreSymbol:
			a, b, c := instr.A(), instr.B(), instr.C()
			receiver := vm.stack.Get(frame.localsBase + a)
			val := vm.stack.Get(frame.localsBase + c)
			if err := vm.storeSymbol(receiver, b, val); err != nil {
				return err
			}
			vm.frames[idx].ip++

		case OpNewClz:
			a, bx := instr.A(), instr.Bx()
			classVal := vm.stack.Get(frame.localsBase + bx)
			inst, err := vm.newInstance(classVal)
			if err != nil {
				return err
			}
			vm.stack.Set(frame.localsBase+a, inst)
			vm.frames[idx].ip++

		case OpMathAdd, OpMathSub, OpMathMul, OpMathDiv, OpMathMod, OpMathPow:
			a, b, c := instr.A(), instr.B(), instr.C()
			left := vm.stack.Get(frame.localsBase + b)
			right := vm.stack.Get(frame.localsBase + c)
			vm.stack.Set(frame.localsBase+a, vm.arith(instr.Opcode(), left, right))
			vm.frames[idx].ip++

		case OpMathInv:
			a, bx := instr.A(), instr.Bx()
			v := vm.stack.Get(frame.localsBase + bx)
			var result Value
			if v.IsNumber() {
				result = BoxNumber(-v.AsNumber())
			} else {
				result = Nil
			}
			vm.stack.Set(frame.localsBase+a, result)
			vm.frames[idx].ip++

		case OpCmpEe, OpCmpNe, OpCmpLt, OpCmpLe, OpCmpGt, OpCmpGe, OpCmpAnd, OpCmpOr:
			a, b, c := instr.A(), instr.B(), instr.C()
			left := vm.stack.Get(frame.localsBase + b)
			right := vm.stack.Get(frame.localsBase + c)
			vm.stack.Set(frame.localsBase+a, vm.compare(instr.Opcode(), left, right))
			vm.frames[idx].ip++

		case OpNot:
			a, bx := instr.A(), instr.Bx()
			v := vm.stack.Get(frame.localsBase + bx)
			vm.stack.Set(frame.localsBase+a, BoxBool(!v.Truthy()))
			vm.frames[idx].ip++

		case OpCallFn:
			a, b, c := instr.A(), instr.B(), instr.C()
			callee := vm.stack.Get(frame.localsBase + b)
			argBase := frame.localsBase + a
			if err := vm.performCall(callee, argBase, c); err != nil {
				return err
			}
			vm.frames[idx].ip++

		case OpJump:
			vm.frames[idx].ip += instr.SBx()

		case OpJumpIf:
			a := instr.A()
			if vm.stack.Get(frame.localsBase + a).Truthy() {
				vm.frames[idx].ip += instr.SBx()
			} else {
				vm.frames[idx].ip++
			}

		case OpJumpIfNot:
			a := instr.A()
			if !vm.stack.Get(frame.localsBase + a).Truthy() {
				vm.frames[idx].ip += instr.SBx()
			} else {
				vm.frames[idx].ip++
			}

		case OpReturn:
			bx := instr.Bx()
			result := vm.stack.Get(frame.localsBase + bx)
			vm.stack.Set(frame.localsBase, result)
			vm.stackTop = frame.prevStackTop
			vm.frames = vm.frames[:idx]

		default:
			return vm.runtimeError(ErrRuntime, "unrecognized opcode %d", instr.Opcode())
		}
	}
	return nil
}

func (vm *VM) loadSymbol(receiver Value, symbol int) (Value, error) {
	if !receiver.IsPointer() {
		return Nil, vm.runtimeError(ErrRuntime, "cannot load symbol %d from non-object value", symbol)
	}
	obj := receiver.AsPointer()
	switch obj.Type {
	case TypeInstance:
		inst := obj.AsInstance()
		if v, ok := inst.Fields.Get(symbol); ok {
			return v, nil
		}
		if v, ok := inst.Class.LookupMethod(symbol); ok {
			return v, nil
		}
		return Nil, vm.runtimeError(ErrRuntime, "missing symbol %q on instance of %s", vm.symbols.Name(symbol), inst.Class.Name)
	case TypeClass:
		class := obj.AsClass()
		if v, ok := class.LookupMethod(symbol); ok {
			return v, nil
		}
		for cl := class; cl != nil; cl = cl.Base {
			if symbol < len(cl.StaticFields) {
				return cl.StaticFields[symbol], nil
			}
		}
		return Nil, vm.runtimeError(ErrRuntime, "missing symbol %q on class %s", vm.symbols.Name(symbol), class.Name)
	case TypeModule:
		mod := obj.AsModule()
		if symbol < len(mod.Variables) {
			return mod.Variables[symbol], nil
		}
		return Nil, vm.runtimeError(ErrRuntime, "missing symbol %q in module %s", vm.symbols.Name(symbol), mod.Name)
	case TypeReference, TypeWeakReference:
		class := vm.classOf(obj)
		if class != nil {
			if v, ok := class.LookupMethod(symbol); ok {
				return v, nil
			}
		}
		return Nil, vm.runtimeError(ErrRuntime, "missing symbol %q", vm.symbols.Name(symbol))
	default:
		return Nil, vm.runtimeError(ErrRuntime, "cannot load symbol from a %s", obj.Type)
	}
}

func (vm *VM) storeSymbol(receiver Value, symbol int, value Value) error {
	if !receiver.IsPointer() {
		return vm.runtimeError(ErrInvalidOpOnType, "invalid store target")
	}
	obj := receiver.AsPointer()
	switch obj.Type {
	case TypeInstance:
		obj.AsInstance().Fields.Set(symbol, value)
		return nil
	case TypeModule:
		mod := obj.AsModule()
		for symbol >= len(mod.Variables) {
			mod.Variables = append(mod.Variables, Nil)
		}
		mod.Variables[symbol] = value
		return nil
	case TypeClass:
		class := obj.AsClass()
		for symbol >= len(class.StaticFields) {
			class.StaticFields = append(class.StaticFields, Nil)
		}
		class.StaticFields[symbol] = value
		return nil
	default:
		return vm.runtimeError(ErrInvalidOpOnType, "invalid store target")
	}
}

func (vm *VM) arith(op Opcode, left, right Value) Value {
	if op == OpMathAdd {
		if left.IsNumber() && right.IsNumber() {
			return BoxNumber(left.AsNumber() + right.AsNumber())
		}
		if isStringValue(left) || isStringValue(right) {
			return vm.newStringValue(left.String() + right.String())
		}
		return Nil
	}
	if !left.IsNumber() || !right.IsNumber() {
		return Nil
	}
	l, r := left.AsNumber(), right.AsNumber()
	switch op {
	case OpMathSub:
		return BoxNumber(l - r)
	case OpMathMul:
		return BoxNumber(l * r)
	case OpMathDiv:
		return BoxNumber(l / r)
	case OpMathMod:
		return BoxNumber(math.Mod(l, r))
	case OpMathPow:
		return BoxNumber(math.Pow(l, r))
	}
	return Nil
}

func isStringValue(v Value) bool {
	return v.IsPointer() && v.AsPointer() != nil && v.AsPointer().Type == TypeString
}

func (vm *VM) compare(op Opcode, left, right Value) Value {
	switch op {
	case OpCmpEe:
		return BoxBool(Equal(left, right))
	case OpCmpNe:
		return BoxBool(!Equal(left, right))
	case OpCmpLt:
		return BoxBool(Less(left, right))
	case OpCmpLe:
		return BoxBool(Less(left, right) || Equal(left, right))
	case OpCmpGt:
		return BoxBool(!Less(left, right) && !Equal(left, right))
	case OpCmpGe:
		return BoxBool(!Less(left, right))
	case OpCmpAnd:
		return BoxBool(left.Truthy() && right.Truthy())
	case OpCmpOr:
		return BoxBool(left.Truthy() || right.Truthy())
	}
	return Nil
}

func (vm *VM) newInstance(classVal Value) (Value, error) {
	if !classVal.IsPointer() || classVal.AsPointer() == nil || classVal.AsPointer().Type != TypeClass {
		return Nil, vm.runtimeError(ErrInvalidArgument, "new requires a class value")
	}
	class := classVal.AsPointer().AsClass()
	inst := vm.allocInstance(class)
	for _, f := range class.Fields {
		if !f.static {
			inst.AsInstance().Fields.Set(f.symbol, f.init)
		}
	}
	return BoxPointer(inst), nil
}

// unwindTo pops frames down to targetLen and, if the host registered an
// error callback, emits a synthetic stack trace: BEGIN, one line per
// popped frame, then END.
func (vm *VM) unwindTo(targetLen int, cause error) {
	if vm.Config.Error == nil {
		vm.frames = vm.frames[:targetLen]
		return
	}
	code := ErrRuntime
	if verr, ok := cause.(*VMError); ok {
		code = verr.Code
	}
	vm.reportError(ErrStackTraceBegin, "")
	for i := len(vm.frames) - 1; i >= targetLen; i-- {
		f := vm.frames[i]
		name := "<native>"
		line := int32(0)
		if f.fn != nil {
			name = f.fn.Name
			if f.ip < len(f.fn.Lines) {
				line = f.fn.Lines[f.ip]
			}
		} else if f.nativeFn != nil {
			name = f.nativeFn.Name
		}
		vm.reportError(ErrStackTraceFrame, fmt.Sprintf("frame %d, line %d, function %s", i, line, name))
	}
	vm.reportError(ErrStackTraceEnd, "")
	vm.reportError(code, cause.Error())
	vm.frames = vm.frames[:targetLen]
}
