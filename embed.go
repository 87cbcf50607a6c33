package vole

// embed.go is the host-facing half of the embedding API: the operand
// stack addressed by small indices, reference creation, and native-class
// binding. The module API (make/load/unload/execute-in-module) lives in
// module.go; handles live in handles.go.

// stackBase returns the base a host-visible stack index is relative to: the
// current native call's locals base while a native function is executing
// (so it sees exactly the window [0, argc) the calling CALL_FN built), or
// vm.stackTop otherwise (a host call between script invocations).
func (vm *VM) stackBase() int {
	if n := len(vm.frames); n > 0 && vm.frames[n-1].nativeFn != nil {
		return vm.frames[n-1].localsBase
	}
	return vm.stackTop
}

// StackResize ensures n addressable slots above the current base exist,
// nil-filled.
func (vm *VM) StackResize(n int) {
	vm.ensureStackCapacity(vm.stackBase() + n)
}

func (vm *VM) slotIndex(idx int) int { return vm.stackBase() + idx }

// StackSetNumber writes a float64 into slot idx.
func (vm *VM) StackSetNumber(idx int, f float64) {
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), BoxNumber(f))
}

// StackSetBool writes a boolean into slot idx.
func (vm *VM) StackSetBool(idx int, b bool) {
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), BoxBool(b))
}

// StackSetNil writes nil into slot idx.
func (vm *VM) StackSetNil(idx int) {
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), Nil)
}

// StackSetString allocates a string object and writes it into slot idx.
func (vm *VM) StackSetString(idx int, s string) {
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), vm.newStringValue(s))
}

// StackGetNumber reads slot idx as a float64; ok is false if it does not
// hold a number.
func (vm *VM) StackGetNumber(idx int) (f float64, ok bool) {
	v := vm.stack.Get(vm.slotIndex(idx))
	if !v.IsNumber() {
		return 0, false
	}
	return v.AsNumber(), true
}

// StackGetBool reads slot idx as a boolean; ok is false if it is neither
// true nor false.
func (vm *VM) StackGetBool(idx int) (b bool, ok bool) {
	v := vm.stack.Get(vm.slotIndex(idx))
	switch {
	case v.IsTrue():
		return true, true
	case v.IsFalse():
		return false, true
	default:
		return false, false
	}
}

// StackGetString reads slot idx as a string's contents; ok is false if it
// does not hold a string object.
func (vm *VM) StackGetString(idx int) (s string, ok bool) {
	v := vm.stack.Get(vm.slotIndex(idx))
	if !isStringValue(v) {
		return "", false
	}
	return v.AsPointer().AsString().Value, true
}

// StackGetInstance reads slot idx as an instance and returns its inline
// extra-data bytes; ok is false if it does not hold an instance.
func (vm *VM) StackGetInstance(idx int) (extraData []byte, ok bool) {
	v := vm.stack.Get(vm.slotIndex(idx))
	if !v.IsPointer() || v.AsPointer() == nil || v.AsPointer().Type != TypeInstance {
		return nil, false
	}
	return v.AsPointer().AsInstance().ExtraData, true
}

// StackGetType reports the Kind of the value in slot idx, for a host that
// wants to dynamically branch on argument shape.
func (vm *VM) StackGetType(idx int) Kind {
	return vm.stack.Get(vm.slotIndex(idx)).Kind()
}

// StackArity returns the declared arity of the native function currently
// executing, or 0 if none is. A variadic native gets -1 here; the number of
// arguments it actually received is the length of its args slice.
func (vm *VM) StackArity() int {
	if vm.currentNativeFn == nil {
		return 0
	}
	return vm.currentNativeFn.Arity
}

// MakeHandle roots the value currently in stack slot idx so it survives
// across API calls until DestroyHandle is called.
func (vm *VM) MakeHandle(idx int) HandleID {
	return vm.handles.make(vm.stack.Get(vm.slotIndex(idx)))
}

// LoadHandle writes a handle's rooted value into stack slot idx; ok is
// false if the handle id is unknown (already destroyed, or never issued).
func (vm *VM) LoadHandle(id HandleID, idx int) bool {
	v, ok := vm.handles.get(id)
	if !ok {
		return false
	}
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), v)
	return true
}

// DestroyHandle releases a handle; the value it rooted becomes collectible
// on the next GC cycle if nothing else reaches it.
func (vm *VM) DestroyHandle(id HandleID) bool {
	return vm.handles.destroy(id)
}

// MakeReference creates a host-owned reference: an instance without a
// field map, carrying extraData inline bytes. The class may be nil; when it
// is not, the class's finalizer (if any) runs when the reference is
// collected. The reference is written into stack slot idx so the host can
// immediately take a handle to it.
func (vm *VM) MakeReference(class *ObjClass, extraData int, idx int) *ObjReference {
	ref := vm.allocReference(class, extraData)
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), BoxPointer(&ref.Object))
	return ref
}

// MakeWeakReference creates a weak reference to host memory: the GC traces
// the class (if any) but never the target pointer, and the reference never
// keeps host state alive.
func (vm *VM) MakeWeakReference(class *ObjClass, target uintptr, idx int) *ObjWeakReference {
	wr := vm.allocWeakReference(class, target)
	vm.StackResize(idx + 1)
	vm.stack.Set(vm.slotIndex(idx), BoxPointer(&wr.Object))
	return wr
}

// MethodBinding describes one native method exposed on a bound class: its
// name, host function pointer, declared arity (-1 variadic), static-slot
// count, and per-instance extra-data size.
type MethodBinding struct {
	Name        string
	Fn          NativeFn
	Arity       int
	StaticSlots int
	ExtraData   int
}

// ClassBinding names a class, declares the extra-data size per instance,
// lists its methods, and an optional host-C finalizer invoked by the GC
// before an instance is freed. ctor/dtor/call are ordinary method names
// here; the VM resolves them to the reserved symbol ids assigned at VM
// startup (symtab.go) when binding.
type ClassBinding struct {
	Name          string
	ExtraDataSize int
	Methods       []MethodBinding
	Finalizer     NativeFinalizer
}

// BindClass registers a native class in mod under the given binding,
// exposing it to script code as an ordinary class value (so `new Native()`
// and method-call syntax work unmodified) with every method backed by Go
// code instead of compiled bytecode.
func (vm *VM) BindClass(mod *ObjModule, binding ClassBinding) (*ObjClass, error) {
	class := vm.allocClass(binding.Name, nil, mod)
	class.ExtraDataSize = binding.ExtraDataSize
	class.Finalizer = binding.Finalizer

	for _, m := range binding.Methods {
		symbol := vm.symbols.Intern(m.Name)
		nf := vm.allocNativeFn(m.Name, m.Fn, m.Arity, m.StaticSlots, m.ExtraData)
		nf.Class = class
		class.setMethod(symbol, BoxPointer(&nf.Object), false)
	}

	symbol := vm.symbols.Intern(binding.Name)
	vm.setModuleVar(mod, symbol, binding.Name, BoxPointer(&class.Object))
	return class, nil
}
