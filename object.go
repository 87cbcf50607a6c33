package vole

import "fmt"

// ObjType tags the variant of a heap Object.
type ObjType uint8

const (
	TypeString ObjType = iota
	TypeModule
	TypeClass
	TypeInstance
	TypeFunction
	TypeNativeFunction
	TypeReference
	TypeWeakReference
)

func (t ObjType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeModule:
		return "module"
	case TypeClass:
		return "class"
	case TypeInstance:
		return "instance"
	case TypeFunction:
		return "function"
	case TypeNativeFunction:
		return "native function"
	case TypeReference:
		return "reference"
	case TypeWeakReference:
		return "weak reference"
	default:
		return "unknown"
	}
}

// mark states for the GC. markFinalized is a third state, distinct from
// markWhite/markBlack, that sweep gives to garbage it has queued for
// finalization. No code reads it back: runFinalizers unlinks every queued
// object within the same collection, so no later sweep sees it again.
const (
	markWhite     byte = 0
	markBlack     byte = 1
	markFinalized byte = 2
)

// Object is the uniform header every heap allocation begins with: a type
// tag, a one-byte GC mark, and an intrusive "next" pointer linking every
// live object into a single list owned by the VM. The variant payload
// follows inline in one of the Obj* structs below, which all embed Object
// as their first field so a *Object and a *ObjString (etc.) share address.
type Object struct {
	Type ObjType
	Mark byte
	Next *Object

	// size is the allocation's byte size as reported at creation, used by
	// the GC to keep bytesAllocated accurate on free.
	size int
}

// ObjString is an owned, immutable byte buffer with a cached FNV-1a hash.
type ObjString struct {
	Object
	Value string
	Hash  uint64
}

// ObjModule is a named variable scope: an ordered symbol-id -> slot mapping
// plus an embedded top-level function that initializes it.
type ObjModule struct {
	Object
	Name      string
	Variables []Value // sparse, indexed by symbol id
	Init      *ObjFunction
}

// methodSlot binds a symbol id to either an instance method or a static
// member, mirroring the class's sparse symbol-indexed layout.
type methodSlot struct {
	present bool
	static  bool
	value   Value
}

// fieldInit is one class field initializer, evaluated in order when `new`
// constructs an instance.
type fieldInit struct {
	symbol int
	static bool
	init   Value // a constant expression value, copied in by NEW_CLZ
}

// ObjClass describes a class: optional base, owning module, a symbol-
// indexed method/static table, and ordered field initializers.
type ObjClass struct {
	Object
	Name          string
	Base          *ObjClass
	Module        *ObjModule
	Methods       []methodSlot // indexed by symbol id
	Fields        []fieldInit
	StaticFields  []Value // indexed by symbol id, for static var storage
	ExtraDataSize int
	Finalizer     NativeFinalizer
}

// NativeFinalizer is a host-provided function invoked once by the GC when an
// instance, reference, or bound native function becomes unreachable.
type NativeFinalizer func(userData any, extraData []byte)

// LookupMethod walks the base-class chain and returns the first present
// entry for symbol; LOAD_SYMBOL's class-chain fallthrough.
func (c *ObjClass) LookupMethod(symbol int) (Value, bool) {
	for cl := c; cl != nil; cl = cl.Base {
		if symbol < len(cl.Methods) && cl.Methods[symbol].present {
			return cl.Methods[symbol].value, true
		}
	}
	return Nil, false
}

func (c *ObjClass) setMethod(symbol int, v Value, static bool) {
	if symbol >= len(c.Methods) {
		grown := make([]methodSlot, symbol+1)
		copy(grown, c.Methods)
		c.Methods = grown
	}
	c.Methods[symbol] = methodSlot{present: true, static: static, value: v}
}

// ObjInstance is a class instance: a symbol-id -> value field map plus
// inline extra-data bytes reserved by the class.
type ObjInstance struct {
	Object
	Class     *ObjClass
	Fields    *SymbolMap
	ExtraData []byte
}

// ObjFunction is an immutable scripted function: owning module, constant
// pool, instruction array, and a parallel code-to-line table.
type ObjFunction struct {
	Object
	Module           *ObjModule
	Name             string
	Arity            int // -1 means variadic
	Constants        []Value
	Code             []Instruction
	Lines            []int32
	NeededStackSpace int
}

// NativeFn is the host function pointer signature bound through the
// embedding API; args is the stack window [0, argc).
type NativeFn func(vm *VM, args []Value) (Value, error)

// ObjNativeFn is a host-bound native function: function pointer, arity, N
// static slots, and inline extra-data bytes.
type ObjNativeFn struct {
	Object
	Name      string
	Fn        NativeFn
	Arity     int
	Statics   []Value
	ExtraData []byte
	Class     *ObjClass // non-nil when bound as a class method, for dtor routing
}

// ObjReference is a host-owned "instance without a field map": optional
// class pointer plus inline extra-data bytes, finalized via the class's
// finalizer.
type ObjReference struct {
	Object
	Class     *ObjClass
	ExtraData []byte
}

// ObjWeakReference never keeps its target alive; the GC never traces Target.
type ObjWeakReference struct {
	Object
	Class  *ObjClass
	Target uintptr // raw host pointer, opaque to the GC
}

func (o *Object) AsString() *ObjString           { return (*ObjString)(unsafePtrCast(o)) }
func (o *Object) AsModule() *ObjModule           { return (*ObjModule)(unsafePtrCast(o)) }
func (o *Object) AsClass() *ObjClass             { return (*ObjClass)(unsafePtrCast(o)) }
func (o *Object) AsInstance() *ObjInstance       { return (*ObjInstance)(unsafePtrCast(o)) }
func (o *Object) AsFunction() *ObjFunction       { return (*ObjFunction)(unsafePtrCast(o)) }
func (o *Object) AsNativeFn() *ObjNativeFn       { return (*ObjNativeFn)(unsafePtrCast(o)) }
func (o *Object) AsReference() *ObjReference     { return (*ObjReference)(unsafePtrCast(o)) }
func (o *Object) AsWeakReference() *ObjWeakReference {
	return (*ObjWeakReference)(unsafePtrCast(o))
}

// DisplayString renders an object for printing and string-concatenation
// ADD.
func (o *Object) DisplayString() string {
	switch o.Type {
	case TypeString:
		return o.AsString().Value
	case TypeModule:
		return fmt.Sprintf("<module %s>", o.AsModule().Name)
	case TypeClass:
		return fmt.Sprintf("<class %s>", o.AsClass().Name)
	case TypeInstance:
		return fmt.Sprintf("<instance of %s>", o.AsInstance().Class.Name)
	case TypeFunction:
		return fmt.Sprintf("<function %s>", o.AsFunction().Name)
	case TypeNativeFunction:
		return fmt.Sprintf("<native function %s>", o.AsNativeFn().Name)
	case TypeReference:
		return "<reference>"
	case TypeWeakReference:
		return "<weak reference>"
	default:
		return "<object>"
	}
}
