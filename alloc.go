package vole

// This file centralizes every heap allocation so each one routes through
// vm.linkObject (GC list + byte accounting) exactly once.

func approxSize(n int) int { return n + 32 } // header + slack, for accounting only

func (vm *VM) allocString(s string) *Object {
	obj := &ObjString{Value: s, Hash: fnv1a64(s)}
	obj.Type = TypeString
	return vm.linkObject(&obj.Object, approxSize(len(s)))
}

// newStringValue is the convenience entry point used by the VM's ADD
// concatenation path and by native functions constructing strings.
func (vm *VM) newStringValue(s string) Value {
	return BoxPointer(vm.allocString(s))
}

func (vm *VM) allocModule(name string) *ObjModule {
	obj := &ObjModule{Name: name}
	obj.Type = TypeModule
	vm.linkObject(&obj.Object, approxSize(64))
	return obj
}

func (vm *VM) allocClass(name string, base *ObjClass, module *ObjModule) *ObjClass {
	obj := &ObjClass{Name: name, Base: base, Module: module}
	obj.Type = TypeClass
	vm.linkObject(&obj.Object, approxSize(64))
	return obj
}

func (vm *VM) allocInstance(class *ObjClass) *Object {
	obj := &ObjInstance{Class: class, Fields: NewSymbolMap()}
	obj.Type = TypeInstance
	if class != nil && class.ExtraDataSize > 0 {
		obj.ExtraData = make([]byte, class.ExtraDataSize)
	}
	return vm.linkObject(&obj.Object, approxSize(64+class.extraDataSizeOrZero()))
}

func (c *ObjClass) extraDataSizeOrZero() int {
	if c == nil {
		return 0
	}
	return c.ExtraDataSize
}

func (vm *VM) allocFunction(module *ObjModule, name string, arity int) *ObjFunction {
	obj := &ObjFunction{Module: module, Name: name, Arity: arity}
	obj.Type = TypeFunction
	vm.linkObject(&obj.Object, approxSize(128))
	return obj
}

func (vm *VM) allocNativeFn(name string, fn NativeFn, arity, staticSlots, extraData int) *ObjNativeFn {
	obj := &ObjNativeFn{Name: name, Fn: fn, Arity: arity}
	if staticSlots > 0 {
		obj.Statics = make([]Value, staticSlots)
		for i := range obj.Statics {
			obj.Statics[i] = Nil
		}
	}
	if extraData > 0 {
		obj.ExtraData = make([]byte, extraData)
	}
	obj.Type = TypeNativeFunction
	vm.linkObject(&obj.Object, approxSize(64+extraData))
	return obj
}

func (vm *VM) allocReference(class *ObjClass, extraData int) *ObjReference {
	obj := &ObjReference{Class: class}
	if extraData > 0 {
		obj.ExtraData = make([]byte, extraData)
	}
	obj.Type = TypeReference
	vm.linkObject(&obj.Object, approxSize(32+extraData))
	return obj
}

func (vm *VM) allocWeakReference(class *ObjClass, target uintptr) *ObjWeakReference {
	obj := &ObjWeakReference{Class: class, Target: target}
	obj.Type = TypeWeakReference
	vm.linkObject(&obj.Object, approxSize(32))
	return obj
}
