package vole

// tempRootCapacity is the temp-root stack size. Eight slots with LIFO
// discipline covers the longest allocate-then-link window in the runtime.
const tempRootCapacity = 8

// gcState holds everything the mark-and-sweep collector needs: the VM's
// live object list, byte accounting, and the root-discovery state (temp
// roots, finalization queue). It is embedded directly in VM rather than
// split out; collection is intrinsic VM state, not a detachable subsystem.
type gcState struct {
	heapHead       *Object
	bytesAllocated int
	heapSize       int
	running        bool

	tempRoots   [tempRootCapacity]*Object
	tempRootTop int

	finalizeQueue []*Object
}

func newGCState(cfg Config) gcState {
	return gcState{heapSize: cfg.InitialHeapSize}
}

// accountAlloc bumps the tracked byte count and, if the host supplied a
// custom allocator, notifies it for bookkeeping purposes (see config.go;
// Go-GC-traced objects are allocated normally by `new`/composite literal,
// never handed to the raw callback — only the size accounting crosses the
// callback boundary).
func (vm *VM) accountAlloc(size int) {
	vm.gc.bytesAllocated += size
	if vm.Config.Alloc != nil {
		vm.Config.Alloc(vm.Config.UserData, nil, 0, size)
	}
}

func (vm *VM) accountFree(size int) {
	vm.gc.bytesAllocated -= size
	if vm.Config.Alloc != nil {
		vm.Config.Alloc(vm.Config.UserData, nil, size, 0)
	}
}

// linkObject pushes a freshly allocated object onto the VM's intrusive
// live-object list and accounts its size. Every allocation helper in
// object construction (allocString, newInstance, ...) must route through
// this so the GC can eventually find and free it.
func (vm *VM) linkObject(o *Object, size int) *Object {
	// Check the threshold against bytes already allocated, before this
	// object exists on the heap list. Collecting after linking would let a
	// single allocation that crosses the threshold sweep its own object,
	// since nothing roots it yet at that point.
	if vm.gc.bytesAllocated+size >= vm.gc.heapSize && !vm.gc.running {
		vm.Collect()
	}
	o.Mark = markWhite
	o.size = size
	o.Next = vm.gc.heapHead
	vm.gc.heapHead = o
	vm.accountAlloc(size)
	return o
}

// PushTempRoot pins obj against collection for a short LIFO window between
// allocating it and linking it into a reachable structure.
func (vm *VM) PushTempRoot(o *Object) {
	if vm.gc.tempRootTop >= tempRootCapacity {
		panic("vole: temp-root stack overflow")
	}
	vm.gc.tempRoots[vm.gc.tempRootTop] = o
	vm.gc.tempRootTop++
}

// PopTempRoot releases the most recently pushed temp root.
func (vm *VM) PopTempRoot() {
	if vm.gc.tempRootTop == 0 {
		panic("vole: temp-root stack underflow")
	}
	vm.gc.tempRootTop--
	vm.gc.tempRoots[vm.gc.tempRootTop] = nil
}

// Collect runs one stop-the-world mark-and-sweep cycle with deferred
// finalization. It is a no-op re-entrant guard: collection never runs
// while gc.running is already set (e.g. during a native finalizer or an
// internal allocation sequence).
func (vm *VM) Collect() {
	if vm.gc.running {
		return
	}
	vm.gc.running = true
	defer func() { vm.gc.running = false }()

	vm.markRoots()
	vm.sweep()
	vm.runFinalizers()

	threshold := int(float64(vm.gc.bytesAllocated) * (1 + vm.Config.GrowthFactor))
	if threshold < vm.Config.MinHeapSize {
		threshold = vm.Config.MinHeapSize
	}
	vm.gc.heapSize = threshold
}

func (vm *VM) markRoots() {
	// 1. Operand stack up to stackTop.
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack.Get(i))
	}
	// 2. Function pointers on the call-frame stack.
	for _, f := range vm.frames {
		if f.fn != nil {
			vm.markObject(&f.fn.Object)
		}
	}
	// 3. Modules map: keys are plain strings, values are objects.
	for _, m := range vm.modules {
		vm.markObject(&m.Object)
	}
	// 4. Handle list.
	vm.handles.each(func(v Value) { vm.markValue(v) })
	// 5. Active parsers: current module, current class, builder constants.
	for _, p := range vm.activeParsers {
		p.markRoots(vm)
	}
	// 6. Temp-root stack.
	for i := 0; i < vm.gc.tempRootTop; i++ {
		if vm.gc.tempRoots[i] != nil {
			vm.markObject(vm.gc.tempRoots[i])
		}
	}
}

func (vm *VM) markValue(v Value) {
	if v.IsPointer() {
		if o := v.AsPointer(); o != nil {
			vm.markObject(o)
		}
	}
}

// markObject writes mark=black onto an object not yet visited, then
// recursively marks its referents, variant by variant.
func (vm *VM) markObject(o *Object) {
	if o == nil || o.Mark == markBlack {
		return
	}
	o.Mark = markBlack
	switch o.Type {
	case TypeModule:
		mod := o.AsModule()
		for _, v := range mod.Variables {
			vm.markValue(v)
		}
		if mod.Init != nil {
			vm.markObject(&mod.Init.Object)
		}
	case TypeClass:
		cl := o.AsClass()
		if cl.Base != nil {
			vm.markObject(&cl.Base.Object)
		}
		if cl.Module != nil {
			vm.markObject(&cl.Module.Object)
		}
		for _, m := range cl.Methods {
			if m.present {
				vm.markValue(m.value)
			}
		}
		for _, f := range cl.Fields {
			vm.markValue(f.init)
		}
		for _, v := range cl.StaticFields {
			vm.markValue(v)
		}
	case TypeInstance:
		inst := o.AsInstance()
		if inst.Class != nil {
			vm.markObject(&inst.Class.Object)
		}
		if inst.Fields != nil {
			inst.Fields.Each(func(_ int, v Value) { vm.markValue(v) })
		}
	case TypeFunction:
		fn := o.AsFunction()
		for _, c := range fn.Constants {
			vm.markValue(c)
		}
		if fn.Module != nil {
			vm.markObject(&fn.Module.Object)
		}
	case TypeNativeFunction:
		nf := o.AsNativeFn()
		for _, s := range nf.Statics {
			vm.markValue(s)
		}
		if nf.Class != nil {
			vm.markObject(&nf.Class.Object)
		}
	case TypeReference:
		ref := o.AsReference()
		if ref.Class != nil {
			vm.markObject(&ref.Class.Object)
		}
	case TypeWeakReference:
		wr := o.AsWeakReference()
		// The referenced host pointer is never traced; only the class is.
		if wr.Class != nil {
			vm.markObject(&wr.Class.Object)
		}
	case TypeString:
		// no child references
	}
}

// sweep walks the live-object list, splitting unmarked objects into
// garbage. Unmarked objects for which hasFinalizer reports true (their class
// has a script-level dtor or a host finalizer) are re-marked markFinalized
// and queued instead of freed immediately; everything else unmarked is freed
// now. Marked survivors have their marks reset to white.
func (vm *VM) sweep() {
	var survivors *Object
	var freed []*Object

	for o := vm.gc.heapHead; o != nil; {
		next := o.Next
		if o.Mark == markBlack {
			o.Mark = markWhite
			o.Next = survivors
			survivors = o
		} else if vm.hasFinalizer(o) {
			o.Mark = markFinalized
			o.Next = survivors
			survivors = o
			vm.gc.finalizeQueue = append(vm.gc.finalizeQueue, o)
		} else {
			freed = append(freed, o)
		}
		o = next
	}
	vm.gc.heapHead = survivors
	for _, o := range freed {
		vm.accountFree(o.size)
	}
}

// hasFinalizer reports whether o needs the deferred-finalization path: its
// class defines a script-level dtor method, a host finalizer, or both (the
// host finalizer is optional either way).
func (vm *VM) hasFinalizer(o *Object) bool {
	var cl *ObjClass
	switch o.Type {
	case TypeInstance:
		cl = o.AsInstance().Class
	case TypeReference:
		cl = o.AsReference().Class
	case TypeNativeFunction:
		cl = o.AsNativeFn().Class
	default:
		return false
	}
	if cl == nil {
		return false
	}
	if cl.Finalizer != nil {
		return true
	}
	_, ok := cl.LookupMethod(SymIDDtor)
	return ok
}

// runFinalizers drains the finalization queue, invoking each object's
// host-C finalizer (best effort, reentrancy suppressed since gc.running is
// still set by the caller) and then actually freeing the object. A
// finalizer never runs twice for the same object because sweep only
// enqueues an object once, and once freed it is unlinked from heapHead.
func (vm *VM) runFinalizers() {
	queue := vm.gc.finalizeQueue
	vm.gc.finalizeQueue = nil
	for _, o := range queue {
		var extra []byte
		var class *ObjClass
		switch o.Type {
		case TypeInstance:
			inst := o.AsInstance()
			extra, class = inst.ExtraData, inst.Class
		case TypeReference:
			ref := o.AsReference()
			extra, class = ref.ExtraData, ref.Class
		case TypeNativeFunction:
			nf := o.AsNativeFn()
			extra, class = nf.ExtraData, nf.Class
		}
		if class != nil && class.Finalizer != nil {
			class.Finalizer(vm.Config.UserData, extra)
		}
		if class != nil {
			if dtor, ok := class.LookupMethod(SymIDDtor); ok {
				selfVal := BoxPointer(o)
				vm.Call(dtor, []Value{selfVal})
			}
		}
		vm.unlinkObject(o)
	}
}

func (vm *VM) unlinkObject(target *Object) {
	if vm.gc.heapHead == target {
		vm.gc.heapHead = target.Next
		vm.accountFree(target.size)
		return
	}
	for o := vm.gc.heapHead; o != nil; o = o.Next {
		if o.Next == target {
			o.Next = target.Next
			vm.accountFree(target.size)
			return
		}
	}
}
