package vole

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	mapset "github.com/deckarep/golang-set"
	lru "github.com/hashicorp/golang-lru"
)

// compiledCache is a bounded cache of already-executed module source, keyed
// by a hash of (module name, source text). It lets a host that re-runs the
// same hot snippet (a common embedding pattern) skip the lexer/parser/
// builder pipeline on the repeat.
type compiledCache struct {
	cache *lru.Cache
}

func newCompiledCache(size int) *compiledCache {
	c, err := lru.New(size)
	if err != nil {
		// size is always a positive compile-time constant; New only fails
		// for size <= 0.
		panic(err)
	}
	return &compiledCache{cache: c}
}

func sourceCacheKey(name string, src []byte) string {
	sum := sha256.Sum256(src)
	return name + "#" + hex.EncodeToString(sum[:])
}

func (c *compiledCache) lookup(key string) (*ObjModule, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*ObjModule), true
}

func (c *compiledCache) store(key string, mod *ObjModule) {
	c.cache.Add(key, mod)
}

// MakeModule creates an empty named module and registers it. It fails if a
// module of that name already exists.
func (vm *VM) MakeModule(name string) (*ObjModule, error) {
	if _, exists := vm.modules[name]; exists {
		return nil, newVMError(ErrModuleAlreadyDefined, "module %q already exists", name)
	}
	mod := vm.allocModule(name)
	vm.modules[name] = mod
	return mod, nil
}

// GetModule looks a module up in the registry by name.
func (vm *VM) GetModule(name string) (*ObjModule, error) {
	mod, ok := vm.modules[name]
	if !ok {
		return nil, newVMError(ErrModuleNotFound, "module %q not found", name)
	}
	return mod, nil
}

// UnloadModule removes a module from the registry; the GC reclaims it once
// nothing else references it.
func (vm *VM) UnloadModule(name string) error {
	if _, ok := vm.modules[name]; !ok {
		return newVMError(ErrModuleNotFound, "module %q not found", name)
	}
	delete(vm.modules, name)
	return nil
}

// UnloadAllModules clears the entire module registry.
func (vm *VM) UnloadAllModules() {
	vm.modules = make(map[string]*ObjModule)
}

// ModuleVariable reads a module-level variable by name, for hosts that need
// to read a top-level script variable back after ExecuteInModule returns.
func (vm *VM) ModuleVariable(mod *ObjModule, name string) (Value, bool) {
	id, ok := vm.symbols.Lookup(name)
	if !ok || id >= len(mod.Variables) {
		return Nil, false
	}
	return mod.Variables[id], true
}

// anonymousModuleSeq names modules created by ExecuteInModule with an empty
// name, so each gets a distinct registry entry instead of colliding.
var anonymousModuleSeq int

// ExecuteInModule compiles and runs source text in a named (or, if name=="",
// freshly generated anonymous) module. On success the resulting module ends
// up in stack slot 0.
func (vm *VM) ExecuteInModule(name string, src []byte) (*ObjModule, error) {
	if name == "" {
		anonymousModuleSeq++
		name = fmt.Sprintf("<anonymous %d>", anonymousModuleSeq)
	}

	key := sourceCacheKey(name, src)
	if cached, ok := vm.compiledCache.lookup(key); ok {
		if err := vm.runModuleInit(cached); err != nil {
			return nil, err
		}
		vm.ensureStackCapacity(1)
		vm.stack.Set(0, BoxPointer(&cached.Object))
		if vm.stackTop < 1 {
			vm.stackTop = 1
		}
		return cached, nil
	}

	mod, ok := vm.modules[name]
	if !ok {
		mod = vm.allocModule(name)
		vm.modules[name] = mod
	}

	inProgress := mapset.NewSet()
	inProgress.Add(name)
	if errs := vm.compile(mod, src, inProgress); len(errs) > 0 {
		for _, ce := range errs {
			vm.reportError(ErrCompile, ce.Error())
		}
		return nil, &CompileErrors{Errors: errs}
	}

	if err := vm.runModuleInit(mod); err != nil {
		return nil, err
	}

	vm.compiledCache.store(key, mod)
	vm.ensureStackCapacity(1)
	vm.stack.Set(0, BoxPointer(&mod.Object))
	if vm.stackTop < 1 {
		vm.stackTop = 1
	}
	return mod, nil
}

func (vm *VM) runModuleInit(mod *ObjModule) error {
	if mod.Init == nil {
		return nil
	}
	_, err := vm.Call(BoxPointer(&mod.Init.Object), nil)
	return err
}

// resolveImport loads (compiling if necessary) the module named by an
// `import` statement, guarding against import cycles with inProgress, which
// tracks every module currently mid-compile on this call chain.
func (vm *VM) resolveImport(name string, inProgress mapset.Set) (*ObjModule, error) {
	if inProgress.Contains(name) {
		return nil, newCompileError(0, "import cycle detected at module %q", name)
	}
	if mod, ok := vm.modules[name]; ok {
		return mod, nil
	}
	if vm.Config.LoadModule == nil {
		return nil, newCompileError(0, "no module-load callback configured, cannot import %q", name)
	}
	src, ok := vm.Config.LoadModule(vm.Config.UserData, name)
	if !ok {
		return nil, newCompileError(0, "module %q not found", name)
	}
	mod := vm.allocModule(name)
	vm.modules[name] = mod

	inProgress.Add(name)
	defer inProgress.Remove(name)

	if errs := vm.compile(mod, []byte(src), inProgress); len(errs) > 0 {
		delete(vm.modules, name)
		return nil, &CompileErrors{Errors: errs}
	}
	if err := vm.runModuleInit(mod); err != nil {
		return nil, err
	}
	return mod, nil
}

// StdlibMask selects which standard-library modules LoadStandardModules
// binds.
type StdlibMask uint

const (
	StdlibIO StdlibMask = 1 << iota
)

// LoadStandardModules binds the requested standard-library modules. Only
// "std:io" (print, via the host Print callback) exists today.
func (vm *VM) LoadStandardModules(mask StdlibMask) error {
	if mask&StdlibIO != 0 {
		if _, exists := vm.modules["std:io"]; !exists {
			if err := vm.bindIOModule(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (vm *VM) bindIOModule() error {
	mod, err := vm.MakeModule("std:io")
	if err != nil {
		return err
	}
	printSym := vm.symbols.Intern("print")
	nf := vm.allocNativeFn("print", vm.nativePrint, -1, 0, 0)
	vm.setModuleVar(mod, printSym, "print", BoxPointer(&nf.Object))
	return nil
}

func (vm *VM) nativePrint(callVM *VM, args []Value) (Value, error) {
	line := newGrowableString("")
	for i, a := range args {
		if i > 0 {
			line.Append(" ")
		}
		line.Append(a.String())
	}
	line.Append("\n")
	if callVM.Config.Print != nil {
		callVM.Config.Print(callVM.Config.UserData, line.String())
	}
	return Nil, nil
}

// setModuleVar writes a named variable directly into a module's sparse
// symbol-indexed slot array, growing it as needed and filling gaps with
// nil. name is already interned as symbol in the VM's SymbolTable, so
// ModuleVariable can recover it later without a parallel name array.
func (vm *VM) setModuleVar(mod *ObjModule, symbol int, name string, v Value) {
	for symbol >= len(mod.Variables) {
		mod.Variables = append(mod.Variables, Nil)
	}
	mod.Variables[symbol] = v
}
