package vole

import "fmt"

// AllocFn is the host memory callback: called with oldSize==0 to allocate,
// newSize==0 to free (return value ignored), otherwise to resize. On
// failure to resize, the callback must free the old allocation and return
// nil. See gc.go for how a Go runtime honors this contract without handing
// Go-GC-traced memory to a raw allocator.
type AllocFn func(userData any, ptr any, oldSize, newSize int) any

// ErrorFn reports a compile or runtime error, including the synthetic
// stack-trace frames emitted during unwind (see vm.go unwind()).
type ErrorFn func(userData any, code ErrorCode, message string)

// PrintFn is the std:io print hook.
type PrintFn func(userData any, s string)

// ModuleLoadFn resolves a module name to source text. Returning ok==false
// surfaces as a compile error at the import site.
type ModuleLoadFn func(userData any, name string) (source string, ok bool)

// Config is the host parameter record a VM is created from.
type Config struct {
	Alloc      AllocFn
	Error      ErrorFn
	Print      PrintFn
	LoadModule ModuleLoadFn

	MinHeapSize     int
	InitialHeapSize int
	GrowthFactor    float64

	UserData any
}

// Defaults: 1 MiB minimum heap, 5 MiB initial heap, 0.5 growth factor, no
// allocator override (the VM's own Go-native bookkeeping allocator is
// used), all other callbacks nil.
const (
	DefaultMinHeapSize     = 1 << 20
	DefaultInitialHeapSize = 5 << 20
	DefaultGrowthFactor    = 0.5
)

func (c Config) withDefaults() Config {
	if c.MinHeapSize <= 0 {
		c.MinHeapSize = DefaultMinHeapSize
	}
	if c.InitialHeapSize <= 0 {
		c.InitialHeapSize = DefaultInitialHeapSize
	}
	if c.GrowthFactor <= 0 {
		c.GrowthFactor = DefaultGrowthFactor
	}
	return c
}

// ErrorCode is the flat error enumeration reported through ErrorFn and
// carried by VMError.
type ErrorCode int

const (
	ErrNone ErrorCode = iota
	ErrOutOfMemory
	ErrRuntime
	ErrLexer
	ErrCompile
	ErrFunctionArityMismatch
	ErrModuleAlreadyDefined
	ErrModuleNotFound
	ErrInvalidOpOnType
	ErrInvalidArgument

	// Stack-trace frame kinds, used only by the error callback.
	ErrStackTraceBegin
	ErrStackTraceFrame
	ErrStackTraceEnd
)

func (e ErrorCode) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrOutOfMemory:
		return "out-of-memory"
	case ErrRuntime:
		return "runtime"
	case ErrLexer:
		return "lexer"
	case ErrCompile:
		return "compile"
	case ErrFunctionArityMismatch:
		return "function-arity-mismatch"
	case ErrModuleAlreadyDefined:
		return "module-already-defined"
	case ErrModuleNotFound:
		return "module-not-found"
	case ErrInvalidOpOnType:
		return "invalid-op-on-type"
	case ErrInvalidArgument:
		return "invalid-argument"
	case ErrStackTraceBegin:
		return "stack-trace-begin"
	case ErrStackTraceFrame:
		return "stack-trace-frame"
	case ErrStackTraceEnd:
		return "stack-trace-end"
	default:
		return "unknown"
	}
}

// VMError is returned by any operation that fails with a specific error
// code, so callers (and cmd/vole) can branch on Code without string
// matching.
type VMError struct {
	Code    ErrorCode
	Message string
}

func (e *VMError) Error() string { return e.Message }

func newVMError(code ErrorCode, format string, args ...any) *VMError {
	return &VMError{Code: code, Message: fmt.Sprintf(format, args...)}
}
