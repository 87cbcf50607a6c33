package vole

import "fmt"

// CompileError is one parser diagnostic: unexpected token, undeclared
// identifier, duplicate declaration, or invalid base class. The parser
// records these and continues (skipping to the next semicolon or
// end-of-program) so a single compilation can surface multiple
// diagnostics.
type CompileError struct {
	Line    int32
	Message string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

func newCompileError(line int32, format string, args ...any) *CompileError {
	return &CompileError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// CompileErrors aggregates every diagnostic from one parse, so a host can
// report them all rather than only the first.
type CompileErrors struct {
	Errors []*CompileError
}

func (e *CompileErrors) Error() string {
	if len(e.Errors) == 0 {
		return "compile error"
	}
	msg := e.Errors[0].Error()
	if len(e.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(e.Errors)-1)
	}
	return msg
}
