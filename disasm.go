package vole

import (
	"fmt"
	"strings"

	"github.com/volelang/vole/ascii"
)

// FormatFunc applies color to a rendered token: plain text for
// PrettyString, themed ANSI escapes for HighlightPrettyString.
type FormatFunc func(text string, theme string) string

// disasmTheme maps one rendered field to the ascii.Theme color it uses.
var disasmTheme = ascii.DefaultTheme

// PrettyString renders fn's bytecode as plain, uncolored assembly text,
// one instruction per line, annotated with its source line number.
func (fn *ObjFunction) PrettyString() string {
	return fn.prettyString(func(text, _ string) string { return text })
}

// HighlightPrettyString renders the same text with ANSI colors, for a
// host's interactive debugger or REPL.
func (fn *ObjFunction) HighlightPrettyString() string {
	return fn.prettyString(func(text, color string) string {
		if color == "" {
			return text
		}
		return ascii.Color(color, "%s", text)
	})
}

func (fn *ObjFunction) prettyString(format FormatFunc) string {
	var s strings.Builder
	s.WriteString(format(fmt.Sprintf("function %s/%d\n", fn.Name, fn.Arity), disasmTheme.Accent))
	for ip, instr := range fn.Code {
		line := int32(0)
		if ip < len(fn.Lines) {
			line = fn.Lines[ip]
		}
		s.WriteString(format(fmt.Sprintf("%06d", ip), disasmTheme.Comment))
		s.WriteString("  ")
		if instr.IsBreakSentinel() {
			s.WriteString(format("<unpatched break>", disasmTheme.Label))
			s.WriteString("\n")
			continue
		}
		s.WriteString(format(instr.Opcode().String(), disasmTheme.Operator))
		s.WriteString(disasmOperands(instr, format))
		s.WriteString(format(fmt.Sprintf("  ; line %d", line), disasmTheme.Comment))
		s.WriteString("\n")
	}
	return s.String()
}

func disasmOperands(i Instruction, format FormatFunc) string {
	op := i.Opcode()
	switch op {
	case OpLoadBasic, OpStoreMove, OpNewClz, OpMathInv, OpNot, OpReturn:
		return format(fmt.Sprintf(" A=%d Bx=%d", i.A(), i.Bx()), disasmTheme.Operand)
	case OpJump:
		return format(fmt.Sprintf(" sBx=%d", i.SBx()), disasmTheme.Operand)
	case OpJumpIf, OpJumpIfNot:
		return format(fmt.Sprintf(" A=%d sBx=%d", i.A(), i.SBx()), disasmTheme.Operand)
	default:
		return format(fmt.Sprintf(" A=%d B=%d C=%d", i.A(), i.B(), i.C()), disasmTheme.Operand)
	}
}

// Disassemble renders every function transitively reachable from mod's
// init function and its constant pools, which is the practical unit a host
// debugger wants to dump after a compile.
func Disassemble(mod *ObjModule) string {
	var s strings.Builder
	seen := map[*ObjFunction]bool{}
	var walk func(fn *ObjFunction)
	walk = func(fn *ObjFunction) {
		if fn == nil || seen[fn] {
			return
		}
		seen[fn] = true
		s.WriteString(fn.PrettyString())
		for _, c := range fn.Constants {
			if c.IsPointer() {
				if o := c.AsPointer(); o != nil && o.Type == TypeFunction {
					walk(o.AsFunction())
				}
			}
		}
	}
	if mod != nil {
		walk(mod.Init)
	}
	return s.String()
}
