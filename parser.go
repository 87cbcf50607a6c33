package vole

import (
	"fmt"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set"
)

// lvKind distinguishes the handful of assignable expression forms the
// grammar recognizes. Everything else (literals, binary results, plain
// calls) is lvNone and rejects a following '='.
type lvKind int

const (
	lvNone lvKind = iota
	lvLocal
	// lvSymbolic covers a module variable, an instance field, or a static
	// class field: all three are STORE_SYMBOL against an (objReg, symbol)
	// pair, since vm.storeSymbol already dispatches on the receiver's type.
	lvSymbolic
	// lvIndex is the `[]`/`[]=` operator-overload pair: assigning calls the
	// `[]=` method instead of emitting a primitive store.
	lvIndex
)

// lvalue records enough about the expression just compiled into dest to
// also emit an assignment to it, without recompiling the receiver.
type lvalue struct {
	kind   lvKind
	slot   int // lvLocal
	objReg int // lvSymbolic, lvIndex
	symbol int // lvSymbolic
	idxReg int // lvIndex
}

// Parser turns a module's source text into its compiled top-level function
// plus any classes and module variables it declares, one statement at a
// time, emitting directly into funcBuilders rather than building an AST:
// every expression compiles into a destination register handed down by its
// caller. Multiple parsers can be mid-compile at once (a module importing
// another module triggers a nested vm.compile call), so every one registers
// itself on vm.activeParsers for the GC to find live constants it is still
// holding.
type Parser struct {
	vm  *VM
	lex *Lexer
	buf []Token

	module   *ObjModule
	builders []*funcBuilder

	currentClass *ObjClass
	classes      map[string]*ObjClass

	inProgress mapset.Set
	errors     []*CompileError
}

const maxCompileErrors = 200

func (p *Parser) fill(n int) {
	for len(p.buf) < n {
		p.buf = append(p.buf, p.lex.Next())
	}
}

func (p *Parser) peek() Token {
	p.fill(1)
	return p.buf[0]
}

func (p *Parser) advance() Token {
	p.fill(1)
	t := p.buf[0]
	p.buf = p.buf[1:]
	return t
}

func (p *Parser) check(tt TokenType) bool { return p.peek().Type == tt }

func (p *Parser) match(tt TokenType) bool {
	if p.check(tt) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expect(tt TokenType, what string) (Token, bool) {
	if p.check(tt) {
		return p.advance(), true
	}
	p.errorAt(p.peek(), "expected %s, found %q", what, p.peek().Text)
	return Token{}, false
}

func (p *Parser) errorAt(tok Token, format string, args ...any) {
	if len(p.errors) >= maxCompileErrors {
		return
	}
	p.errors = append(p.errors, newCompileError(tok.Line, format, args...))
}

// recover skips to the next statement boundary after a parse error, so one
// bad statement doesn't poison diagnostics for the rest of the module.
func (p *Parser) recover() {
	for {
		t := p.peek()
		if t.Type == TokEOF || t.Type == TokRBrace {
			return
		}
		if t.Type == TokSemicolon {
			p.advance()
			return
		}
		p.advance()
	}
}

// markRoots is called by the GC during a collection triggered mid-compile
// (a string or constant allocation can itself trigger one): it roots the
// module under construction, the class currently being parsed, and every
// constant any active funcBuilder (this one's, or an enclosing module's if
// compiling an import) has interned so far but not yet reachable from code.
func (p *Parser) markRoots(vm *VM) {
	if p.module != nil {
		vm.markObject(&p.module.Object)
	}
	if p.currentClass != nil {
		vm.markObject(&p.currentClass.Object)
	}
	for _, cl := range p.classes {
		vm.markObject(&cl.Object)
	}
	for _, b := range p.builders {
		for _, c := range b.constants {
			vm.markValue(c)
		}
	}
}

// compile parses and emits src into mod's top-level function, registering
// the parser as a GC root for the duration. inProgress is threaded through
// to resolveImport so import cycles across nested compiles are caught.
func (vm *VM) compile(mod *ObjModule, src []byte, inProgress mapset.Set) []*CompileError {
	p := &Parser{
		vm:         vm,
		lex:        NewLexer(src),
		module:     mod,
		classes:    make(map[string]*ObjClass),
		inProgress: inProgress,
	}

	vm.activeParsers = append(vm.activeParsers, p)
	defer func() {
		for i, ap := range vm.activeParsers {
			if ap == p {
				vm.activeParsers = append(vm.activeParsers[:i], vm.activeParsers[i+1:]...)
				break
			}
		}
	}()

	fb := newFuncBuilder(vm, mod, "<module>", 0, true)
	p.builders = append(p.builders, fb)

	for !p.check(TokEOF) && len(p.errors) < maxCompileErrors {
		if err := p.parseDeclaration(fb); err != nil {
			p.recover()
		}
	}

	mod.Init = fb.end(p.peek().Line)
	p.builders = p.builders[:len(p.builders)-1]

	for _, lexErr := range p.lex.Errors() {
		p.errors = append(p.errors, newCompileError(lexErr.Line, "%s", lexErr.Message))
	}

	return p.errors
}

// parseDeclaration handles the forms only legal at module scope; everything
// else falls through to parseStatement.
func (p *Parser) parseDeclaration(b *funcBuilder) error {
	switch p.peek().Type {
	case TokImport:
		return p.parseImportDecl(b)
	case TokFunc:
		return p.parseFuncDecl(b)
	case TokClass:
		return p.parseClassDecl(b)
	default:
		return p.parseStatement(b)
	}
}

func (p *Parser) parseStatement(b *funcBuilder) error {
	switch p.peek().Type {
	case TokLBrace:
		return p.parseBlock(b)
	case TokFunc:
		return p.parseFuncDecl(b)
	case TokIf:
		return p.parseIf(b)
	case TokWhile:
		return p.parseWhile(b)
	case TokFor:
		return p.parseFor(b)
	case TokVar:
		return p.parseVarDecl(b)
	case TokReturn:
		return p.parseReturn(b)
	case TokBreak:
		line := p.advance().Line
		if len(b.breakTargets) == 0 {
			p.errorAt(Token{Line: line}, "'break' outside a loop")
		} else {
			b.emitBreak(line)
		}
		if _, ok := p.expect(TokSemicolon, "';'"); !ok {
			return fmt.Errorf("expected ';' after break")
		}
		return nil
	case TokSemicolon:
		p.advance()
		return nil
	default:
		mark := b.nextSlot
		reg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, reg); err != nil {
			return err
		}
		b.popTo(mark)
		if _, ok := p.expect(TokSemicolon, "';'"); !ok {
			return fmt.Errorf("expected ';' after expression statement")
		}
		return nil
	}
}

func (p *Parser) parseBlock(b *funcBuilder) error {
	if _, ok := p.expect(TokLBrace, "'{'"); !ok {
		return fmt.Errorf("expected '{'")
	}
	b.pushScope()
	for !p.check(TokRBrace) && !p.check(TokEOF) {
		if err := p.parseStatement(b); err != nil {
			p.recover()
		}
	}
	b.popScope()
	if _, ok := p.expect(TokRBrace, "'}'"); !ok {
		return fmt.Errorf("expected '}'")
	}
	return nil
}

// parseVarDecl binds a new name either as a local slot or, at module scope
// (funcBuilder.atModuleScope), as a module variable.
func (p *Parser) parseVarDecl(b *funcBuilder) error {
	p.advance() // 'var'
	nameTok, ok := p.expect(TokIdent, "variable name")
	if !ok {
		return fmt.Errorf("expected variable name")
	}
	line := nameTok.Line
	atModule := b.atModuleScope()

	var slot, symbol int
	if atModule {
		symbol = p.vm.symbols.Intern(nameTok.Text)
	} else {
		s, declErr := b.declareLocal(nameTok.Text)
		if declErr != nil {
			if ce, ok := declErr.(*CompileError); ok {
				ce.Line = line
				p.errors = append(p.errors, ce)
			}
		}
		slot = s
	}

	mark := b.nextSlot
	valueReg := slot
	if atModule {
		valueReg = b.pushTemps(1)
	}

	if p.match(TokAssign) {
		if _, err := p.parseAssignExpr(b, valueReg); err != nil {
			return err
		}
	} else {
		b.emitABx(OpLoadBasic, valueReg, LoadBasicNil, line)
	}

	if atModule {
		objReg := b.pushTemps(1)
		b.emitABx(OpLoadBasic, objReg, LoadBasicModule, line)
		b.emitABC(OpStoreSymbol, objReg, symbol, valueReg, line)
		b.popTo(mark)
	}

	if _, ok := p.expect(TokSemicolon, "';'"); !ok {
		return fmt.Errorf("expected ';' after variable declaration")
	}
	return nil
}

func (p *Parser) parseReturn(b *funcBuilder) error {
	kw := p.advance()
	mark := b.nextSlot
	reg := b.pushTemps(1)
	if p.check(TokSemicolon) {
		b.emitABx(OpLoadBasic, reg, LoadBasicNil, kw.Line)
	} else if _, err := p.parseAssignExpr(b, reg); err != nil {
		return err
	}
	if _, ok := p.expect(TokSemicolon, "';'"); !ok {
		return fmt.Errorf("expected ';' after return value")
	}
	b.emitABx(OpReturn, 0, reg, kw.Line)
	b.popTo(mark)
	return nil
}

func (p *Parser) parseIf(b *funcBuilder) error {
	kw := p.advance()
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return fmt.Errorf("expected '(' after if")
	}
	mark := b.nextSlot
	condReg := b.pushTemps(1)
	if _, err := p.parseAssignExpr(b, condReg); err != nil {
		return err
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return fmt.Errorf("expected ')' after if condition")
	}
	elseJump := b.reserveJump(OpJumpIfNot, condReg, kw.Line)
	b.popTo(mark)

	if err := p.parseStatement(b); err != nil {
		return err
	}
	if p.match(TokElse) {
		endJump := b.reserveJump(OpJump, 0, kw.Line)
		b.patchJumpHere(elseJump)
		if err := p.parseStatement(b); err != nil {
			return err
		}
		b.patchJumpHere(endJump)
	} else {
		b.patchJumpHere(elseJump)
	}
	return nil
}

func (p *Parser) parseWhile(b *funcBuilder) error {
	kw := p.advance()
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return fmt.Errorf("expected '(' after while")
	}
	loopStart := len(b.code)
	mark := b.nextSlot
	condReg := b.pushTemps(1)
	if _, err := p.parseAssignExpr(b, condReg); err != nil {
		return err
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return fmt.Errorf("expected ')' after while condition")
	}
	exitJump := b.reserveJump(OpJumpIfNot, condReg, kw.Line)
	b.popTo(mark)

	b.pushLoop()
	if err := p.parseStatement(b); err != nil {
		return err
	}
	b.emitJumpBack(OpJump, 0, loopStart, kw.Line)
	b.patchJumpHere(exitJump)
	b.popLoop()
	return nil
}

// parseFor compiles init; cond; incr ) body using the single-pass "jump over
// the increment, run it after the body, then fall into the condition"
// layout: the increment's tokens appear before the body in the source but
// its bytecode must run after, and this is the standard way a one-pass
// bytecode compiler gets that ordering without buffering instructions.
func (p *Parser) parseFor(b *funcBuilder) error {
	kw := p.advance()
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return fmt.Errorf("expected '(' after for")
	}
	b.pushScope()

	switch {
	case p.check(TokVar):
		if err := p.parseVarDecl(b); err != nil {
			b.popScope()
			return err
		}
	case p.check(TokSemicolon):
		p.advance()
	default:
		mark := b.nextSlot
		reg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, reg); err != nil {
			b.popScope()
			return err
		}
		b.popTo(mark)
		if _, ok := p.expect(TokSemicolon, "';'"); !ok {
			b.popScope()
			return fmt.Errorf("expected ';' after for-initializer")
		}
	}

	loopStart := len(b.code)
	hasExit := false
	var exitJump int
	condMark := b.nextSlot
	if !p.check(TokSemicolon) {
		condReg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, condReg); err != nil {
			b.popScope()
			return err
		}
		exitJump = b.reserveJump(OpJumpIfNot, condReg, kw.Line)
		hasExit = true
	}
	b.popTo(condMark)
	if _, ok := p.expect(TokSemicolon, "';'"); !ok {
		b.popScope()
		return fmt.Errorf("expected ';' after for-condition")
	}

	if !p.check(TokRParen) {
		bodyJump := b.reserveJump(OpJump, 0, kw.Line)
		incStart := len(b.code)
		incMark := b.nextSlot
		incReg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, incReg); err != nil {
			b.popScope()
			return err
		}
		b.popTo(incMark)
		b.emitJumpBack(OpJump, 0, loopStart, kw.Line)
		loopStart = incStart
		b.patchJumpHere(bodyJump)
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		b.popScope()
		return fmt.Errorf("expected ')' after for-clauses")
	}

	b.pushLoop()
	if err := p.parseStatement(b); err != nil {
		b.popScope()
		return err
	}
	b.emitJumpBack(OpJump, 0, loopStart, kw.Line)
	if hasExit {
		b.patchJumpHere(exitJump)
	}
	b.popLoop()
	b.popScope()
	return nil
}

// importItem is one name in an `import "x" for a, b = c, ...` list: the
// name as it exists in the imported module, and the (possibly renamed)
// name it is inserted under in the importing module.
type importItem struct {
	source string
	target string
}

// parseImportDecl resolves the imported module at compile time (there is
// no IMPORT opcode) and copies variables directly into the importing
// module's Variables array: with a `for` list, only the listed (optionally
// renamed) identifiers are copied; without one, every non-nil variable of
// the imported module is copied in. Because the imported
// module is fully compiled (and its own module-init run) by the time
// resolveImport returns, the copied values are real, not forward-declared
// placeholders — so this needs no runtime opcode at all.
func (p *Parser) parseImportDecl(b *funcBuilder) error {
	kw := p.advance() // 'import'
	nameTok, ok := p.expect(TokString, "a quoted module name")
	if !ok {
		return fmt.Errorf("expected a quoted module name after import")
	}
	moduleName := unescapeString(nameTok.Text)

	var items []importItem
	hasForList := false
	if p.match(TokFor) {
		hasForList = true
		for {
			idTok, ok := p.expect(TokIdent, "imported name")
			if !ok {
				return fmt.Errorf("expected identifier in import list")
			}
			target := idTok.Text
			if p.match(TokAssign) || p.match(TokAs) {
				renameTok, ok := p.expect(TokIdent, "renamed identifier")
				if !ok {
					return fmt.Errorf("expected identifier after import rename")
				}
				target = renameTok.Text
			}
			items = append(items, importItem{source: idTok.Text, target: target})
			if !p.match(TokComma) {
				break
			}
		}
	}
	if _, ok := p.expect(TokSemicolon, "';'"); !ok {
		return fmt.Errorf("expected ';' after import")
	}

	imported, err := p.vm.resolveImport(moduleName, p.inProgress)
	if err != nil {
		switch e := err.(type) {
		case *CompileError:
			e.Line = kw.Line
			p.errors = append(p.errors, e)
		case *CompileErrors:
			p.errors = append(p.errors, e.Errors...)
		default:
			p.errorAt(kw, "%s", err.Error())
		}
		return nil
	}

	if hasForList {
		for _, it := range items {
			srcSym := p.vm.symbols.Intern(it.source)
			v := Nil
			if srcSym < len(imported.Variables) {
				v = imported.Variables[srcSym]
			}
			dstSym := p.vm.symbols.Intern(it.target)
			p.vm.setModuleVar(p.module, dstSym, it.target, v)
		}
		return nil
	}

	for sym, v := range imported.Variables {
		if v.IsNil() {
			continue
		}
		p.vm.setModuleVar(p.module, sym, p.vm.symbols.Name(sym), v)
	}
	return nil
}

// parseFuncDecl compiles a named function. At module scope its value is
// written into the module's variables array under the function's name; in
// any narrower scope it becomes a constant of the enclosing function,
// loaded into a freshly declared local so later statements can call it by
// name like any other local.
func (p *Parser) parseFuncDecl(b *funcBuilder) error {
	kw := p.advance() // 'func'
	nameTok, ok := p.expect(TokIdent, "function name")
	if !ok {
		return fmt.Errorf("expected function name")
	}
	fn, err := p.compileFunction(nameTok.Text, false, kw.Line)
	if err != nil {
		return err
	}

	if !b.atModuleScope() {
		slot, declErr := b.declareLocal(nameTok.Text)
		if declErr != nil {
			if ce, ok := declErr.(*CompileError); ok {
				ce.Line = nameTok.Line
				p.errors = append(p.errors, ce)
			}
			return nil
		}
		b.emitABx(OpLoadBasic, slot, b.addConstant(BoxPointer(&fn.Object)), nameTok.Line)
		return nil
	}

	symbol := p.vm.symbols.Intern(nameTok.Text)
	mark := b.nextSlot
	objReg := b.pushTemps(1)
	b.emitABx(OpLoadBasic, objReg, LoadBasicModule, nameTok.Line)
	fnReg := b.pushTemps(1)
	b.emitABx(OpLoadBasic, fnReg, b.addConstant(BoxPointer(&fn.Object)), nameTok.Line)
	b.emitABC(OpStoreSymbol, objReg, symbol, fnReg, nameTok.Line)
	b.popTo(mark)
	return nil
}

// parseParamNames consumes "(" name, name, ... ")" without yet knowing the
// function's arity, since newFuncBuilder needs the arity up front to
// reserve parameter slots.
func (p *Parser) parseParamNames() ([]string, error) {
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return nil, fmt.Errorf("expected '(' in parameter list")
	}
	var names []string
	if !p.check(TokRParen) {
		for {
			tok, ok := p.expect(TokIdent, "parameter name")
			if !ok {
				return names, fmt.Errorf("expected parameter name")
			}
			names = append(names, tok.Text)
			if !p.match(TokComma) {
				break
			}
		}
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return names, fmt.Errorf("expected ')' after parameters")
	}
	return names, nil
}

// compileFunction parses a parameter list and block body into a freshly
// pushed funcBuilder and returns the finished ObjFunction. selfMethod
// reserves slot 0 for an implicit `self` ahead of the declared parameters.
// self is an ordinary local, not a reserved word, so nothing in the lexer
// or the expression grammar needs to special-case it.
func (p *Parser) compileFunction(name string, selfMethod bool, line int32) (*ObjFunction, error) {
	params, err := p.parseParamNames()
	if err != nil {
		return nil, err
	}
	arity := len(params)
	if selfMethod {
		arity++
	}

	fb := newFuncBuilder(p.vm, p.module, name, arity, false)
	p.builders = append(p.builders, fb)

	slot := 0
	if selfMethod {
		fb.bindParam("self", 0)
		slot = 1
	}
	for _, pn := range params {
		fb.bindParam(pn, slot)
		slot++
	}

	blockErr := p.parseBlock(fb)
	p.builders = p.builders[:len(p.builders)-1]
	if blockErr != nil {
		return nil, blockErr
	}
	return fb.end(line), nil
}

func (p *Parser) parseClassDecl(b *funcBuilder) error {
	kw := p.advance() // 'class'
	nameTok, ok := p.expect(TokIdent, "class name")
	if !ok {
		return fmt.Errorf("expected class name")
	}

	var base *ObjClass
	if p.match(TokColon) {
		baseTok, ok := p.expect(TokIdent, "base class name")
		if !ok {
			return fmt.Errorf("expected base class name after ':'")
		}
		base = p.classes[baseTok.Text]
		if base == nil {
			p.errorAt(baseTok, "unknown base class %q", baseTok.Text)
		}
	}

	class := p.vm.allocClass(nameTok.Text, base, p.module)
	p.classes[nameTok.Text] = class

	prevClass := p.currentClass
	p.currentClass = class

	if _, ok := p.expect(TokLBrace, "'{'"); !ok {
		p.currentClass = prevClass
		return fmt.Errorf("expected '{' to open class body")
	}
	for !p.check(TokRBrace) && !p.check(TokEOF) {
		if err := p.parseClassMember(class); err != nil {
			p.recover()
		}
	}
	p.currentClass = prevClass
	if _, ok := p.expect(TokRBrace, "'}'"); !ok {
		return fmt.Errorf("expected '}' to close class body")
	}

	symbol := p.vm.symbols.Intern(nameTok.Text)
	mark := b.nextSlot
	objReg := b.pushTemps(1)
	b.emitABx(OpLoadBasic, objReg, LoadBasicModule, kw.Line)
	clsReg := b.pushTemps(1)
	b.emitABx(OpLoadBasic, clsReg, b.addConstant(BoxPointer(&class.Object)), kw.Line)
	b.emitABC(OpStoreSymbol, objReg, symbol, clsReg, kw.Line)
	b.popTo(mark)
	return nil
}

// parseMethodName reads a class member's name, handling the two
// operator-overload spellings `[]` and `[]=` that aren't valid identifiers:
// the lexer hands these back as separate '[' and ']' tokens.
func (p *Parser) parseMethodName() (string, int32, bool) {
	tok := p.peek()
	if tok.Type == TokLBracket {
		p.advance()
		if _, ok := p.expect(TokRBracket, "']'"); !ok {
			return "", tok.Line, false
		}
		if p.match(TokAssign) {
			return "[]=", tok.Line, true
		}
		return "[]", tok.Line, true
	}
	if tok.Type == TokIdent {
		p.advance()
		return tok.Text, tok.Line, true
	}
	p.errorAt(tok, "expected a method name")
	return "", tok.Line, false
}

func (p *Parser) parseClassMember(class *ObjClass) error {
	static := p.match(TokStatic)

	switch p.peek().Type {
	case TokVar:
		p.advance()
		nameTok, ok := p.expect(TokIdent, "field name")
		if !ok {
			return fmt.Errorf("expected field name")
		}
		symbol := p.vm.symbols.Intern(nameTok.Text)
		init := Nil
		if p.match(TokAssign) {
			v, ok := p.parseConstExpr()
			if !ok {
				p.errorAt(nameTok, "field initializer must be a constant expression")
			} else {
				init = v
			}
		}
		if _, ok := p.expect(TokSemicolon, "';'"); !ok {
			return fmt.Errorf("expected ';' after field declaration")
		}
		if static {
			for symbol >= len(class.StaticFields) {
				class.StaticFields = append(class.StaticFields, Nil)
			}
			class.StaticFields[symbol] = init
		} else {
			class.Fields = append(class.Fields, fieldInit{symbol: symbol, static: false, init: init})
		}
		return nil

	case TokFunc:
		kw := p.advance()
		name, line, ok := p.parseMethodName()
		if !ok {
			return fmt.Errorf("expected method name at line %d", kw.Line)
		}
		symbol := p.vm.symbols.Intern(name)
		// Every method, static included, takes the implicit self in slot 0;
		// for a static method invoked as Class.m(...), self is the class.
		fn, err := p.compileFunction(name, true, line)
		if err != nil {
			return err
		}
		class.setMethod(symbol, BoxPointer(&fn.Object), static)
		return nil

	default:
		tok := p.peek()
		p.errorAt(tok, "expected 'var' or 'func' in class body")
		p.advance()
		return fmt.Errorf("unexpected token in class body at line %d", tok.Line)
	}
}

// parseConstExpr parses the restricted grammar allowed for a field
// initializer: a literal, optionally negated. fieldInit.init is a Value,
// not compiled code; field initializers never run arbitrary code, they are
// copied in by NEW_CLZ.
func (p *Parser) parseConstExpr() (Value, bool) {
	tok := p.peek()
	switch tok.Type {
	case TokNumber:
		p.advance()
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok.Text, "f"), 64)
		if err != nil {
			p.errorAt(tok, "invalid number literal %q", tok.Text)
			return Nil, false
		}
		return BoxNumber(f), true
	case TokString:
		p.advance()
		return p.vm.newStringValue(unescapeString(tok.Text)), true
	case TokTrue:
		p.advance()
		return True, true
	case TokFalse:
		p.advance()
		return False, true
	case TokNil:
		p.advance()
		return Nil, true
	case TokMinus:
		p.advance()
		v, ok := p.parseConstExpr()
		if !ok {
			return Nil, false
		}
		if !v.IsNumber() {
			p.errorAt(tok, "unary '-' requires a numeric constant")
			return Nil, false
		}
		return BoxNumber(-v.AsNumber()), true
	default:
		p.errorAt(tok, "expected a constant expression")
		return Nil, false
	}
}

// ---- Expressions ----
//
// Each tier below parses its operand at the next-higher precedence, then
// folds in zero or more operators at its own level, left to right (right
// to left for parsePowExpr, the one right-associative operator). An lvalue
// survives a tier untouched only if that tier consumed no operator of its
// own; the moment any binary operator applies, the result in dest is a
// fresh rvalue and no longer assignable.

func (p *Parser) parseExpression(b *funcBuilder, dest int) (lvalue, error) {
	return p.parseAssignExpr(b, dest)
}

func (p *Parser) parseAssignExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseOrExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	if p.check(TokAssign) || p.check(TokPlusEq) || p.check(TokMinusEq) {
		op := p.advance()
		if lv.kind == lvNone {
			p.errorAt(op, "invalid assignment target")
			discard := b.pushTemps(1)
			if _, err := p.parseAssignExpr(b, discard); err != nil {
				return lvalue{}, err
			}
			return lvalue{}, nil
		}
		if err := p.finishAssignment(b, dest, lv, op); err != nil {
			return lvalue{}, err
		}
		return lv, nil
	}
	return lv, nil
}

func (p *Parser) finishAssignment(b *funcBuilder, dest int, lv lvalue, opTok Token) error {
	line := opTok.Line
	valReg := b.pushTemps(1)
	if _, err := p.parseAssignExpr(b, valReg); err != nil {
		return err
	}
	if opTok.Type != TokAssign {
		opcode := OpMathAdd
		if opTok.Type == TokMinusEq {
			opcode = OpMathSub
		}
		// dest still holds the pre-assignment value read when the lvalue
		// chain was first compiled.
		b.emitABC(opcode, valReg, dest, valReg, line)
	}

	switch lv.kind {
	case lvLocal:
		b.emitABx(OpStoreMove, lv.slot, valReg, line)
	case lvSymbolic:
		b.emitABC(OpStoreSymbol, lv.objReg, lv.symbol, valReg, line)
	case lvIndex:
		setSym := p.vm.symbols.Intern("[]=")
		calleeReg := b.pushTemps(1)
		b.emitABC(OpLoadSymbol, calleeReg, lv.objReg, setSym, line)
		argBase := b.pushTemps(1)
		b.emitABx(OpStoreMove, argBase, lv.objReg, line)
		idxArg := b.pushTemps(1)
		b.emitABx(OpStoreMove, idxArg, lv.idxReg, line)
		valArg := b.pushTemps(1)
		b.emitABx(OpStoreMove, valArg, valReg, line)
		b.emitABC(OpCallFn, argBase, calleeReg, 3, line)
	}

	if dest != valReg {
		b.emitABx(OpStoreMove, dest, valReg, line)
	}
	return nil
}

func (p *Parser) parseOrExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseAndExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for p.check(TokOrOr) {
		line := p.advance().Line
		tmp := b.pushTemps(1)
		if _, err := p.parseAndExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(OpCmpOr, dest, dest, tmp, line)
		lv = lvalue{}
	}
	return lv, nil
}

func (p *Parser) parseAndExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseEqualityExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for p.check(TokAndAnd) {
		line := p.advance().Line
		tmp := b.pushTemps(1)
		if _, err := p.parseEqualityExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(OpCmpAnd, dest, dest, tmp, line)
		lv = lvalue{}
	}
	return lv, nil
}

func (p *Parser) parseEqualityExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseTernaryExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for p.check(TokEq) || p.check(TokNotEq) {
		op := p.advance()
		opcode := OpCmpEe
		if op.Type == TokNotEq {
			opcode = OpCmpNe
		}
		tmp := b.pushTemps(1)
		if _, err := p.parseTernaryExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(opcode, dest, dest, tmp, op.Line)
		lv = lvalue{}
	}
	return lv, nil
}

// parseTernaryExpr compiles `cond ? then : else` with the same forward-jump
// pattern parseIf uses: test the condition in dest, jump over the taken
// branch's rival, and leave whichever branch ran in dest. The branches
// recurse into this same tier, so `a ? b : c ? d : e` nests to the right.
func (p *Parser) parseTernaryExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseRelExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	if !p.check(TokQuestion) {
		return lv, nil
	}
	line := p.advance().Line

	elseJump := b.reserveJump(OpJumpIfNot, dest, line)
	if _, err := p.parseTernaryExpr(b, dest); err != nil {
		return lvalue{}, err
	}
	endJump := b.reserveJump(OpJump, 0, line)
	b.patchJumpHere(elseJump)

	if _, ok := p.expect(TokColon, "':'"); !ok {
		return lvalue{}, fmt.Errorf("expected ':' in ternary expression")
	}
	if _, err := p.parseTernaryExpr(b, dest); err != nil {
		return lvalue{}, err
	}
	b.patchJumpHere(endJump)
	return lvalue{}, nil
}

func (p *Parser) parseRelExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseAddExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for {
		var opcode Opcode
		switch p.peek().Type {
		case TokLess:
			opcode = OpCmpLt
		case TokLessEq:
			opcode = OpCmpLe
		case TokGreater:
			opcode = OpCmpGt
		case TokGreaterEq:
			opcode = OpCmpGe
		default:
			return lv, nil
		}
		op := p.advance()
		tmp := b.pushTemps(1)
		if _, err := p.parseAddExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(opcode, dest, dest, tmp, op.Line)
		lv = lvalue{}
	}
}

func (p *Parser) parseAddExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseMulExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for {
		var opcode Opcode
		switch p.peek().Type {
		case TokPlus:
			opcode = OpMathAdd
		case TokMinus:
			opcode = OpMathSub
		default:
			return lv, nil
		}
		op := p.advance()
		tmp := b.pushTemps(1)
		if _, err := p.parseMulExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(opcode, dest, dest, tmp, op.Line)
		lv = lvalue{}
	}
}

func (p *Parser) parseMulExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parsePowExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for {
		var opcode Opcode
		switch p.peek().Type {
		case TokStar:
			opcode = OpMathMul
		case TokSlash:
			opcode = OpMathDiv
		case TokPercent:
			opcode = OpMathMod
		default:
			return lv, nil
		}
		op := p.advance()
		tmp := b.pushTemps(1)
		if _, err := p.parsePowExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(opcode, dest, dest, tmp, op.Line)
		lv = lvalue{}
	}
}

// parsePowExpr is the one right-associative binary tier: `2 ^ 3 ^ 2` parses
// as `2 ^ (3 ^ 2)`, so the right operand recurses into this same tier
// instead of the next one down.
func (p *Parser) parsePowExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parseUnaryExpr(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	if p.check(TokCaret) {
		line := p.advance().Line
		tmp := b.pushTemps(1)
		if _, err := p.parsePowExpr(b, tmp); err != nil {
			return lvalue{}, err
		}
		b.emitABC(OpMathPow, dest, dest, tmp, line)
		lv = lvalue{}
	}
	return lv, nil
}

func (p *Parser) parseUnaryExpr(b *funcBuilder, dest int) (lvalue, error) {
	switch p.peek().Type {
	case TokMinus:
		line := p.advance().Line
		if _, err := p.parseUnaryExpr(b, dest); err != nil {
			return lvalue{}, err
		}
		b.emitABx(OpMathInv, dest, dest, line)
		return lvalue{}, nil
	case TokBang:
		line := p.advance().Line
		if _, err := p.parseUnaryExpr(b, dest); err != nil {
			return lvalue{}, err
		}
		b.emitABx(OpNot, dest, dest, line)
		return lvalue{}, nil
	default:
		return p.parsePostfixExpr(b, dest)
	}
}

func (p *Parser) parsePostfixExpr(b *funcBuilder, dest int) (lvalue, error) {
	lv, err := p.parsePrimary(b, dest)
	if err != nil {
		return lvalue{}, err
	}
	for {
		switch p.peek().Type {
		case TokDot:
			line := p.advance().Line
			nameTok, ok := p.expect(TokIdent, "field or method name")
			if !ok {
				return lvalue{}, fmt.Errorf("expected name after '.' at line %d", line)
			}
			if p.check(TokLParen) {
				p.advance()
				lv, err = p.compileMethodCall(b, dest, nameTok.Text, line)
			} else {
				lv, err = p.compileFieldAccess(b, dest, nameTok.Text, line)
			}
		case TokLBracket:
			line := p.advance().Line
			lv, err = p.compileIndexGet(b, dest, line)
		case TokLParen:
			line := p.advance().Line
			lv, err = p.compileCallExpr(b, dest, line)
		default:
			return lv, nil
		}
		if err != nil {
			return lvalue{}, err
		}
	}
}

// compileFieldAccess saves the receiver into its own register (dest is
// about to be overwritten with the field's value) and emits an eager read,
// so a following `.foo` chains off the read value and a following `=`
// stores back through the same saved receiver.
func (p *Parser) compileFieldAccess(b *funcBuilder, dest int, name string, line int32) (lvalue, error) {
	objReg := b.pushTemps(1)
	b.emitABx(OpStoreMove, objReg, dest, line)
	symbol := p.vm.symbols.Intern(name)
	b.emitABC(OpLoadSymbol, dest, objReg, symbol, line)
	return lvalue{kind: lvSymbolic, objReg: objReg, symbol: symbol}, nil
}

// compileMethodCall implements `receiver.name(args)` method-call syntax,
// the one case that explicitly prepends self at the parser level (as
// opposed to the VM's own self-prepend in performCall for invoking an
// instance directly as a callable).
func (p *Parser) compileMethodCall(b *funcBuilder, dest int, name string, line int32) (lvalue, error) {
	symbol := p.vm.symbols.Intern(name)
	argBase := b.pushTemps(1)
	b.emitABx(OpStoreMove, argBase, dest, line)
	argc := 0
	if !p.check(TokRParen) {
		reg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, reg); err != nil {
			return lvalue{}, err
		}
		argc = 1
		for p.match(TokComma) {
			reg := b.pushTemps(1)
			if _, err := p.parseAssignExpr(b, reg); err != nil {
				return lvalue{}, err
			}
			argc++
		}
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return lvalue{}, fmt.Errorf("expected ')' after call arguments")
	}
	calleeReg := b.pushTemps(1)
	b.emitABC(OpLoadSymbol, calleeReg, dest, symbol, line)
	b.emitABC(OpCallFn, argBase, calleeReg, argc+1, line)
	if dest != argBase {
		b.emitABx(OpStoreMove, dest, argBase, line)
	}
	return lvalue{}, nil
}

// compileIndexGet implements `receiver[idx]` as a call to the `[]` method.
// The index value's register (idxReg) survives so a following `= value`
// can call `[]=` without recomputing idx.
func (p *Parser) compileIndexGet(b *funcBuilder, dest int, line int32) (lvalue, error) {
	objReg := b.pushTemps(1)
	b.emitABx(OpStoreMove, objReg, dest, line)
	argBase := b.pushTemps(1)
	b.emitABx(OpStoreMove, argBase, objReg, line)
	idxReg := b.pushTemps(1)
	if _, err := p.parseAssignExpr(b, idxReg); err != nil {
		return lvalue{}, err
	}
	if _, ok := p.expect(TokRBracket, "']'"); !ok {
		return lvalue{}, fmt.Errorf("expected ']' after index expression")
	}
	getSym := p.vm.symbols.Intern("[]")
	calleeReg := b.pushTemps(1)
	b.emitABC(OpLoadSymbol, calleeReg, objReg, getSym, line)
	b.emitABC(OpCallFn, argBase, calleeReg, 2, line)
	if dest != argBase {
		b.emitABx(OpStoreMove, dest, argBase, line)
	}
	return lvalue{kind: lvIndex, objReg: objReg, idxReg: idxReg}, nil
}

// compileCallExpr implements a plain `callee(args)` call: no self is
// prepended here; if callee turns out to be an instance whose class
// defines `call`, performCall handles that self-prepend at run time.
func (p *Parser) compileCallExpr(b *funcBuilder, dest int, line int32) (lvalue, error) {
	calleeReg := b.pushTemps(1)
	b.emitABx(OpStoreMove, calleeReg, dest, line)
	argBase := b.pushTemps(1)
	argc := 0
	if !p.check(TokRParen) {
		if _, err := p.parseAssignExpr(b, argBase); err != nil {
			return lvalue{}, err
		}
		argc = 1
		for p.match(TokComma) {
			reg := b.pushTemps(1)
			if _, err := p.parseAssignExpr(b, reg); err != nil {
				return lvalue{}, err
			}
			argc++
		}
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return lvalue{}, fmt.Errorf("expected ')' after call arguments")
	}
	b.emitABC(OpCallFn, argBase, calleeReg, argc, line)
	if dest != argBase {
		b.emitABx(OpStoreMove, dest, argBase, line)
	}
	return lvalue{}, nil
}

func (p *Parser) parsePrimary(b *funcBuilder, dest int) (lvalue, error) {
	tok := p.peek()
	switch tok.Type {
	case TokNumber:
		p.advance()
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok.Text, "f"), 64)
		if err != nil {
			p.errorAt(tok, "invalid number literal %q", tok.Text)
			f = 0
		}
		b.emitABx(OpLoadBasic, dest, b.addConstant(BoxNumber(f)), tok.Line)
		return lvalue{}, nil
	case TokString:
		p.advance()
		b.emitABx(OpLoadBasic, dest, b.addConstant(p.vm.newStringValue(unescapeString(tok.Text))), tok.Line)
		return lvalue{}, nil
	case TokTrue:
		p.advance()
		b.emitABx(OpLoadBasic, dest, LoadBasicTrue, tok.Line)
		return lvalue{}, nil
	case TokFalse:
		p.advance()
		b.emitABx(OpLoadBasic, dest, LoadBasicFalse, tok.Line)
		return lvalue{}, nil
	case TokNil:
		p.advance()
		b.emitABx(OpLoadBasic, dest, LoadBasicNil, tok.Line)
		return lvalue{}, nil
	case TokIdent:
		p.advance()
		return p.loadIdent(b, dest, tok.Text, tok.Line)
	case TokLParen:
		p.advance()
		if _, err := p.parseAssignExpr(b, dest); err != nil {
			return lvalue{}, err
		}
		if _, ok := p.expect(TokRParen, "')'"); !ok {
			return lvalue{}, fmt.Errorf("expected ')' to close parenthesized expression")
		}
		return lvalue{}, nil
	case TokNew:
		p.advance()
		return p.parseNewExpr(b, dest, tok.Line)
	case TokSuper:
		p.advance()
		return p.parseSuperExpr(b, dest, tok.Line)
	default:
		p.errorAt(tok, "unexpected token %q", tok.Text)
		p.advance()
		return lvalue{}, fmt.Errorf("unexpected token at line %d", tok.Line)
	}
}

// loadIdent resolves a bare identifier in the usual three places: a local
// (including `self`, which is bound as an ordinary local at slot 0 inside
// methods), a class name known in this compilation unit, or failing both a
// module variable reached through the running LOAD_BASIC-module immediate.
func (p *Parser) loadIdent(b *funcBuilder, dest int, name string, line int32) (lvalue, error) {
	if slot, ok := b.lookupLocal(name); ok {
		if dest != slot {
			b.emitABx(OpStoreMove, dest, slot, line)
		}
		return lvalue{kind: lvLocal, slot: slot}, nil
	}
	if class, ok := p.classes[name]; ok {
		b.emitABx(OpLoadBasic, dest, b.addConstant(BoxPointer(&class.Object)), line)
		return lvalue{}, nil
	}
	objReg := b.pushTemps(1)
	b.emitABx(OpLoadBasic, objReg, LoadBasicModule, line)
	symbol := p.vm.symbols.Intern(name)
	b.emitABC(OpLoadSymbol, dest, objReg, symbol, line)
	return lvalue{kind: lvSymbolic, objReg: objReg, symbol: symbol}, nil
}

// parseNewExpr implements `new ClassName(args)`. The class must be known in
// this compilation unit at parse time so the constructor (if any) can be
// resolved as a compile-time constant; an unresolvable class name given
// non-zero arguments is a compile error rather than a risked "missing
// symbol" failure at run time.
func (p *Parser) parseNewExpr(b *funcBuilder, dest int, line int32) (lvalue, error) {
	nameTok, ok := p.expect(TokIdent, "class name")
	if !ok {
		return lvalue{}, fmt.Errorf("expected class name after 'new'")
	}
	class := p.classes[nameTok.Text]
	if class == nil {
		p.errorAt(nameTok, "unknown class %q", nameTok.Text)
	}
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return lvalue{}, fmt.Errorf("expected '(' after class name")
	}

	classReg := b.pushTemps(1)
	if class != nil {
		b.emitABx(OpLoadBasic, classReg, b.addConstant(BoxPointer(&class.Object)), line)
	} else {
		b.emitABx(OpLoadBasic, classReg, LoadBasicNil, line)
	}
	b.emitABx(OpNewClz, dest, classReg, line)

	argBase := b.pushTemps(1)
	b.emitABx(OpStoreMove, argBase, dest, line)
	argc := 0
	if !p.check(TokRParen) {
		reg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, reg); err != nil {
			return lvalue{}, err
		}
		argc = 1
		for p.match(TokComma) {
			reg := b.pushTemps(1)
			if _, err := p.parseAssignExpr(b, reg); err != nil {
				return lvalue{}, err
			}
			argc++
		}
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return lvalue{}, fmt.Errorf("expected ')' after constructor arguments")
	}

	if class != nil {
		if ctor, hasCtor := class.LookupMethod(SymIDCtor); hasCtor {
			calleeReg := b.pushTemps(1)
			b.emitABx(OpLoadBasic, calleeReg, b.addConstant(ctor), line)
			b.emitABC(OpCallFn, argBase, calleeReg, argc+1, line)
		} else if argc > 0 {
			p.errorAt(nameTok, "class %q has no constructor but %d argument(s) given", nameTok.Text, argc)
		}
	} else if argc > 0 {
		p.errorAt(nameTok, "cannot resolve a constructor for %q at compile time", nameTok.Text)
	}
	return lvalue{}, nil
}

// parseSuperExpr implements `super.method(args)`. The base class is a
// compile-time-known Go pointer (Parser.currentClass.Base), so the method
// is resolved and embedded as a constant the same way a plain method
// reference would be — there is no runtime base-class lookup.
func (p *Parser) parseSuperExpr(b *funcBuilder, dest int, line int32) (lvalue, error) {
	if p.currentClass == nil || p.currentClass.Base == nil {
		p.errorAt(Token{Line: line}, "'super' used outside a subclass method")
	}
	if _, ok := p.expect(TokDot, "'.'"); !ok {
		return lvalue{}, fmt.Errorf("expected '.' after 'super'")
	}
	nameTok, ok := p.expect(TokIdent, "method name")
	if !ok {
		return lvalue{}, fmt.Errorf("expected method name after 'super.'")
	}
	if _, ok := p.expect(TokLParen, "'('"); !ok {
		return lvalue{}, fmt.Errorf("expected '(' after super method name")
	}

	var method Value
	haveMethod := false
	if p.currentClass != nil && p.currentClass.Base != nil {
		symbol := p.vm.symbols.Intern(nameTok.Text)
		method, haveMethod = p.currentClass.Base.LookupMethod(symbol)
		if !haveMethod {
			p.errorAt(nameTok, "no method %q on base class", nameTok.Text)
		}
	}
	selfSlot, hasSelf := b.lookupLocal("self")
	if !hasSelf {
		p.errorAt(nameTok, "'super' used outside a method body")
	}

	argBase := b.pushTemps(1)
	if hasSelf {
		b.emitABx(OpStoreMove, argBase, selfSlot, line)
	}
	argc := 0
	if !p.check(TokRParen) {
		reg := b.pushTemps(1)
		if _, err := p.parseAssignExpr(b, reg); err != nil {
			return lvalue{}, err
		}
		argc = 1
		for p.match(TokComma) {
			reg := b.pushTemps(1)
			if _, err := p.parseAssignExpr(b, reg); err != nil {
				return lvalue{}, err
			}
			argc++
		}
	}
	if _, ok := p.expect(TokRParen, "')'"); !ok {
		return lvalue{}, fmt.Errorf("expected ')' after super call arguments")
	}

	if haveMethod {
		calleeReg := b.pushTemps(1)
		b.emitABx(OpLoadBasic, calleeReg, b.addConstant(method), line)
		b.emitABC(OpCallFn, argBase, calleeReg, argc+1, line)
		if dest != argBase {
			b.emitABx(OpStoreMove, dest, argBase, line)
		}
	} else {
		b.emitABx(OpLoadBasic, dest, LoadBasicNil, line)
	}
	return lvalue{}, nil
}

// unescapeString processes backslash escapes in a string literal's raw text
// (the lexer defers this; see lexer.go's lexString).
func unescapeString(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '\\':
				out = append(out, '\\')
			case '"':
				out = append(out, '"')
			case '0':
				out = append(out, 0)
			default:
				out = append(out, '\\', s[i])
			}
			continue
		}
		out = append(out, c)
	}
	return string(out)
}
