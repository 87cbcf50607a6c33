package vole

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexAll(t *testing.T, src string) []Token {
	t.Helper()
	lex := NewLexer([]byte(src))
	var toks []Token
	for {
		tok := lex.Next()
		toks = append(toks, tok)
		if tok.Type == TokEOF {
			break
		}
	}
	return toks
}

func tokTypes(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestLexerPunctuationAndTwoCharOperators(t *testing.T) {
	toks := lexAll(t, "== != <= >= += -= && ||")
	require.Equal(t, []TokenType{
		TokEq, TokNotEq, TokLessEq, TokGreaterEq, TokPlusEq, TokMinusEq, TokAndAnd, TokOrOr, TokEOF,
	}, tokTypes(toks))
}

func TestLexerSingleCharFallback(t *testing.T) {
	toks := lexAll(t, "= ! < >")
	require.Equal(t, []TokenType{TokAssign, TokBang, TokLess, TokGreater, TokEOF}, tokTypes(toks))
}

func TestLexerNumberLiterals(t *testing.T) {
	toks := lexAll(t, "42 3.14 5f 0.5f")
	require.Len(t, toks, 5)
	texts := []string{"42", "3.14", "5f", "0.5f"}
	for i, want := range texts {
		assert.Equal(t, TokNumber, toks[i].Type)
		assert.Equal(t, want, toks[i].Text)
	}
}

func TestLexerStringLiteral(t *testing.T) {
	toks := lexAll(t, `"hello, world"`)
	require.Equal(t, TokString, toks[0].Type)
	assert.Equal(t, "hello, world", toks[0].Text)
}

func TestLexerStringLiteralWithEscapedQuote(t *testing.T) {
	toks := lexAll(t, `"a\"b"`)
	require.Equal(t, TokString, toks[0].Type)
	assert.Equal(t, `a\"b`, toks[0].Text)
}

func TestLexerReservedWords(t *testing.T) {
	src := "true false return if else for while func var nil class import break new static as super"
	toks := lexAll(t, src)
	want := []TokenType{
		TokTrue, TokFalse, TokReturn, TokIf, TokElse, TokFor, TokWhile, TokFunc,
		TokVar, TokNil, TokClass, TokImport, TokBreak, TokNew, TokStatic, TokAs, TokSuper, TokEOF,
	}
	require.Equal(t, want, tokTypes(toks))
}

func TestLexerIdentifierNotReserved(t *testing.T) {
	toks := lexAll(t, "variable_1 Self")
	require.Equal(t, []TokenType{TokIdent, TokIdent, TokEOF}, tokTypes(toks))
}

func TestLexerLineComment(t *testing.T) {
	toks := lexAll(t, "1 // comment\n2")
	require.Equal(t, []TokenType{TokNumber, TokNumber, TokEOF}, tokTypes(toks))
	assert.Equal(t, int32(1), toks[0].Line)
	assert.Equal(t, int32(2), toks[1].Line)
}

func TestLexerBlockComment(t *testing.T) {
	toks := lexAll(t, "1 /* multi\nline */ 2")
	require.Equal(t, []TokenType{TokNumber, TokNumber, TokEOF}, tokTypes(toks))
	assert.Equal(t, int32(2), toks[1].Line)
}

func TestLexerUnterminatedBlockCommentReportsError(t *testing.T) {
	lex := NewLexer([]byte("/* never closed"))
	tok := lex.Next()
	assert.Equal(t, TokEOF, tok.Type)
	require.Len(t, lex.Errors(), 1)
	assert.Contains(t, lex.Errors()[0].Message, "unterminated block comment")
}

func TestLexerInvalidCharacterResumesLexing(t *testing.T) {
	lex := NewLexer([]byte("1 @ 2"))
	var kinds []TokenType
	for {
		tok := lex.Next()
		kinds = append(kinds, tok.Type)
		if tok.Type == TokEOF {
			break
		}
	}
	assert.Equal(t, []TokenType{TokNumber, TokNumber, TokEOF}, kinds)
	require.Len(t, lex.Errors(), 1)
}

func TestLexerEOFRepeatsIndefinitely(t *testing.T) {
	lex := NewLexer([]byte(""))
	a := lex.Next()
	b := lex.Next()
	assert.Equal(t, TokEOF, a.Type)
	assert.Equal(t, TokEOF, b.Type)
}

func TestLexerTracksLineNumbers(t *testing.T) {
	toks := lexAll(t, "1\n2\n\n3")
	require.Len(t, toks, 4)
	assert.Equal(t, int32(1), toks[0].Line)
	assert.Equal(t, int32(2), toks[1].Line)
	assert.Equal(t, int32(4), toks[2].Line)
}
