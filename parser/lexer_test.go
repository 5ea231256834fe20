package parser

import "testing"

func TestLexer_Tokens(t *testing.T) {
	input := "SELECT AVG(PRIVATE salary OF [1.0]) FROM employees WHERE age >= 21;"

	want := []struct {
		typ TokenType
		lit string
	}{
		{TokenSelect, "SELECT"},
		{TokenAvg, "AVG"},
		{TokenLParen, "("},
		{TokenPrivate, "PRIVATE"},
		{TokenIdent, "salary"},
		{TokenOf, "OF"},
		{TokenLBracket, "["},
		{TokenFloatLit, "1.0"},
		{TokenRBracket, "]"},
		{TokenRParen, ")"},
		{TokenFrom, "FROM"},
		{TokenIdent, "employees"},
		{TokenWhere, "WHERE"},
		{TokenIdent, "age"},
		{TokenGtEq, ">="},
		{TokenIntLit, "21"},
		{TokenSemicolon, ";"},
		{TokenEOF, ""},
	}

	lex := NewLexer(input)
	for i, w := range want {
		tok := lex.NextToken()
		if tok.Type != w.typ {
			t.Fatalf("token[%d]: type = %s, want %s", i, tok.Type, w.typ)
		}
		if tok.Literal != w.lit {
			t.Fatalf("token[%d]: literal = %q, want %q", i, tok.Literal, w.lit)
		}
	}
}

func TestLexer_Operators(t *testing.T) {
	input := "= != <> < > <= >= + - / *"
	want := []TokenType{
		TokenEq, TokenNotEq, TokenNotEq, TokenLt, TokenGt, TokenLtEq, TokenGtEq,
		TokenPlus, TokenMinus, TokenSlash, TokenStar, TokenEOF,
	}
	lex := NewLexer(input)
	for i, w := range want {
		tok := lex.NextToken()
		if tok.Type != w {
			t.Fatalf("token[%d]: type = %s, want %s", i, tok.Type, w)
		}
	}
}

func TestLexer_KeywordsUppercaseOnly(t *testing.T) {
	// Lowercase spellings must lex as identifiers, not keywords.
	input := "select FROM Private PUBLIC"
	want := []struct {
		typ TokenType
		lit string
	}{
		{TokenIdent, "select"},
		{TokenFrom, "FROM"},
		{TokenIdent, "Private"},
		{TokenPublic, "PUBLIC"},
		{TokenEOF, ""},
	}
	lex := NewLexer(input)
	for i, w := range want {
		tok := lex.NextToken()
		if tok.Type != w.typ {
			t.Fatalf("token[%d]: type = %s, want %s", i, tok.Type, w.typ)
		}
		if tok.Literal != w.lit {
			t.Fatalf("token[%d]: literal = %q, want %q", i, tok.Literal, w.lit)
		}
	}
}

func TestLexer_Spans(t *testing.T) {
	input := "SELECT  salary"
	lex := NewLexer(input)

	sel := lex.NextToken()
	if sel.Pos != 0 || sel.End != 6 {
		t.Errorf("SELECT span = [%d,%d), want [0,6)", sel.Pos, sel.End)
	}
	col := lex.NextToken()
	if col.Pos != 8 || col.End != 14 {
		t.Errorf("salary span = [%d,%d), want [8,14)", col.Pos, col.End)
	}
	if got := input[col.Pos:col.End]; got != "salary" {
		t.Errorf("input[span] = %q, want %q", got, "salary")
	}
}

func TestLexer_Numbers(t *testing.T) {
	cases := []struct {
		input string
		typ   TokenType
	}{
		{"42", TokenIntLit},
		{"0.5", TokenFloatLit},
		{".5", TokenFloatLit},
		{"1000000", TokenIntLit},
	}
	for _, c := range cases {
		tok := NewLexer(c.input).NextToken()
		if tok.Type != c.typ {
			t.Errorf("lex(%q) = %s, want %s", c.input, tok.Type, c.typ)
		}
		if tok.Literal != c.input {
			t.Errorf("lex(%q) literal = %q", c.input, tok.Literal)
		}
	}
}

func TestLexer_LineComment(t *testing.T) {
	input := "SELECT -- hidden\nsalary"
	lex := NewLexer(input)
	if tok := lex.NextToken(); tok.Type != TokenSelect {
		t.Fatalf("token = %s, want SELECT", tok.Type)
	}
	tok := lex.NextToken()
	if tok.Type != TokenIdent || tok.Literal != "salary" {
		t.Fatalf("token = %s %q, want IDENT salary", tok.Type, tok.Literal)
	}
}

func TestLexer_UTF8StringLiteral(t *testing.T) {
	l := NewLexer("'München'")
	tok := l.NextToken()
	if tok.Type != TokenStrLit {
		t.Fatalf("expected STRING, got %s", tok.Type)
	}
	if tok.Literal != "München" {
		t.Fatalf("expected München, got %q", tok.Literal)
	}
	if l.NextToken().Type != TokenEOF {
		t.Fatal("expected EOF")
	}
}

func TestLexer_IllegalRune(t *testing.T) {
	tok := NewLexer("#").NextToken()
	if tok.Type != TokenIllegal {
		t.Errorf("token = %s, want ILLEGAL", tok.Type)
	}
}
