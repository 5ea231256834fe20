package parser

import "strings"

// TokenType identifies the kind of token produced by the lexer.
type TokenType int

const (
	// Special tokens.
	TokenEOF     TokenType = iota
	TokenIllegal           // unrecognized character

	// Literals.
	TokenIdent    // identifier (column name, table name)
	TokenIntLit   // integer literal
	TokenFloatLit // floating-point literal
	TokenStrLit   // single-quoted string literal

	// Operators.
	TokenEq    // =
	TokenNotEq // != or <>
	TokenLt    // <
	TokenGt    // >
	TokenLtEq  // <=
	TokenGtEq  // >=
	TokenPlus  // +
	TokenMinus // -
	TokenSlash // /

	// Punctuation.
	TokenLParen    // (
	TokenRParen    // )
	TokenLBracket  // [
	TokenRBracket  // ]
	TokenComma     // ,
	TokenSemicolon // ;
	TokenStar      // *
	TokenDot       // .

	// Keywords. The DSL accepts keywords in uppercase only; a lowercase
	// spelling lexes as a plain identifier and fails at parse time with
	// the uppercase guidance.
	TokenSelect
	TokenFrom
	TokenWhere
	TokenGroup
	TokenBy
	TokenJoin
	TokenOn
	TokenAnd
	TokenOr
	TokenOf
	TokenPublic
	TokenPrivate
	TokenAvg
	TokenSum
	TokenCount
	TokenMin
	TokenMax
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenIllegal:   "ILLEGAL",
	TokenIdent:     "IDENT",
	TokenIntLit:    "INT",
	TokenFloatLit:  "FLOAT",
	TokenStrLit:    "STRING",
	TokenEq:        "=",
	TokenNotEq:     "!=",
	TokenLt:        "<",
	TokenGt:        ">",
	TokenLtEq:      "<=",
	TokenGtEq:      ">=",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenSlash:     "/",
	TokenLParen:    "(",
	TokenRParen:    ")",
	TokenLBracket:  "[",
	TokenRBracket:  "]",
	TokenComma:     ",",
	TokenSemicolon: ";",
	TokenStar:      "*",
	TokenDot:       ".",
	TokenSelect:    "SELECT",
	TokenFrom:      "FROM",
	TokenWhere:     "WHERE",
	TokenGroup:     "GROUP",
	TokenBy:        "BY",
	TokenJoin:      "JOIN",
	TokenOn:        "ON",
	TokenAnd:       "AND",
	TokenOr:        "OR",
	TokenOf:        "OF",
	TokenPublic:    "PUBLIC",
	TokenPrivate:   "PRIVATE",
	TokenAvg:       "AVG",
	TokenSum:       "SUM",
	TokenCount:     "COUNT",
	TokenMin:       "MIN",
	TokenMax:       "MAX",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// Token is a single lexical unit produced by the lexer. Pos and End are
// byte offsets into the input; End points one past the last byte so the
// original text of the token is input[Pos:End].
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	End     int
}

var keywords = map[string]TokenType{
	"SELECT":  TokenSelect,
	"FROM":    TokenFrom,
	"WHERE":   TokenWhere,
	"GROUP":   TokenGroup,
	"BY":      TokenBy,
	"JOIN":    TokenJoin,
	"ON":      TokenOn,
	"AND":     TokenAnd,
	"OR":      TokenOr,
	"OF":      TokenOf,
	"PUBLIC":  TokenPublic,
	"PRIVATE": TokenPrivate,
	"AVG":     TokenAvg,
	"SUM":     TokenSum,
	"COUNT":   TokenCount,
	"MIN":     TokenMin,
	"MAX":     TokenMax,
}

// LookupKeyword returns the keyword token type for ident, or TokenIdent
// if it is not a keyword. Matching is exact: only the uppercase
// spelling is a keyword.
func LookupKeyword(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TokenIdent
}

// IsKeywordMiscased reports whether ident is a keyword written in the
// wrong case, e.g. "select" or "Avg". Used to produce the uppercase
// guidance in parse errors.
func IsKeywordMiscased(ident string) bool {
	upper := strings.ToUpper(ident)
	if upper == ident {
		return false
	}
	_, ok := keywords[upper]
	return ok
}

// isAggregateToken reports whether t names an aggregation function.
func isAggregateToken(t TokenType) bool {
	switch t {
	case TokenAvg, TokenSum, TokenCount, TokenMin, TokenMax:
		return true
	}
	return false
}
