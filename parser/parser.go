package parser

import (
	"fmt"
	"strconv"
)

// parser is the internal recursive-descent parser. Use the exported Parse
// function as the public entry point.
type parser struct {
	lexer   *Lexer
	cur     Token
	prevEnd int
}

// Parse parses a single query from input.
func Parse(input string) (*Query, error) {
	p := &parser{lexer: NewLexer(input)}
	p.next()

	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}

	// Allow an optional trailing semicolon.
	if p.cur.Type == TokenSemicolon {
		p.next()
	}
	if p.cur.Type != TokenEOF {
		return nil, fmt.Errorf("unexpected %q after query at position %d",
			p.cur.Literal, p.cur.Pos)
	}
	return q, nil
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func (p *parser) next() {
	p.prevEnd = p.cur.End
	p.cur = p.lexer.NextToken()
}

func (p *parser) expect(t TokenType) (Token, error) {
	tok := p.cur
	if tok.Type != t {
		if tok.Type == TokenIdent && IsKeywordMiscased(tok.Literal) {
			return tok, fmt.Errorf("keyword %q must be written in uppercase at position %d",
				tok.Literal, tok.Pos)
		}
		return tok, fmt.Errorf("expected %s, got %q at position %d",
			t, tok.Literal, tok.Pos)
	}
	p.next()
	return tok, nil
}

func (p *parser) unexpected() error {
	if p.cur.Type == TokenEOF {
		return fmt.Errorf("unexpected end of input")
	}
	if p.cur.Type == TokenIdent && IsKeywordMiscased(p.cur.Literal) {
		return fmt.Errorf("keyword %q must be written in uppercase at position %d",
			p.cur.Literal, p.cur.Pos)
	}
	return fmt.Errorf("unexpected %q at position %d", p.cur.Literal, p.cur.Pos)
}

// -------------------------------------------------------------------------
// Query parsing
// -------------------------------------------------------------------------

func (p *parser) parseQuery() (*Query, error) {
	selTok, err := p.expect(TokenSelect)
	if err != nil {
		return nil, err
	}

	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.cur.Type != TokenComma {
			break
		}
		p.next() // skip comma
	}
	sel := SelectClause{Items: items, span: span{selTok.Pos, p.prevEnd}}

	fromTok, err := p.expect(TokenFrom)
	if err != nil {
		return nil, err
	}
	table, err := p.expect(TokenIdent)
	if err != nil {
		return nil, err
	}
	from := FromClause{Table: table.Literal, span: span{fromTok.Pos, table.End}}

	var joins []JoinClause
	for p.cur.Type == TokenJoin {
		j, err := p.parseJoin()
		if err != nil {
			return nil, err
		}
		joins = append(joins, j)
	}

	var where *WhereClause
	if p.cur.Type == TokenWhere {
		whereTok := p.cur
		p.next()
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = &WhereClause{Cond: cond, span: span{whereTok.Pos, cond.End()}}
	}

	var groupBy *GroupByClause
	if p.cur.Type == TokenGroup {
		groupBy, err = p.parseGroupBy()
		if err != nil {
			return nil, err
		}
	}

	return &Query{
		Select:  sel,
		From:    from,
		Joins:   joins,
		Where:   where,
		GroupBy: groupBy,
		span:    span{selTok.Pos, p.prevEnd},
	}, nil
}

func (p *parser) parseSelectItem() (SelectItem, error) {
	if p.cur.Type == TokenCount {
		return p.parseCountStar()
	}
	if isAggregateToken(p.cur.Type) {
		return p.parseAggregation()
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &PlainExpr{Expr: expr, span: span{expr.Pos(), expr.End()}}, nil
}

func (p *parser) parseCountStar() (*CountStar, error) {
	countTok := p.cur
	p.next() // skip COUNT
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenStar); err != nil {
		return nil, fmt.Errorf("COUNT supports only COUNT(*) at position %d", countTok.Pos)
	}
	rparen, err := p.expect(TokenRParen)
	if err != nil {
		return nil, err
	}
	return &CountStar{span: span{countTok.Pos, rparen.End}}, nil
}

func (p *parser) parseAggregation() (*Aggregation, error) {
	funcTok := p.cur
	p.next() // skip function keyword
	if _, err := p.expect(TokenLParen); err != nil {
		return nil, err
	}

	operand, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	var budget *Budget
	if p.cur.Type == TokenOf {
		budget, err = p.parseBudget()
		if err != nil {
			return nil, err
		}
	}

	rparen, err := p.expect(TokenRParen)
	if err != nil {
		return nil, err
	}

	return &Aggregation{
		Func:    funcTok.Type.String(),
		Operand: operand,
		Budget:  budget,
		span:    span{funcTok.Pos, rparen.End},
	}, nil
}

func (p *parser) parseBudget() (*Budget, error) {
	ofTok := p.cur
	p.next() // skip OF
	if _, err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}
	eps := p.cur
	if eps.Type != TokenIntLit && eps.Type != TokenFloatLit {
		return nil, fmt.Errorf("expected epsilon value, got %q at position %d",
			eps.Literal, eps.Pos)
	}
	p.next()
	rbracket, err := p.expect(TokenRBracket)
	if err != nil {
		return nil, err
	}
	return &Budget{Epsilon: eps.Literal, span: span{ofTok.Pos, rbracket.End}}, nil
}

func (p *parser) parseJoin() (JoinClause, error) {
	joinTok := p.cur
	p.next() // skip JOIN
	table, err := p.expect(TokenIdent)
	if err != nil {
		return JoinClause{}, err
	}
	if _, err := p.expect(TokenOn); err != nil {
		return JoinClause{}, err
	}
	left, _, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	if _, err := p.expect(TokenEq); err != nil {
		return JoinClause{}, err
	}
	right, rightSpan, err := p.parseColumnRef()
	if err != nil {
		return JoinClause{}, err
	}
	return JoinClause{
		Table:    table.Literal,
		LeftCol:  left,
		RightCol: right,
		span:     span{joinTok.Pos, rightSpan.end},
	}, nil
}

func (p *parser) parseGroupBy() (*GroupByClause, error) {
	groupTok := p.cur
	p.next() // skip GROUP
	if _, err := p.expect(TokenBy); err != nil {
		return nil, err
	}

	var cols []GroupByColumn
	for {
		col, err := p.parseGroupByColumn()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.cur.Type != TokenComma {
			break
		}
		p.next() // skip comma
	}

	return &GroupByClause{Columns: cols, span: span{groupTok.Pos, p.prevEnd}}, nil
}

func (p *parser) parseGroupByColumn() (GroupByColumn, error) {
	start := p.cur.Pos
	label := LabelNone
	switch p.cur.Type {
	case TokenPublic:
		label = LabelPublic
		p.next()
	case TokenPrivate:
		label = LabelPrivate
		p.next()
	}
	ref, refSpan, err := p.parseColumnRef()
	if err != nil {
		return GroupByColumn{}, err
	}
	return GroupByColumn{Label: label, Column: ref, span: span{start, refSpan.end}}, nil
}

// parseColumnRef parses ident or ident.ident and returns the ref with
// its span.
func (p *parser) parseColumnRef() (ColumnRef, span, error) {
	name, err := p.expect(TokenIdent)
	if err != nil {
		return ColumnRef{}, span{}, err
	}
	if p.cur.Type == TokenDot {
		p.next() // skip dot
		second, err := p.expect(TokenIdent)
		if err != nil {
			return ColumnRef{}, span{}, err
		}
		return ColumnRef{Table: name.Literal, Name: second.Literal},
			span{name.Pos, second.End}, nil
	}
	return ColumnRef{Name: name.Literal}, span{name.Pos, name.End}, nil
}

// -------------------------------------------------------------------------
// Expression parsing (precedence: OR < AND < comparison < additive < multiplicative)
// -------------------------------------------------------------------------

func (p *parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "OR", Right: right, span: span{left.Pos(), right.End()}}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: "AND", Right: right, span: span{left.Pos(), right.End()}}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	var op string
	switch p.cur.Type {
	case TokenEq:
		op = "="
	case TokenNotEq:
		op = "!="
	case TokenLt:
		op = "<"
	case TokenGt:
		op = ">"
	case TokenLtEq:
		op = "<="
	case TokenGtEq:
		op = ">="
	default:
		return left, nil
	}

	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &BinaryExpr{Left: left, Op: op, Right: right, span: span{left.Pos(), right.End()}}, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenPlus || p.cur.Type == TokenMinus {
		op := "+"
		if p.cur.Type == TokenMinus {
			op = "-"
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right, span: span{left.Pos(), right.End()}}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.cur.Type == TokenStar || p.cur.Type == TokenSlash {
		op := "*"
		if p.cur.Type == TokenSlash {
			op = "/"
		}
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right, span: span{left.Pos(), right.End()}}
	}
	return left, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.cur.Type {
	case TokenIntLit:
		tok := p.cur
		val, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", tok.Literal, err)
		}
		p.next()
		return &IntegerLit{Value: val, span: span{tok.Pos, tok.End}}, nil
	case TokenFloatLit:
		tok := p.cur
		val, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", tok.Literal, err)
		}
		p.next()
		return &FloatLit{Value: val, span: span{tok.Pos, tok.End}}, nil
	case TokenStrLit:
		tok := p.cur
		p.next()
		return &StringLit{Value: tok.Literal, span: span{tok.Pos, tok.End}}, nil
	case TokenLParen:
		lparen := p.cur
		p.next()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		rparen, err := p.expect(TokenRParen)
		if err != nil {
			return nil, err
		}
		return &ParenExpr{Expr: expr, span: span{lparen.Pos, rparen.End}}, nil
	case TokenPublic, TokenPrivate:
		labelTok := p.cur
		label := LabelPublic
		if labelTok.Type == TokenPrivate {
			label = LabelPrivate
		}
		p.next()
		ref, refSpan, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		return &LabeledColumn{Label: label, Column: ref, span: span{labelTok.Pos, refSpan.end}}, nil
	case TokenIdent:
		ref, refSpan, err := p.parseColumnRef()
		if err != nil {
			return nil, err
		}
		return &LabeledColumn{Label: LabelNone, Column: ref, span: span{refSpan.start, refSpan.end}}, nil
	default:
		return nil, p.unexpected()
	}
}
