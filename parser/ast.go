package parser

// The AST mirrors the query grammar: one Query with a select list, a
// from target, optional joins, an optional predicate and an optional
// group-by. Every node records its byte span over the original input
// so later passes can splice replacement text precisely.

// span carries the byte offsets [start, end) of a node in the input.
type span struct {
	start, end int
}

// Pos returns the byte offset of the node's first character.
func (s span) Pos() int { return s.start }

// End returns the byte offset one past the node's last character.
func (s span) End() int { return s.end }

// SelectItem is the interface implemented by select-list entries.
// The unexported marker method restricts implementations to this package.
type SelectItem interface {
	selectItemNode()
	Pos() int
	End() int
}

// Expr is the interface implemented by all expression AST nodes.
type Expr interface {
	exprNode()
	Pos() int
	End() int
}

// Label classifies a column reference in the query text.
type Label int

const (
	LabelNone Label = iota
	LabelPublic
	LabelPrivate
)

func (l Label) String() string {
	switch l {
	case LabelPublic:
		return "PUBLIC"
	case LabelPrivate:
		return "PRIVATE"
	default:
		return ""
	}
}

// ColumnRef is a possibly table-qualified column name.
type ColumnRef struct {
	Table string // "" when unqualified
	Name  string
}

// String returns "table.name" for qualified refs, or just "name".
func (r ColumnRef) String() string {
	if r.Table != "" {
		return r.Table + "." + r.Name
	}
	return r.Name
}

// ---------------------------------------------------------------------------
// Query structure
// ---------------------------------------------------------------------------

// Query is the root node:
// SELECT <items> FROM <table> [JOIN <table> ON <col>=<col>]* [WHERE <pred>] [GROUP BY <cols>]
type Query struct {
	Select  SelectClause
	From    FromClause
	Joins   []JoinClause
	Where   *WhereClause   // nil when absent
	GroupBy *GroupByClause // nil when absent
	span
}

// SelectClause holds the ordered select list.
type SelectClause struct {
	Items []SelectItem
	span
}

// FromClause names the queried table.
type FromClause struct {
	Table string
	span
}

// JoinClause is one JOIN <table> ON <left>=<right>.
type JoinClause struct {
	Table    string
	LeftCol  ColumnRef
	RightCol ColumnRef
	span
}

// WhereClause holds the filter predicate.
type WhereClause struct {
	Cond Expr
	span
}

// GroupByClause holds the ordered grouping columns.
type GroupByClause struct {
	Columns []GroupByColumn
	span
}

// GroupByColumn is one grouping key, optionally labeled.
type GroupByColumn struct {
	Label  Label
	Column ColumnRef
	span
}

// ---------------------------------------------------------------------------
// Select items
// ---------------------------------------------------------------------------

// Aggregation is <func>(<operand> [OF [<epsilon>]]).
type Aggregation struct {
	Func    string // uppercased: "AVG", "SUM", "MIN", "MAX"
	Operand Expr
	Budget  *Budget // nil when no OF annotation
	span
}

// CountStar is COUNT(*).
type CountStar struct {
	span
}

// PlainExpr is a bare (non-aggregated) select item.
type PlainExpr struct {
	Expr Expr
	span
}

// Budget is the OF [<number>] epsilon annotation on an aggregation.
// Epsilon keeps the literal text; resolution to a value happens later.
type Budget struct {
	Epsilon string
	span
}

func (*Aggregation) selectItemNode() {}
func (*CountStar) selectItemNode()   {}
func (*PlainExpr) selectItemNode()   {}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// LabeledColumn is a column reference with an optional PUBLIC/PRIVATE label.
type LabeledColumn struct {
	Label  Label
	Column ColumnRef
	span
}

// IntegerLit is an integer literal.
type IntegerLit struct {
	Value int64
	span
}

// FloatLit is a floating-point literal.
type FloatLit struct {
	Value float64
	span
}

// StringLit is a single-quoted string literal.
type StringLit struct {
	Value string
	span
}

// BinaryExpr is left op right.
// Op is one of: "=", "!=", "<", ">", "<=", ">=", "+", "-", "*", "/", "AND", "OR".
type BinaryExpr struct {
	Left  Expr
	Op    string
	Right Expr
	span
}

// ParenExpr is a parenthesized expression.
type ParenExpr struct {
	Expr Expr
	span
}

func (*LabeledColumn) exprNode() {}
func (*IntegerLit) exprNode()    {}
func (*FloatLit) exprNode()      {}
func (*StringLit) exprNode()     {}
func (*BinaryExpr) exprNode()    {}
func (*ParenExpr) exprNode()     {}
