// Package rewrite turns a parsed query into executable SQL with the
// privacy transforms applied: labels stripped, PRIVATE aggregation
// operands clipped to their configured bounds, Laplace noise appended
// and the total epsilon cost accounted. Validation and rewriting
// happen in one pass over the AST, and every violation is collected so
// the caller sees all of them at once rather than the first.
package rewrite

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"veilql/config"
	"veilql/noise"
	"veilql/parser"
	"veilql/qerror"
)

// ItemKind distinguishes the two shapes a select item can take in the
// rewritten output.
type ItemKind int

const (
	ItemColumn    ItemKind = iota // plain output column, usually a group key
	ItemAggregate                 // aggregation, possibly noised
)

// Aggregate describes one aggregation in the select list after
// analysis. For PRIVATE aggregations Bound is the clip applied inside
// the emitted SQL, Scale the Laplace scale derived from the effective
// sensitivity and Noise the sampled value already appended to the
// query text. COUNT(*) and non-PRIVATE aggregations carry zero values.
type Aggregate struct {
	Func    string // AVG, SUM, MIN, MAX or COUNT
	Column  string // "" for COUNT(*)
	Bound   float64
	Epsilon float64
	Scale   float64
	Noise   float64
	Private bool
}

// Item is one entry of the rewritten select list, in output order.
type Item struct {
	Kind   ItemKind
	Column string     // source column name for ItemColumn; "" when opaque
	Agg    *Aggregate // set for ItemAggregate
}

// Result is the outcome of a successful rewrite.
type Result struct {
	Query       string  // rewritten, normalized SQL
	Materialize string  // raw-row companion for join clipping; "" without joins
	Items       []Item  // select list structure, in output order
	GroupBy     []string
	TotalCost   float64 // summed epsilon across PRIVATE aggregations
	Join        *JoinPath
}

// Rewriter validates and rewrites parsed queries under a fixed policy.
type Rewriter struct {
	policy  *config.Policy
	dialect Dialect
	noise   *noise.Laplace
}

// New returns a Rewriter for the given policy and SQL dialect, drawing
// noise from sampler.
func New(policy *config.Policy, dialect Dialect, sampler *noise.Laplace) *Rewriter {
	return &Rewriter{policy: policy, dialect: dialect, noise: sampler}
}

// Rewrite validates q against the label rules and produces the
// privacy-rewritten SQL. input must be the exact text q was parsed
// from; node spans index into it. On label or epsilon violations the
// returned error carries every accumulated message.
func (r *Rewriter) Rewrite(input string, q *parser.Query) (*Result, error) {
	p := &pass{r: r, jp: AnalyzeJoins(q, r.policy)}

	for _, it := range q.Select.Items {
		switch v := it.(type) {
		case *parser.CountStar:
			p.items = append(p.items, Item{Kind: ItemAggregate, Agg: &Aggregate{Func: "COUNT"}})
		case *parser.Aggregation:
			p.aggregation(v)
		case *parser.PlainExpr:
			p.expr(v.Expr)
			name := ""
			if lc, ok := v.Expr.(*parser.LabeledColumn); ok {
				name = lc.Column.Name
			}
			p.items = append(p.items, Item{Kind: ItemColumn, Column: name})
		}
	}
	if q.Where != nil {
		p.expr(q.Where.Cond)
	}
	if q.GroupBy != nil {
		for _, gc := range q.GroupBy.Columns {
			switch gc.Label {
			case parser.LabelPrivate:
				p.fail("GROUP BY on PRIVATE column '%s' is not allowed", gc.Column.Name)
			case parser.LabelPublic:
				p.replace(gc.Pos(), gc.End(), gc.Column.String())
				p.groupBy = append(p.groupBy, gc.Column.Name)
			default:
				p.groupBy = append(p.groupBy, gc.Column.Name)
			}
		}
	}

	if len(p.errs) > 0 {
		return nil, qerror.Validation(p.errs)
	}

	res := &Result{
		Query:     Normalize(splice(input, p.edits)),
		Items:     p.items,
		GroupBy:   p.groupBy,
		TotalCost: p.total,
		Join:      p.jp,
	}
	if p.jp != nil {
		res.Materialize = materializeSQL(input, q, p.jp, p.edits)
	}
	return res, nil
}

// pass carries the state of one rewrite walk.
type pass struct {
	r       *Rewriter
	jp      *JoinPath
	errs    []string
	edits   []edit
	items   []Item
	groupBy []string
	total   float64
}

func (p *pass) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

func (p *pass) replace(start, end int, text string) {
	p.edits = append(p.edits, edit{start: start, end: end, text: text})
}

// aggregation analyzes one aggregation call. PRIVATE operands are
// clipped and noised; PUBLIC and unlabeled operands pass through with
// the label dropped.
func (p *pass) aggregation(a *parser.Aggregation) {
	lc, ok := a.Operand.(*parser.LabeledColumn)
	if !ok {
		p.fail("%s over an expression is not supported; aggregate a single column", a.Func)
		return
	}
	if a.Budget != nil && lc.Label != parser.LabelPrivate {
		p.fail("epsilon budget on column '%s' requires a PRIVATE label", lc.Column.Name)
		return
	}
	if lc.Label != parser.LabelPrivate {
		if lc.Label == parser.LabelPublic {
			p.replace(lc.Pos(), lc.End(), lc.Column.String())
		}
		p.items = append(p.items, Item{Kind: ItemAggregate, Agg: &Aggregate{Func: a.Func, Column: lc.Column.Name}})
		return
	}

	bound := p.r.policy.BoundFor(lc.Column.Name)
	eps := p.r.policy.DefaultEpsilon
	if a.Budget != nil {
		v, err := strconv.ParseFloat(a.Budget.Epsilon, 64)
		if err != nil {
			p.fail("invalid epsilon %q", a.Budget.Epsilon)
			return
		}
		eps = v
	}
	if eps > p.r.policy.MaxEpsilonPerQuery {
		p.fail("Epsilon %g exceeds maximum allowed %g", eps, p.r.policy.MaxEpsilonPerQuery)
		return
	}
	if eps <= 0 {
		p.fail("Epsilon %g must be positive", eps)
		return
	}

	// Elastic sensitivity widens the noise scale under joins; the clip
	// bound itself never scales.
	effective := bound
	if p.jp != nil {
		effective = bound * float64(p.jp.Multiplier)
	}
	scale := effective / eps
	nv := p.r.noise.Sample(scale)

	clip := p.r.dialect.ClipExpr(lc.Column.String(), bound)
	p.replace(a.Pos(), a.End(), fmt.Sprintf("%s(%s) + %.2f", a.Func, clip, nv))
	p.total += eps
	p.items = append(p.items, Item{Kind: ItemAggregate, Agg: &Aggregate{
		Func:    a.Func,
		Column:  lc.Column.Name,
		Bound:   bound,
		Epsilon: eps,
		Scale:   scale,
		Noise:   nv,
		Private: true,
	}})
}

// expr walks an expression outside aggregation position. PRIVATE there
// is always an error; PUBLIC labels are stripped.
func (p *pass) expr(e parser.Expr) {
	switch v := e.(type) {
	case *parser.LabeledColumn:
		switch v.Label {
		case parser.LabelPrivate:
			p.fail("PRIVATE column '%s' cannot be selected directly. Use aggregation with DP noise: AVG(PRIVATE %s OF [ε])",
				v.Column.Name, v.Column.Name)
		case parser.LabelPublic:
			p.replace(v.Pos(), v.End(), v.Column.String())
		}
	case *parser.BinaryExpr:
		p.expr(v.Left)
		p.expr(v.Right)
	case *parser.ParenExpr:
		p.expr(v.Expr)
	}
}

// materializeSQL builds the raw-row companion executed when join
// clipping applies: the same FROM, JOIN and WHERE, selecting every
// column so execution can cap contributions and recompute the
// aggregates in process. The entity key from the ON conditions leads
// the select list under a fixed alias, so execution never has to guess
// between the duplicate id columns a join produces.
func materializeSQL(input string, q *parser.Query, jp *JoinPath, edits []edit) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if key := jp.EntityKey(); key != "" {
		fmt.Fprintf(&b, "%s AS %s, ", key, EntityAlias)
	}
	b.WriteString("* FROM ")
	b.WriteString(q.From.Table)
	for _, j := range q.Joins {
		fmt.Fprintf(&b, " JOIN %s ON %s = %s", j.Table, j.LeftCol, j.RightCol)
	}
	if q.Where != nil {
		b.WriteString(" WHERE ")
		b.WriteString(spliceWithin(input, q.Where.Cond.Pos(), q.Where.Cond.End(), edits))
	}
	return Normalize(b.String())
}

// edit is one span replacement over the original input.
type edit struct {
	start, end int
	text       string
}

// splice applies non-overlapping span replacements to input.
func splice(input string, edits []edit) string {
	sorted := make([]edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })

	var b strings.Builder
	last := 0
	for _, e := range sorted {
		if e.start < last {
			continue
		}
		b.WriteString(input[last:e.start])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(input[last:])
	return b.String()
}

// spliceWithin applies the subset of edits falling inside [start, end)
// to that slice of the input.
func spliceWithin(input string, start, end int, edits []edit) string {
	var local []edit
	for _, e := range edits {
		if e.start >= start && e.end <= end {
			local = append(local, edit{start: e.start - start, end: e.end - start, text: e.text})
		}
	}
	return splice(input[start:end], local)
}
