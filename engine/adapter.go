package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"veilql/rewrite"
)

// Execute runs a rewritten query. Without joins the emitted SQL runs
// as-is. With joins the companion statement materializes the raw
// joined rows first, each entity's contributions are capped, and the
// aggregates are recomputed in process with the noise sampled at
// rewrite time. When no entity column can be resolved the capping step
// is skipped with a warning rather than failing the query.
func Execute(ctx context.Context, eng Engine, res *rewrite.Result, logger *zap.Logger) (*Result, error) {
	if res.Join == nil {
		return eng.Query(ctx, res.Query)
	}

	raw, err := eng.Query(ctx, res.Materialize)
	if err != nil {
		return nil, err
	}
	entity := res.Join.EntityColumn(raw.Columns)
	if entity == "" {
		logger.Warn("entity column not found, skipping contribution capping",
			zap.String("table", res.Join.PrimaryEntity),
			zap.Strings("columns", raw.Columns))
		return eng.Query(ctx, res.Query)
	}

	capped, suppressed := capContributions(raw.Rows, columnIndex(raw.Columns, entity), res.Join.MaxContributions)
	if suppressed > 0 {
		logger.Debug("contribution capping suppressed rows",
			zap.String("entity", entity), zap.Int("suppressed", suppressed))
	}
	return recompute(res, raw.Columns, capped)
}

// capContributions keeps at most max rows per entity key, preserving
// row order, and reports how many rows were suppressed.
func capContributions(rows [][]any, entityIdx, max int) ([][]any, int) {
	counts := make(map[string]int)
	kept := make([][]any, 0, len(rows))
	for _, r := range rows {
		k := fmt.Sprint(r[entityIdx])
		if counts[k] >= max {
			continue
		}
		counts[k]++
		kept = append(kept, r)
	}
	return kept, len(rows) - len(kept)
}

// recompute evaluates the select list over the capped rows, grouping
// by the query's group-by keys in first-seen order. PRIVATE aggregates
// are clipped per value and perturbed with the noise carried on the
// rewrite result.
func recompute(res *rewrite.Result, columns []string, rows [][]any) (*Result, error) {
	groupIdx := make([]int, len(res.GroupBy))
	for i, g := range res.GroupBy {
		idx := columnIndex(columns, g)
		if idx < 0 {
			return nil, fmt.Errorf("group column %q missing from materialized rows", g)
		}
		groupIdx[i] = idx
	}

	type group struct {
		rows [][]any
	}
	var order []string
	groups := make(map[string]*group)
	if len(groupIdx) == 0 {
		// Ungrouped aggregates reduce everything to a single group,
		// present even when no rows matched.
		order = append(order, "")
		groups[""] = &group{rows: rows}
	} else {
		for _, r := range rows {
			var sb strings.Builder
			for _, gi := range groupIdx {
				fmt.Fprintf(&sb, "%v\x00", r[gi])
			}
			ks := sb.String()
			g, ok := groups[ks]
			if !ok {
				g = &group{}
				groups[ks] = g
				order = append(order, ks)
			}
			g.rows = append(g.rows, r)
		}
	}

	out := &Result{Columns: outputColumns(res.Items)}
	for _, ks := range order {
		g := groups[ks]
		row := make([]any, len(res.Items))
		for i, it := range res.Items {
			switch it.Kind {
			case rewrite.ItemColumn:
				idx := columnIndex(columns, it.Column)
				if idx < 0 {
					return nil, fmt.Errorf("column %q missing from materialized rows", it.Column)
				}
				if len(g.rows) > 0 {
					row[i] = g.rows[0][idx]
				}
			case rewrite.ItemAggregate:
				v, err := evalAggregate(it.Agg, columns, g.rows)
				if err != nil {
					return nil, err
				}
				row[i] = v
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// evalAggregate computes one aggregate over a group. NULL and
// non-numeric values are skipped, matching SQL aggregate semantics;
// an empty value set yields NULL except for COUNT.
func evalAggregate(a *rewrite.Aggregate, columns []string, rows [][]any) (any, error) {
	if a.Func == "COUNT" {
		return int64(len(rows)), nil
	}
	idx := columnIndex(columns, a.Column)
	if idx < 0 {
		return nil, fmt.Errorf("column %q missing from materialized rows", a.Column)
	}

	var (
		sum        float64
		n          int
		minV, maxV float64
	)
	for _, r := range rows {
		f, ok := toFloat(r[idx])
		if !ok {
			continue
		}
		if a.Private && f > a.Bound {
			f = a.Bound
		}
		if n == 0 {
			minV, maxV = f, f
		} else if f < minV {
			minV = f
		} else if f > maxV {
			maxV = f
		}
		sum += f
		n++
	}
	if n == 0 {
		return nil, nil
	}

	var v float64
	switch a.Func {
	case "AVG":
		v = sum / float64(n)
	case "SUM":
		v = sum
	case "MIN":
		v = minV
	case "MAX":
		v = maxV
	default:
		return nil, fmt.Errorf("unsupported aggregate %q", a.Func)
	}
	if a.Private {
		v += a.Noise
	}
	return v, nil
}

// outputColumns synthesizes result column names for recomputed rows.
func outputColumns(items []rewrite.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		switch {
		case it.Kind == rewrite.ItemColumn:
			out[i] = it.Column
		case it.Agg.Column == "":
			out[i] = "COUNT(*)"
		default:
			out[i] = fmt.Sprintf("%s(%s)", it.Agg.Func, it.Agg.Column)
		}
	}
	return out
}

// columnIndex finds name among columns, tolerating a table qualifier
// on either side.
func columnIndex(columns []string, name string) int {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	for i, c := range columns {
		if strings.EqualFold(unqualified(c), unqualified(name)) {
			return i
		}
	}
	return -1
}

func unqualified(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
