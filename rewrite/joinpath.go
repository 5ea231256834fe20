package rewrite

import (
	"strings"

	"veilql/config"
	"veilql/parser"
)

// JoinCondition is one ON equality between two join sides.
type JoinCondition struct {
	Left  string
	Right string
}

// JoinPath describes the join structure of a query. Joins let a single
// entity contribute multiple rows, so the noise scale is widened by
// Multiplier and execution caps each entity at MaxContributions rows.
type JoinPath struct {
	Tables        []string
	Conditions    []JoinCondition
	PrimaryEntity string // table whose rows are the protected entities

	MaxContributions int // per-entity row cap applied during execution
	Multiplier       int // sensitivity multiplier; 1 when elastic sensitivity is off
}

// AnalyzeJoins inspects a parsed query and returns its join path, or
// nil when the query reads a single table.
func AnalyzeJoins(q *parser.Query, policy *config.Policy) *JoinPath {
	if len(q.Joins) == 0 {
		return nil
	}
	tables := []string{q.From.Table}
	conds := make([]JoinCondition, 0, len(q.Joins))
	for _, j := range q.Joins {
		tables = append(tables, j.Table)
		conds = append(conds, JoinCondition{Left: j.LeftCol.String(), Right: j.RightCol.String()})
	}
	mult := 1
	if policy.ElasticSensitivity {
		mult = policy.MaxContributions
	}
	return &JoinPath{
		Tables:           tables,
		Conditions:       conds,
		PrimaryEntity:    primaryEntity(tables, policy.EntityHints),
		MaxContributions: policy.MaxContributions,
		Multiplier:       mult,
	}
}

// primaryEntity picks the first table whose name contains an entity
// hint, defaulting to the FROM table.
func primaryEntity(tables, hints []string) string {
	for _, t := range tables {
		lower := strings.ToLower(t)
		for _, h := range hints {
			if strings.Contains(lower, strings.ToLower(h)) {
				return t
			}
		}
	}
	return tables[0]
}

// EntityAlias is the column name the materialization statement gives
// the entity key. Joined rows usually carry two "id" columns, one per
// table, and drivers return both under the bare name; the alias keeps
// entity resolution unambiguous.
const EntityAlias = "__entity_id"

// EntityKey returns the join-key column on the primary entity's side
// of the ON conditions, qualified with the table name. Returns "" when
// no condition references the entity table by qualifier; the
// materialization then falls back to name-based resolution.
func (p *JoinPath) EntityKey() string {
	table := strings.ToLower(p.PrimaryEntity)
	for _, c := range p.Conditions {
		for _, side := range []string{c.Left, c.Right} {
			if i := strings.IndexByte(side, '.'); i >= 0 && strings.ToLower(side[:i]) == table {
				return side
			}
		}
	}
	return ""
}

// EntityColumn resolves which of the given result columns identifies
// the protected entity. The materialization alias wins outright; the
// name candidates are tried in order: "id", "<table>.id", "<table>_id",
// the singular "_id" form, then any column mentioning the table name
// together with "id". Returns "" when nothing matches; callers treat
// that as clipping being unavailable, not as an error.
func (p *JoinPath) EntityColumn(columns []string) string {
	for _, c := range columns {
		if strings.EqualFold(c, EntityAlias) {
			return c
		}
	}
	table := strings.ToLower(p.PrimaryEntity)
	singular := strings.TrimSuffix(table, "s")
	for _, want := range []string{"id", table + ".id", table + "_id", singular + "_id"} {
		for _, c := range columns {
			if strings.EqualFold(c, want) {
				return c
			}
		}
	}
	for _, c := range columns {
		lc := strings.ToLower(c)
		if strings.Contains(lc, singular) && strings.Contains(lc, "id") {
			return c
		}
	}
	return ""
}
