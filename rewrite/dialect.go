package rewrite

import (
	"fmt"
	"strconv"
)

// Dialect selects the SQL flavor of emitted expressions.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// ClipExpr returns the expression that caps column at bound. SQLite
// uses the two-argument scalar MIN; Postgres reserves MIN for the
// aggregate and provides LEAST instead.
func (d Dialect) ClipExpr(column string, bound float64) string {
	if d == DialectPostgres {
		return fmt.Sprintf("LEAST(%s, %s)", column, formatBound(bound))
	}
	return fmt.Sprintf("MIN(%s, %s)", column, formatBound(bound))
}

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// formatBound renders a bound without exponent notation so the emitted
// SQL stays readable for any configured magnitude.
func formatBound(b float64) string {
	return strconv.FormatFloat(b, 'f', -1, 64)
}
