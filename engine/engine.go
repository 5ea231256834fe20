// Package engine runs rewritten SQL against the underlying relational
// store. Two engines are provided: an embedded SQLite database and a
// Postgres pool. Execute layers per-entity contribution capping on top
// of either one for join queries.
package engine

import (
	"context"
	"fmt"

	"veilql/config"
	"veilql/rewrite"
)

// Result holds an executed query's output. Row values keep the
// driver's native types.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Engine is the minimal store surface the query pipeline needs.
type Engine interface {
	// Query runs one statement and returns all rows.
	Query(ctx context.Context, sql string) (*Result, error)
	// Exec runs a statement without result rows, with placeholder args.
	Exec(ctx context.Context, sql string, args ...any) error
	// Dialect reports the SQL flavor rewritten queries must target.
	Dialect() rewrite.Dialect
	Close() error
}

// Open connects the engine selected by cfg.
func Open(ctx context.Context, cfg config.Engine) (Engine, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	case "sqlite":
		return OpenSQLite(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown engine driver %q", cfg.Driver)
	}
}
