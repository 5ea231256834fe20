// Package gateway wires the full query pipeline: compliance gate,
// parser, privacy rewrite, budget charge and execution. Every attempt
// produces exactly one audit record, blocked or not, and every error
// reaching a caller is one of the typed pipeline kinds.
package gateway

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"veilql/audit"
	"veilql/budget"
	"veilql/compliance"
	"veilql/config"
	"veilql/engine"
	"veilql/noise"
	"veilql/parser"
	"veilql/qerror"
	"veilql/rewrite"
)

// Response is a successful query outcome. The rewritten SQL is kept
// internal: exposing it would reveal the sampled noise and let a
// caller subtract it back out.
type Response struct {
	Columns         []string `json:"columns"`
	Rows            [][]any  `json:"rows"`
	PrivacyCost     float64  `json:"privacy_cost"`
	RemainingBudget float64  `json:"remaining_budget"`
}

// Gateway owns the per-process pipeline state. The engine and audit
// sink are injected and remain the caller's to close.
type Gateway struct {
	cfg      *config.Config
	checker  *compliance.Checker
	rewriter *rewrite.Rewriter
	ledger   *budget.Manager
	engine   engine.Engine
	sink     audit.Sink
	logger   *zap.Logger
}

// New assembles a gateway over the given engine and audit sink,
// drawing noise from sampler.
func New(cfg *config.Config, eng engine.Engine, sink audit.Sink, sampler *noise.Laplace, logger *zap.Logger) *Gateway {
	return &Gateway{
		cfg:      cfg,
		checker:  compliance.NewChecker(&cfg.Policy),
		rewriter: rewrite.New(&cfg.Policy, eng.Dialect(), sampler),
		ledger:   budget.NewManager(cfg.Policy.MaxBudgetPerSession),
		engine:   eng,
		sink:     sink,
		logger:   logger,
	}
}

// Process runs one query for a principal through the whole pipeline.
// The stages run in fixed order: compliance gate on raw text, parse,
// label validation and rewrite, then budget charge around execution.
// Failures at any stage block the query and are audited with the
// caller-visible reason.
func (g *Gateway) Process(ctx context.Context, principal, query string) (*Response, error) {
	rec := audit.Record{
		Principal: principal,
		Query:     query,
		QueryHash: audit.HashQuery(query),
	}
	defer func() { g.sink.Log(rec) }()

	fail := func(err error) error {
		rec.Blocked = true
		rec.Reason = err.Error()
		g.logger.Info("query blocked",
			zap.String("principal", principal),
			zap.String("hash", rec.QueryHash),
			zap.String("reason", rec.Reason))
		return err
	}

	if err := g.checker.Check(query); err != nil {
		return nil, fail(err)
	}
	ast, err := parser.Parse(query)
	if err != nil {
		return nil, fail(qerror.Syntax(err.Error()))
	}
	res, err := g.rewriter.Rewrite(query, ast)
	if err != nil {
		return nil, fail(err)
	}

	var out *engine.Result
	remaining, err := g.ledger.Charge(principal, res.TotalCost, rec.QueryHash, func() error {
		r, execErr := engine.Execute(ctx, g.engine, res, g.logger)
		if execErr != nil {
			g.logger.Error("execution failed",
				zap.String("principal", principal),
				zap.String("hash", rec.QueryHash),
				zap.Error(execErr))
			return qerror.Execution(execErr)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, fail(err)
	}

	rec.PrivacyCost = res.TotalCost
	rec.Result = fmt.Sprint(out.Rows)
	g.logger.Info("query executed",
		zap.String("principal", principal),
		zap.String("hash", rec.QueryHash),
		zap.Float64("cost", res.TotalCost),
		zap.Float64("remaining", remaining),
		zap.Int("rows", len(out.Rows)))

	return &Response{
		Columns:         out.Columns,
		Rows:            out.Rows,
		PrivacyCost:     res.TotalCost,
		RemainingBudget: remaining,
	}, nil
}

// BudgetStatus returns the principal's ledger snapshot.
func (g *Gateway) BudgetStatus(principal string) budget.Status {
	return g.ledger.Status(principal)
}

// BudgetHistory returns the principal's committed spends.
func (g *Gateway) BudgetHistory(principal string) []budget.Entry {
	return g.ledger.History(principal)
}

// ResetBudget zeroes the principal's ledger. Destructive.
func (g *Gateway) ResetBudget(principal string) {
	g.ledger.Reset(principal)
	g.logger.Warn("budget reset", zap.String("principal", principal))
}

// Principals lists every principal with ledger state.
func (g *Gateway) Principals() []string {
	return g.ledger.Principals()
}

// MemoryUsage reports the in-memory size of each principal's ledger.
func (g *Gateway) MemoryUsage() []budget.Footprint {
	return g.ledger.MemoryUsage()
}

// AuditTail returns the most recent audit records.
func (g *Gateway) AuditTail(n int) ([]audit.Record, error) {
	return g.sink.Tail(n)
}
