// Package budget tracks per-principal epsilon spending. A query is
// affordable when spent+cost stays within the session maximum;
// affordability check, execution and commit happen under one
// per-principal lock so concurrent queries can never both spend
// against the same stale remaining value.
package budget

import (
	"sort"
	"sync"
	"time"

	"veilql/deepsize"
	"veilql/qerror"
)

// Entry records one committed spend.
type Entry struct {
	QueryHash      string    `json:"query_hash"`
	Cost           float64   `json:"cost"`
	RemainingAfter float64   `json:"remaining_after"`
	Timestamp      time.Time `json:"timestamp"`
}

// Status is a point-in-time snapshot of one principal's ledger.
type Status struct {
	Remaining float64 `json:"remaining"`
	Spent     float64 `json:"spent"`
	Max       float64 `json:"max"`
	Queries   int     `json:"queries"`
}

type ledger struct {
	mu      sync.Mutex
	spent   float64
	history []Entry
}

// Manager holds the ledgers of all principals seen so far. Ledgers are
// created lazily with zero spent.
type Manager struct {
	mu      sync.Mutex
	max     float64
	ledgers map[string]*ledger
}

// NewManager returns a Manager enforcing the given per-session
// maximum.
func NewManager(max float64) *Manager {
	return &Manager{max: max, ledgers: make(map[string]*ledger)}
}

func (m *Manager) ledgerFor(principal string) *ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[principal]
	if !ok {
		l = &ledger{}
		m.ledgers[principal] = l
	}
	return l
}

// Charge runs fn as the atomic check-then-spend unit for one
// principal: it refuses immediately when cost is unaffordable, runs fn
// otherwise, and commits the spend only when fn returns nil. The
// principal's ledger stays locked for the whole unit, so concurrent
// charges serialize. ref is recorded in the spend history, typically a
// query hash. The returned remaining reflects the ledger after the
// call.
func (m *Manager) Charge(principal string, cost float64, ref string, fn func() error) (float64, error) {
	l := m.ledgerFor(principal)
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.spent+cost > m.max {
		remaining := m.remainingLocked(l)
		return remaining, qerror.Budget(cost, remaining)
	}
	if err := fn(); err != nil {
		return m.remainingLocked(l), err
	}
	l.spent += cost
	remaining := m.remainingLocked(l)
	l.history = append(l.history, Entry{
		QueryHash:      ref,
		Cost:           cost,
		RemainingAfter: remaining,
		Timestamp:      time.Now(),
	})
	return remaining, nil
}

// remainingLocked computes the floored remaining budget. Caller holds
// l.mu.
func (m *Manager) remainingLocked(l *ledger) float64 {
	r := m.max - l.spent
	if r < 0 {
		return 0
	}
	return r
}

// Remaining returns the principal's remaining budget.
func (m *Manager) Remaining(principal string) float64 {
	l := m.ledgerFor(principal)
	l.mu.Lock()
	defer l.mu.Unlock()
	return m.remainingLocked(l)
}

// Status returns the principal's ledger snapshot.
func (m *Manager) Status(principal string) Status {
	l := m.ledgerFor(principal)
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Remaining: m.remainingLocked(l),
		Spent:     l.spent,
		Max:       m.max,
		Queries:   len(l.history),
	}
}

// History returns a copy of the principal's spend history in commit
// order.
func (m *Manager) History(principal string) []Entry {
	l := m.ledgerFor(principal)
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.history))
	copy(out, l.history)
	return out
}

// Reset zeroes the principal's spent budget and clears its history.
// Destructive; intended for the administrative surface only.
func (m *Manager) Reset(principal string) {
	l := m.ledgerFor(principal)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent = 0
	l.history = nil
}

// Principals lists every principal with a ledger, sorted.
func (m *Manager) Principals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ledgers))
	for p := range m.ledgers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Footprint reports the deep memory size of one principal's ledger.
type Footprint struct {
	Principal string `json:"principal"`
	Bytes     int64  `json:"bytes"`
}

// MemoryUsage estimates the in-memory size of each ledger, sorted by
// principal. History entries dominate long-lived ledgers.
func (m *Manager) MemoryUsage() []Footprint {
	out := make([]Footprint, 0)
	for _, p := range m.Principals() {
		l := m.ledgerFor(p)
		l.mu.Lock()
		b := deepsize.Of(l)
		l.mu.Unlock()
		out = append(out, Footprint{Principal: p, Bytes: b})
	}
	return out
}
