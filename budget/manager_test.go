package budget

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"veilql/qerror"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func nop() error { return nil }

func TestCharge_SequenceSpends(t *testing.T) {
	m := NewManager(10)

	for _, step := range []struct {
		cost float64
		want float64
	}{
		{2.0, 8.0},
		{1.0, 7.0},
		{0.5, 6.5},
	} {
		remaining, err := m.Charge("alice", step.cost, "h", nop)
		if err != nil {
			t.Fatalf("Charge(%g) failed: %v", step.cost, err)
		}
		if remaining != step.want {
			t.Errorf("Charge(%g) remaining = %g, want %g", step.cost, remaining, step.want)
		}
	}

	if _, err := m.Charge("alice", 7.0, "h", nop); err == nil {
		t.Fatal("Charge(7.0) = nil error, want budget exhaustion")
	} else {
		var qe *qerror.Error
		if !errors.As(err, &qe) || qe.Kind != qerror.KindBudget {
			t.Fatalf("Charge(7.0) error = %v, want budget kind", err)
		}
		if !strings.Contains(err.Error(), "need ε=7.00, have ε=6.50") {
			t.Errorf("error = %q, want need/have amounts", err.Error())
		}
	}

	st := m.Status("alice")
	if st.Spent != 3.5 || st.Remaining != 6.5 || st.Max != 10 || st.Queries != 3 {
		t.Errorf("Status = %+v, want spent 3.5, remaining 6.5, max 10, 3 queries", st)
	}
}

func TestCharge_UnaffordableSkipsExecution(t *testing.T) {
	m := NewManager(1)
	ran := false
	_, err := m.Charge("alice", 2.0, "h", func() error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("Charge = nil error, want budget exhaustion")
	}
	if ran {
		t.Error("execution ran despite unaffordable cost")
	}
	if st := m.Status("alice"); st.Spent != 0 || st.Queries != 0 {
		t.Errorf("Status = %+v, want untouched ledger", st)
	}
}

func TestCharge_ExecutionFailureDoesNotSpend(t *testing.T) {
	m := NewManager(10)
	boom := errors.New("engine down")
	_, err := m.Charge("alice", 1.0, "h", func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Charge error = %v, want execution error passed through", err)
	}
	if st := m.Status("alice"); st.Spent != 0 || st.Queries != 0 {
		t.Errorf("Status = %+v, want no spend after failed execution", st)
	}
}

// Zero-cost queries stay free even on an exhausted ledger.
func TestCharge_ZeroCost(t *testing.T) {
	m := NewManager(1)
	if _, err := m.Charge("alice", 1.0, "h", nop); err != nil {
		t.Fatalf("Charge(1.0) failed: %v", err)
	}
	remaining, err := m.Charge("alice", 0, "h", nop)
	if err != nil {
		t.Fatalf("Charge(0) failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %g, want 0", remaining)
	}
}

// Two concurrent charges that are each affordable alone but not
// together: exactly one commits.
func TestCharge_ConcurrentRace(t *testing.T) {
	m := NewManager(10)

	start := make(chan struct{})
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := m.Charge("alice", 6.0, "h", nop)
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Errorf("successes = %d, want exactly 1", succeeded)
	}
	if st := m.Status("alice"); st.Spent != 6.0 {
		t.Errorf("Spent = %g, want 6 (never above max)", st.Spent)
	}
}

func TestPrincipalsIsolated(t *testing.T) {
	m := NewManager(10)
	if _, err := m.Charge("alice", 4.0, "h", nop); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if got := m.Remaining("bob"); got != 10 {
		t.Errorf("Remaining(bob) = %g, want full budget 10", got)
	}
	if got := m.Remaining("alice"); got != 6 {
		t.Errorf("Remaining(alice) = %g, want 6", got)
	}
}

func TestReset(t *testing.T) {
	m := NewManager(10)
	if _, err := m.Charge("alice", 4.0, "h", nop); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	m.Reset("alice")
	st := m.Status("alice")
	if st.Spent != 0 || st.Remaining != 10 || st.Queries != 0 {
		t.Errorf("Status after reset = %+v, want clean ledger", st)
	}
	if h := m.History("alice"); len(h) != 0 {
		t.Errorf("History after reset = %v, want empty", h)
	}
}

func TestHistory(t *testing.T) {
	m := NewManager(10)
	if _, err := m.Charge("alice", 2.0, "hash-1", nop); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if _, err := m.Charge("alice", 1.0, "hash-2", nop); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	h := m.History("alice")
	if len(h) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(h))
	}
	if h[0].QueryHash != "hash-1" || h[0].Cost != 2.0 || h[0].RemainingAfter != 8.0 {
		t.Errorf("History[0] = %+v, want hash-1 cost 2 remaining 8", h[0])
	}
	if h[1].QueryHash != "hash-2" || h[1].RemainingAfter != 7.0 {
		t.Errorf("History[1] = %+v, want hash-2 remaining 7", h[1])
	}
	if h[0].Timestamp.IsZero() || h[1].Timestamp.Before(h[0].Timestamp) {
		t.Error("history timestamps not monotonic")
	}
}

func TestPrincipals(t *testing.T) {
	m := NewManager(10)
	m.Remaining("carol")
	m.Remaining("alice")
	m.Remaining("bob")
	got := m.Principals()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Principals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Principals[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
