package audit

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func newTestSink(t *testing.T) *FileSink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	s, err := NewFileSink(path, zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLogAndTail(t *testing.T) {
	s := newTestSink(t)
	s.Log(Record{Principal: "alice", Query: "SELECT COUNT(*) FROM employees", Result: "[[5]]", PrivacyCost: 0})
	s.Log(Record{Principal: "alice", Query: "SELECT PRIVATE ssn FROM employees", Blocked: true, Reason: "direct PII access: column 'ssn'"})

	recs, err := s.Tail(10)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len(Tail) = %d, want 2", len(recs))
	}

	first := recs[0]
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Errorf("record missing generated fields: %+v", first)
	}
	if first.QueryHash != HashQuery("SELECT COUNT(*) FROM employees") {
		t.Errorf("QueryHash = %q, want hash of full query", first.QueryHash)
	}
	if first.Blocked {
		t.Error("first record marked blocked, want allowed")
	}

	second := recs[1]
	if !second.Blocked || !strings.Contains(second.Reason, "direct PII access") {
		t.Errorf("second record = %+v, want blocked with PII reason", second)
	}
}

func TestTailLimit(t *testing.T) {
	s := newTestSink(t)
	for i := 0; i < 5; i++ {
		s.Log(Record{Principal: "alice", Query: "q", Result: "r"})
	}
	recs, err := s.Tail(2)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("len(Tail(2)) = %d, want 2", len(recs))
	}
}

func TestTruncation(t *testing.T) {
	s := newTestSink(t)
	long := strings.Repeat("x", 500)
	s.Log(Record{Principal: "alice", Query: long, Result: long})

	recs, err := s.Tail(1)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if got := len(recs[0].Query); got != 200 {
		t.Errorf("len(Query) = %d, want 200", got)
	}
	if got := len(recs[0].Result); got != 100 {
		t.Errorf("len(Result) = %d, want 100", got)
	}
	// The hash still covers the untruncated text.
	if recs[0].QueryHash != HashQuery(long) {
		t.Error("QueryHash computed over truncated text")
	}
}

func TestHashQuery(t *testing.T) {
	h := HashQuery("SELECT COUNT(*) FROM employees")
	if len(h) != 16 {
		t.Errorf("len(hash) = %d, want 16", len(h))
	}
	if h != HashQuery("SELECT COUNT(*) FROM employees") {
		t.Error("hash not stable")
	}
	if h == HashQuery("SELECT COUNT(*) FROM patients") {
		t.Error("distinct queries share a hash")
	}
}

func TestConcurrentLog(t *testing.T) {
	s := newTestSink(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Log(Record{Principal: "alice", Query: "q", Result: "r"})
		}()
	}
	wg.Wait()

	recs, err := s.Tail(0)
	if err != nil {
		t.Fatalf("Tail failed: %v", err)
	}
	if len(recs) != 20 {
		t.Errorf("len(Tail) = %d, want 20 intact lines", len(recs))
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.Log(Record{Query: "q"})
	recs, err := s.Tail(5)
	if err != nil || recs != nil {
		t.Errorf("Nop.Tail = %v, %v, want nil, nil", recs, err)
	}
}
