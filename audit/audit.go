// Package audit persists one record per query attempt, blocked or
// not, as JSON lines. Audit failures are logged and swallowed; a
// broken audit file must not take query processing down with it.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Record is one audit entry. Query keeps at most 200 characters and
// Result at most 100; QueryHash identifies the full text regardless.
type Record struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Principal   string    `json:"principal"`
	Query       string    `json:"query"`
	QueryHash   string    `json:"query_hash"`
	Result      string    `json:"result"`
	PrivacyCost float64   `json:"privacy_cost"`
	Blocked     bool      `json:"blocked"`
	Reason      string    `json:"reason,omitempty"`
}

// Sink receives audit records.
type Sink interface {
	Log(rec Record)
	// Tail returns the most recent n records in file order.
	Tail(n int) ([]Record, error)
	Close() error
}

const (
	maxQueryLen  = 200
	maxResultLen = 100
)

// HashQuery returns the stable short hash used to correlate audit
// entries with budget history.
func HashQuery(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])[:16]
}

// FileSink appends records to a JSONL file.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	logger *zap.Logger
}

// NewFileSink opens path for appending, creating it when missing.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{f: f, path: path, logger: logger}, nil
}

// Log writes one record, filling ID, timestamp and hash when unset and
// truncating the free-text fields.
func (s *FileSink) Log(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.QueryHash == "" {
		rec.QueryHash = HashQuery(rec.Query)
	}
	rec.Query = truncate(rec.Query, maxQueryLen)
	rec.Result = truncate(rec.Result, maxResultLen)

	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("audit marshal failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		s.logger.Error("audit write failed", zap.String("path", s.path), zap.Error(err))
	}
}

// Tail reads back the last n records.
func (s *FileSink) Tail(n int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var rec Record
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Skip torn or foreign lines rather than failing the read.
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return recs, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// truncate cuts s to at most n runes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Nop discards every record. Used when auditing is disabled.
type Nop struct{}

func (Nop) Log(Record) {}

func (Nop) Tail(int) ([]Record, error) { return nil, nil }

func (Nop) Close() error { return nil }
