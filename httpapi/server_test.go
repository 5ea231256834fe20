package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"veilql/audit"
	"veilql/config"
	"veilql/engine"
	"veilql/gateway"
	"veilql/noise"
)

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	eng, err := engine.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	sink, err := audit.NewFileSink(filepath.Join(t.TempDir(), "audit.log"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	ctx := context.Background()
	stmts := []string{
		"CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT, department TEXT, salary REAL)",
		"INSERT INTO employees VALUES (1, 'alice', 'Engineering', 120000)",
		"INSERT INTO employees VALUES (2, 'bob', 'Engineering', 100000)",
		"INSERT INTO employees VALUES (3, 'carol', 'Marketing', 90000)",
		"INSERT INTO employees VALUES (4, 'dan', 'Marketing', 80000)",
		"INSERT INTO employees VALUES (5, 'eve', 'Engineering', 400000)",
	}
	for _, stmt := range stmts {
		if err := eng.Exec(ctx, stmt); err != nil {
			t.Fatalf("Exec fixture failed: %v", err)
		}
	}

	zero := noise.NewLaplaceUniform(func() float64 { return 0.5 })
	gw := gateway.New(cfg, eng, sink, zero, zap.NewNop())
	return New(cfg.Server, gw, zap.NewNop())
}

func doRequest(t *testing.T, h http.Handler, method, path, principal, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if principal != "" {
		req.Header.Set("X-Principal", principal)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var env APIResponse
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

func TestQueryEndpoint(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT COUNT(*) FROM employees"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("Success = false: %s", env.Error)
	}

	data := env.Data.(map[string]any)
	rows := data["rows"].([]any)
	if len(rows) != 1 || rows[0].([]any)[0].(float64) != 5 {
		t.Errorf("rows = %v, want [[5]]", rows)
	}
	if data["privacy_cost"].(float64) != 0 {
		t.Errorf("privacy_cost = %v, want 0", data["privacy_cost"])
	}
}

func TestQueryEmptyRejected(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/query", "alice", `{"query": "   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error != "Query cannot be empty." {
		t.Errorf("error = %q", env.Error)
	}
}

func TestQueryComplianceStatus(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	rec := doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT PRIVATE ssn FROM employees"}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !strings.Contains(env.Error, "direct PII access") {
		t.Errorf("error = %q, want PII reason", env.Error)
	}
}

func TestQueryBudgetExhaustedStatus(t *testing.T) {
	cfg := config.Default()
	cfg.Policy.MaxBudgetPerSession = 2.5
	s := newTestServer(t, cfg)
	h := s.Router()

	body := `{"query": "SELECT AVG(PRIVATE salary OF [2.0]) FROM employees"}`
	if rec := doRequest(t, h, http.MethodPost, "/api/query", "alice", body); rec.Code != http.StatusOK {
		t.Fatalf("first spend status = %d: %s", rec.Code, rec.Body.String())
	}

	rec := doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT AVG(PRIVATE salary OF [1.0]) FROM employees"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !strings.Contains(env.Error, "privacy budget exhausted") {
		t.Errorf("error = %q, want budget reason", env.Error)
	}
}

func TestBudgetEndpointIsolatesPrincipals(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT AVG(PRIVATE salary OF [2.0]) FROM employees"}`)

	for principal, wantSpent := range map[string]float64{"alice": 2, "bob": 0} {
		rec := doRequest(t, h, http.MethodGet, "/api/budget", principal, "")
		env := decodeEnvelope(t, rec)
		data := env.Data.(map[string]any)
		if got := data["spent"].(float64); got != wantSpent {
			t.Errorf("spent for %s = %g, want %g", principal, got, wantSpent)
		}
	}
}

func TestResetEndpoint(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT AVG(PRIVATE salary OF [2.0]) FROM employees"}`)

	rec := doRequest(t, h, http.MethodPost, "/api/reset", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data := decodeEnvelope(t, rec).Data.(map[string]any)
	if data["spent"].(float64) != 0 || data["remaining"].(float64) != 10 {
		t.Errorf("status after reset = %v, want clean ledger", data)
	}
}

func TestPrincipalCookieMinted(t *testing.T) {
	s := newTestServer(t, config.Default())
	h := s.Router()

	rec := doRequest(t, h, http.MethodGet, "/api/budget", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var minted string
	for _, c := range rec.Result().Cookies() {
		if c.Name == principalCookie {
			minted = c.Value
		}
	}
	if len(minted) != 12 {
		t.Fatalf("minted principal = %q, want 12-char id", minted)
	}
	if got := rec.Header().Get("X-Principal"); got != minted {
		t.Errorf("X-Principal header = %q, want %q", got, minted)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Server.RateLimitPerMin = 2
	s := newTestServer(t, cfg)
	h := s.Router()

	body := `{"query": "SELECT COUNT(*) FROM employees"}`
	for i := 0; i < 2; i++ {
		if rec := doRequest(t, h, http.MethodPost, "/api/query", "carol", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := doRequest(t, h, http.MethodPost, "/api/query", "carol", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if env := decodeEnvelope(t, rec); !strings.Contains(env.Error, "rate limit") {
		t.Errorf("error = %q, want rate limit reason", env.Error)
	}

	// Budget reads are not limited.
	if rec := doRequest(t, h, http.MethodGet, "/api/budget", "carol", ""); rec.Code != http.StatusOK {
		t.Errorf("budget status = %d, want 200", rec.Code)
	}
}

func TestAdminAuth(t *testing.T) {
	cfg := config.Default()
	cfg.Server.User = "admin"
	cfg.Server.Password = "hunter2"
	s := newTestServer(t, cfg)
	h := s.Router()

	doRequest(t, h, http.MethodPost, "/api/query", "alice",
		`{"query": "SELECT COUNT(*) FROM employees"}`)

	rec := doRequest(t, h, http.MethodGet, "/admin/audit", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without creds = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge")
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.SetBasicAuth("admin", "hunter2")
	authed := httptest.NewRecorder()
	h.ServeHTTP(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("status with creds = %d, want 200", authed.Code)
	}
	env := decodeEnvelope(t, authed)
	if recs := env.Data.([]any); len(recs) != 1 {
		t.Errorf("len(audit) = %d, want 1", len(recs))
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, config.Default())

	rec := doRequest(t, s.Router(), http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
