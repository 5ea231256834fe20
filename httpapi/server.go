// Package httpapi exposes the query pipeline as a small JSON API:
// submit queries, inspect the caller's budget, and tail the audit log
// on an operator surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"veilql/config"
	"veilql/gateway"
	"veilql/qerror"
)

// principalCookie keeps cookie-only clients on a stable budget ledger
// across requests. Minted ids mirror the 12-char session ids analysts
// already see in audit logs.
const principalCookie = "veilql_principal"

// APIResponse is the envelope every endpoint returns.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Query string `json:"query"`
}

// Server serves the JSON API over a gateway.
type Server struct {
	gw     *gateway.Gateway
	cfg    config.Server
	logger *zap.Logger
	srv    *http.Server

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTP API server listening on cfg.HTTPAddr.
func New(cfg config.Server, gw *gateway.Gateway, logger *zap.Logger) *Server {
	s := &Server{
		gw:       gw,
		cfg:      cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	s.srv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed so tests can drive the
// handlers without a listener.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.withPrincipal)
	api.Handle("/query", s.withRateLimit(http.HandlerFunc(s.handleQuery))).Methods(http.MethodPost)
	api.HandleFunc("/budget", s.handleBudget).Methods(http.MethodGet)
	api.HandleFunc("/budget/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/reset", s.handleReset).Methods(http.MethodPost)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.withAdmin)
	admin.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	admin.HandleFunc("/principals", s.handlePrincipals).Methods(http.MethodGet)
	return r
}

// ListenAndServe blocks until Shutdown is called or the listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http listener started", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, respecting the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type principalKey struct{}

// withPrincipal resolves the caller's principal: the X-Principal
// header if present, then the session cookie, else a freshly minted id
// that is set as a cookie so the budget survives across requests. The
// resolved principal is echoed in the response header either way.
func (s *Server) withPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := strings.TrimSpace(r.Header.Get("X-Principal"))
		if p == "" {
			if c, err := r.Cookie(principalCookie); err == nil {
				p = c.Value
			}
		}
		if p == "" {
			p = mintPrincipal()
			http.SetCookie(w, &http.Cookie{
				Name:     principalCookie,
				Value:    p,
				Path:     "/",
				HttpOnly: true,
			})
		}
		w.Header().Set("X-Principal", p)
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func mintPrincipal() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func principalFrom(r *http.Request) string {
	p, _ := r.Context().Value(principalKey{}).(string)
	return p
}

// withRateLimit applies the per-principal request limit to the query
// endpoint. Budget reads stay unlimited so clients can poll status.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RateLimitPerMin > 0 && !s.limiter(principalFrom(r)).Allow() {
			s.writeJSON(w, http.StatusTooManyRequests, APIResponse{
				Success: false,
				Error:   "rate limit exceeded, slow down",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(principal string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[principal]
	if !ok {
		per := time.Minute / time.Duration(s.cfg.RateLimitPerMin)
		l = rate.NewLimiter(rate.Every(per), s.cfg.RateLimitPerMin)
		s.limiters[principal] = l
	}
	return l
}

// withAdmin gates operator endpoints behind basic auth. An empty
// configured password disables the gate for local development.
func (s *Server) withAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Password != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.cfg.User || pass != s.cfg.Password {
				w.Header().Set("WWW-Authenticate", `Basic realm="veilql"`)
				s.writeJSON(w, http.StatusUnauthorized, APIResponse{
					Success: false,
					Error:   "authentication required",
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.writeJSON(w, http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "Query cannot be empty.",
		})
		return
	}

	resp, err := s.gw.Process(r.Context(), principal, query)
	if err != nil {
		qe := qerror.From(err)
		s.writeJSON(w, qe.Kind.HTTPStatus(), APIResponse{
			Success: false,
			Error:   qe.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.gw.BudgetStatus(principalFrom(r)),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.gw.BudgetHistory(principalFrom(r)),
	})
}

// handleReset zeroes the caller's own ledger and returns the fresh
// status. Other principals' ledgers are not reachable from here.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r)
	s.gw.ResetBudget(principal)
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.gw.BudgetStatus(principal),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	n := 50
	if v := r.URL.Query().Get("n"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i < 0 {
			s.writeJSON(w, http.StatusBadRequest, APIResponse{
				Success: false,
				Error:   "n must be a non-negative integer",
			})
			return
		}
		n = i
	}
	recs, err := s.gw.AuditTail(n)
	if err != nil {
		s.logger.Error("audit tail failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   "audit log unavailable",
		})
		return
	}
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: recs})
}

func (s *Server) handlePrincipals(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    s.gw.Principals(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", zap.Error(err))
	}
}
