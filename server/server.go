// Package server runs the wire-protocol front end: a TCP listener
// speaking enough of the PostgreSQL protocol for psql and standard
// drivers to submit labeled queries and read noisy results. The
// startup user names the budget principal.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"veilql/config"
	"veilql/gateway"
)

// Server accepts TCP connections and spawns a goroutine per client.
type Server struct {
	cfg      config.Server
	gw       *gateway.Gateway
	logger   *zap.Logger
	mu       sync.Mutex // protects listener
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
}

// New creates a server for cfg.WireAddr over the given gateway.
func New(cfg config.Server, gw *gateway.Gateway, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		gw:     gw,
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// ListenAndServe starts accepting connections. It blocks until
// Shutdown is called or an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.WireAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("wire listener started", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return nil
			default:
				s.logger.Warn("accept failed", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c := newConnection(conn, s.cfg, s.gw, s.logger)
			c.handle()
		}()
	}
}

// Addr returns the listener's network address, or nil if not yet
// listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Addr()
	}
	return nil
}

// Shutdown stops accepting new connections and waits for existing ones
// to finish, respecting the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.quit)
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
