// Concurrency harness for the wire front end. Boots a gateway over an
// in-memory store, seeds it, then hammers it with pgx clients to check
// that budget accounting stays exact under contention.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"veilql/audit"
	"veilql/config"
	"veilql/engine"
	"veilql/gateway"
	"veilql/noise"
	"veilql/seed"
	"veilql/server"
)

const (
	seededEmployees = 200
	perQueryEpsilon = 1.0
)

func main() {
	fmt.Println("veilql concurrency test")
	fmt.Println("=======================")

	port, shutdown := startServer()
	defer shutdown()

	fmt.Printf("Starting server on port %d...\n\n", port)

	passed, failed := 0, 0
	for _, sc := range []struct {
		name string
		fn   func(int) bool
	}{
		{"Setup", scenarioSetup},
		{"Concurrent principals", scenarioConcurrentPrincipals},
		{"Budget race", scenarioBudgetRace},
		{"Concurrent exact counts", scenarioConcurrentCounts},
	} {
		if sc.fn(port) {
			passed++
		} else {
			failed++
		}
	}

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func startServer() (port int, shutdown func()) {
	tmpDir, err := os.MkdirTemp("", "conctest-*")
	if err != nil {
		fatalf("create temp dir: %v", err)
	}

	logger := zap.NewNop()

	eng, err := engine.OpenSQLite(":memory:")
	if err != nil {
		os.RemoveAll(tmpDir)
		fatalf("open engine: %v", err)
	}
	if err := seed.Run(context.Background(), eng,
		seed.Options{Employees: seededEmployees, Projects: 100, Seed: 11}, logger); err != nil {
		eng.Close()
		os.RemoveAll(tmpDir)
		fatalf("seed: %v", err)
	}

	sink, err := audit.NewFileSink(tmpDir+"/audit.jsonl", logger)
	if err != nil {
		eng.Close()
		os.RemoveAll(tmpDir)
		fatalf("open audit sink: %v", err)
	}

	cfg := config.Default()
	cfg.Server.WireAddr = "127.0.0.1:0" // OS-assigned
	cfg.Server.Password = "test"

	gw := gateway.New(cfg, eng, sink, noise.NewLaplace(), logger)
	srv := server.New(cfg.Server, gw, logger)

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			fatalf("server: %v", err)
		}
	}()

	// Wait for the listener to be ready.
	for i := 0; i < 100; i++ {
		if addr := srv.Addr(); addr != nil {
			port = addr.(*net.TCPAddr).Port
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if port == 0 {
		eng.Close()
		os.RemoveAll(tmpDir)
		fatalf("server did not start within 1s")
	}

	shutdown = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		sink.Close()
		eng.Close()
		os.RemoveAll(tmpDir)
	}
	return port, shutdown
}

// connect opens a simple-protocol session; the user name doubles as
// the budget principal.
func connect(port int, principal string) *pgx.Conn {
	connStr := fmt.Sprintf("host=127.0.0.1 port=%d user=%s password=test sslmode=disable",
		port, principal)
	cfg, err := pgx.ParseConfig(connStr)
	if err != nil {
		fatalf("parse config: %v", err)
	}
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	conn, err := pgx.ConnectConfig(context.Background(), cfg)
	if err != nil {
		fatalf("connect: %v", err)
	}
	return conn
}

func showBudget(conn *pgx.Conn) (remaining, spent float64, err error) {
	var max float64
	var queries int64
	err = conn.QueryRow(context.Background(), "SHOW BUDGET").
		Scan(&remaining, &spent, &max, &queries)
	return remaining, spent, err
}

func scenarioSetup(port int) bool {
	start := time.Now()
	conn := connect(port, "setup")
	defer conn.Close(context.Background())

	var count int64
	err := conn.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM employees").Scan(&count)
	if err != nil {
		return fail("Setup", "COUNT: %v", err)
	}
	if count != seededEmployees {
		return fail("Setup", "expected %d rows, got %d", seededEmployees, count)
	}

	// Exact counts are free, so nothing may have been charged.
	_, spent, err := showBudget(conn)
	if err != nil {
		return fail("Setup", "SHOW BUDGET: %v", err)
	}
	if spent != 0 {
		return fail("Setup", "COUNT(*) charged ε=%.2f, expected 0", spent)
	}

	return pass("Setup", fmt.Sprintf("seeded %d rows, counts are free", count), time.Since(start))
}

// scenarioConcurrentPrincipals charges several principals in parallel
// and checks that no ledger bleeds into another.
func scenarioConcurrentPrincipals(port int) bool {
	start := time.Now()
	const principals = 10
	const queriesPerPrincipal = 3

	var wg sync.WaitGroup
	var errCount atomic.Int64

	for p := 0; p < principals; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			conn := connect(port, fmt.Sprintf("conc-%d", p))
			defer conn.Close(context.Background())

			for q := 0; q < queriesPerPrincipal; q++ {
				var avg float64
				err := conn.QueryRow(context.Background(),
					"SELECT AVG(PRIVATE salary OF [1.0]) FROM employees").Scan(&avg)
				if err != nil {
					errCount.Add(1)
				}
			}

			remaining, spent, err := showBudget(conn)
			if err != nil {
				errCount.Add(1)
				return
			}
			wantSpent := float64(queriesPerPrincipal) * perQueryEpsilon
			if spent != wantSpent || remaining != 10.0-wantSpent {
				errCount.Add(1)
			}
		}(p)
	}
	wg.Wait()

	if errs := errCount.Load(); errs > 0 {
		return fail("Concurrent principals", "%d errors", errs)
	}
	return pass("Concurrent principals",
		fmt.Sprintf("%d principals × %d charged queries, ledgers isolated", principals, queriesPerPrincipal),
		time.Since(start))
}

// scenarioBudgetRace has many goroutines spend from one principal at
// once. The ledger must admit exactly budget/ε queries, never more.
func scenarioBudgetRace(port int) bool {
	start := time.Now()
	const goroutines = 8
	const attemptsPerGoroutine = 4

	var wg sync.WaitGroup
	var okCount, deniedCount, errCount atomic.Int64

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := connect(port, "racer")
			defer conn.Close(context.Background())

			for q := 0; q < attemptsPerGoroutine; q++ {
				var avg float64
				err := conn.QueryRow(context.Background(),
					"SELECT AVG(PRIVATE salary OF [1.0]) FROM employees").Scan(&avg)
				switch {
				case err == nil:
					okCount.Add(1)
				case isBudgetError(err):
					deniedCount.Add(1)
				default:
					errCount.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if errs := errCount.Load(); errs > 0 {
		return fail("Budget race", "%d unexpected errors", errs)
	}
	wantOK := int64(10.0 / perQueryEpsilon)
	if ok := okCount.Load(); ok != wantOK {
		return fail("Budget race", "%d queries admitted, expected exactly %d", ok, wantOK)
	}

	conn := connect(port, "racer")
	defer conn.Close(context.Background())
	remaining, spent, err := showBudget(conn)
	if err != nil {
		return fail("Budget race", "SHOW BUDGET: %v", err)
	}
	if spent != 10.0 || remaining != 0 {
		return fail("Budget race", "ledger shows spent=%.2f remaining=%.2f, expected 10/0", spent, remaining)
	}

	return pass("Budget race",
		fmt.Sprintf("%d attempts, %d admitted, %d denied, no over-spend",
			goroutines*attemptsPerGoroutine, okCount.Load(), deniedCount.Load()),
		time.Since(start))
}

func scenarioConcurrentCounts(port int) bool {
	start := time.Now()
	const goroutines = 10
	const queriesPerGoroutine = 30

	var wg sync.WaitGroup
	var errCount atomic.Int64

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := connect(port, "counter")
			defer conn.Close(context.Background())

			for q := 0; q < queriesPerGoroutine; q++ {
				var count int64
				err := conn.QueryRow(context.Background(),
					"SELECT COUNT(*) FROM employees").Scan(&count)
				if err != nil || count != seededEmployees {
					errCount.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if errs := errCount.Load(); errs > 0 {
		return fail("Concurrent exact counts", "%d errors", errs)
	}

	conn := connect(port, "counter")
	defer conn.Close(context.Background())
	_, spent, err := showBudget(conn)
	if err != nil {
		return fail("Concurrent exact counts", "SHOW BUDGET: %v", err)
	}
	if spent != 0 {
		return fail("Concurrent exact counts", "free queries charged ε=%.2f", spent)
	}

	total := goroutines * queriesPerGoroutine
	return pass("Concurrent exact counts",
		fmt.Sprintf("%d goroutines × %d queries = %d total, 0 errors, ε untouched",
			goroutines, queriesPerGoroutine, total),
		time.Since(start))
}

func isBudgetError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "53400"
}

func pass(name, detail string, d time.Duration) bool {
	fmt.Printf("[PASS] %s: %s (%dms)\n", name, detail, d.Milliseconds())
	return true
}

func fail(name, format string, args ...any) bool {
	fmt.Printf("[FAIL] %s: %s\n", name, fmt.Sprintf(format, args...))
	return false
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fatal: "+format+"\n", args...)
	os.Exit(2)
}
