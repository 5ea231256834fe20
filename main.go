package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"veilql/audit"
	"veilql/config"
	"veilql/engine"
	"veilql/gateway"
	"veilql/httpapi"
	"veilql/noise"
	"veilql/seed"
	"veilql/server"
	"veilql/version"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "veilql",
	Short: "Differentially private SQL gateway",
	Long: `veilql sits between analysts and a relational store. Queries use a
labeled dialect: sensitive columns must be aggregated under a PRIVATE
label, results carry calibrated Laplace noise, and every principal
draws from a finite privacy budget. Direct PII access is refused
before the query is even parsed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and wire front ends",
	Long: `Starts both listeners over one shared gateway: the JSON API on
http_addr and the PostgreSQL wire protocol on wire_addr. SIGINT or
SIGTERM drains connections and exits.`,
	RunE: runServe,
}

var queryCmd = &cobra.Command{
	Use:   "query [statement]",
	Short: "Run one labeled query through a local gateway",
	Long: `Compiles and executes a single statement against the configured
engine without starting any listener. Useful for trying policy and
dialect changes. The attempt is audited like any other.

Example:
  veilql query "SELECT AVG(PRIVATE salary OF [0.5]) FROM employees"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the engine with synthetic employees and projects",
	RunE:  runSeed,
}

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect or administer privacy budgets",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a principal's budget on a running server",
	RunE:  runBudgetStatus,
}

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset a principal's budget on a running server",
	RunE:  runBudgetReset,
}

var budgetReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the most recent audit records",
	RunE:  runBudgetReport,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version banner",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.String())
	},
}

var (
	principal     string
	seedEmployees int
	seedProjects  int
	seedSeed      uint64
	budgetServer  string
	reportCount   int
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	queryCmd.Flags().StringVar(&principal, "principal", "cli", "Principal charged for the query")

	seedCmd.Flags().IntVar(&seedEmployees, "employees", 1000, "Employee rows to generate")
	seedCmd.Flags().IntVar(&seedProjects, "projects", 500, "Project rows to generate")
	seedCmd.Flags().Uint64Var(&seedSeed, "seed", 0, "Deterministic generator seed")

	budgetCmd.PersistentFlags().StringVar(&budgetServer, "server", "http://localhost:8080", "Base URL of a running veilql server")
	budgetCmd.PersistentFlags().StringVar(&principal, "principal", "cli", "Principal to act on")
	budgetReportCmd.Flags().IntVarP(&reportCount, "limit", "n", 20, "Number of records to print")
	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetResetCmd)
	budgetCmd.AddCommand(budgetReportCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(budgetCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openGateway builds the full local pipeline from config. The returned
// cleanup closes the sink and engine in order.
func openGateway(ctx context.Context) (*config.Config, *gateway.Gateway, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	eng, err := engine.Open(ctx, cfg.Engine)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := audit.NewFileSink(cfg.Audit.Path, logger)
	if err != nil {
		eng.Close()
		return nil, nil, nil, err
	}
	gw := gateway.New(cfg, eng, sink, noise.NewLaplace(), logger)
	cleanup := func() {
		sink.Close()
		eng.Close()
	}
	return cfg, gw, cleanup, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, gw, cleanup, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	httpSrv := httpapi.New(cfg.Server, gw, logger)
	wireSrv := server.New(cfg.Server, gw, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.Stringer("signal", sig))
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := wireSrv.Shutdown(sctx); err != nil {
			logger.Warn("wire shutdown", zap.Error(err))
		}
		if err := httpSrv.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	g := new(errgroup.Group)
	g.Go(httpSrv.ListenAndServe)
	g.Go(wireSrv.ListenAndServe)
	return g.Wait()
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, gw, cleanup, err := openGateway(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := gw.Process(ctx, principal, args[0])
	if err != nil {
		return err
	}

	fmt.Println(strings.Join(resp.Columns, "\t"))
	for _, row := range resp.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				parts[i] = "NULL"
			} else {
				parts[i] = fmt.Sprint(v)
			}
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	fmt.Printf("-- ε spent: %.2f, remaining: %.2f\n", resp.PrivacyCost, resp.RemainingBudget)
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	eng, err := engine.Open(ctx, cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Close()

	return seed.Run(ctx, eng, seed.Options{
		Employees: seedEmployees,
		Projects:  seedProjects,
		Seed:      seedSeed,
	}, logger)
}

func runBudgetStatus(cmd *cobra.Command, args []string) error {
	return callServer(http.MethodGet, "/api/budget")
}

func runBudgetReset(cmd *cobra.Command, args []string) error {
	return callServer(http.MethodPost, "/api/reset")
}

// callServer hits a running server's JSON API as the chosen principal
// and pretty-prints the data payload.
func callServer(method, path string) error {
	url := strings.TrimRight(budgetServer, "/") + path
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Principal", principal)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env httpapi.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("server: %s", env.Error)
	}
	out, err := json.MarshalIndent(env.Data, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runBudgetReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	sink, err := audit.NewFileSink(cfg.Audit.Path, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	recs, err := sink.Tail(reportCount)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fmt.Println(string(line))
	}
	return nil
}
