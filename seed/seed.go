// Package seed populates an engine with synthetic workforce data:
// an employees table matching the default policy's column
// classifications and a linked projects table with one deliberately
// over-assigned employee so join capping is visible in demos.
package seed

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"veilql/engine"
	"veilql/rewrite"
)

// Options controls the generated volume. Zero values fall back to the
// defaults in normalize.
type Options struct {
	Employees int
	Projects  int
	Seed      uint64
	BatchSize int
	Workers   int
}

func (o *Options) normalize() {
	if o.Employees <= 0 {
		o.Employees = 1000
	}
	if o.Projects <= 0 {
		o.Projects = 500
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
}

var departments = []string{
	"Engineering", "Marketing", "Sales", "Finance", "Operations", "Support",
}

var employeeColumns = []string{
	"id", "first_name", "last_name", "address", "city", "state", "zip",
	"email", "hire_date", "salary", "bank_account_number", "company_name",
	"job_title", "department", "age", "hours_worked",
}

var projectColumns = []string{
	"id", "employee_id", "project_name", "budget", "deadline",
}

// Run drops and recreates the employees and projects tables, then
// fills them with deterministic synthetic rows derived from opts.Seed.
func Run(ctx context.Context, eng engine.Engine, opts Options, logger *zap.Logger) error {
	opts.normalize()
	start := time.Now()

	ddl := []string{
		"DROP TABLE IF EXISTS projects",
		"DROP TABLE IF EXISTS employees",
		`CREATE TABLE employees (
			id INTEGER PRIMARY KEY,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			address TEXT,
			city TEXT,
			state TEXT,
			zip TEXT,
			email TEXT NOT NULL,
			hire_date TEXT,
			salary REAL,
			bank_account_number TEXT,
			company_name TEXT,
			job_title TEXT,
			department TEXT NOT NULL,
			age INTEGER,
			hours_worked INTEGER
		)`,
		`CREATE TABLE projects (
			id INTEGER PRIMARY KEY,
			employee_id INTEGER NOT NULL,
			project_name TEXT,
			budget REAL,
			deadline TEXT
		)`,
	}
	for _, stmt := range ddl {
		if err := eng.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	if err := insertBatched(ctx, eng, opts, "employees", employeeColumns, opts.Employees,
		func(f *gofakeit.Faker, id int) []any { return employeeRow(f, id) }); err != nil {
		return err
	}
	if err := insertBatched(ctx, eng, opts, "projects", projectColumns, opts.Projects,
		func(f *gofakeit.Faker, id int) []any { return projectRow(f, id, opts) }); err != nil {
		return err
	}

	logger.Info("seed complete",
		zap.Int("employees", opts.Employees),
		zap.Int("projects", opts.Projects),
		zap.Uint64("seed", opts.Seed),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// insertBatched fans batch inserts out over an errgroup. Each batch
// seeds its own faker from the batch offset, so output is stable for a
// given seed regardless of worker interleaving.
func insertBatched(ctx context.Context, eng engine.Engine, opts Options,
	table string, columns []string, total int, row func(*gofakeit.Faker, int) []any) error {

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for lo := 1; lo <= total; lo += opts.BatchSize {
		hi := lo + opts.BatchSize - 1
		if hi > total {
			hi = total
		}
		lo := lo
		g.Go(func() error {
			f := gofakeit.New(opts.Seed + uint64(lo))
			args := make([]any, 0, (hi-lo+1)*len(columns))
			for id := lo; id <= hi; id++ {
				args = append(args, row(f, id)...)
			}
			sql := insertSQL(eng.Dialect(), table, columns, hi-lo+1)
			if err := eng.Exec(ctx, sql, args...); err != nil {
				return fmt.Errorf("insert %s batch at %d: %w", table, lo, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func employeeRow(f *gofakeit.Faker, id int) []any {
	salary := f.Float64Range(30000, 180000)
	if id%1000 == 0 {
		// Sprinkle executive outliers so clipping has work to do.
		salary = f.Float64Range(200000, 2000000)
	}
	hired := f.DateRange(time.Now().AddDate(-15, 0, 0), time.Now())
	return []any{
		id,
		f.FirstName(),
		f.LastName(),
		f.Street(),
		f.City(),
		f.StateAbr(),
		f.Zip(),
		f.Email(),
		hired.Format(time.DateOnly),
		math.Round(salary*100) / 100,
		f.AchAccount(),
		f.Company(),
		f.JobTitle(),
		f.RandomString(departments),
		f.IntRange(22, 65),
		f.IntRange(20, 80),
	}
}

// WorkaholicID is the employee that receives exactly workaholicCount(n)
// projects, giving joins a guaranteed high-contribution entity. Other
// projects never land on it.
const WorkaholicID = 1

// workaholicCount returns how many of n projects go to WorkaholicID.
func workaholicCount(n int) int {
	c := n / 20
	if c < 10 {
		c = 10
	}
	if c > n {
		c = n
	}
	return c
}

func projectRow(f *gofakeit.Faker, id int, opts Options) []any {
	employeeID := WorkaholicID
	if id > workaholicCount(opts.Projects) {
		lo := WorkaholicID + 1
		if lo > opts.Employees {
			lo = opts.Employees
		}
		employeeID = f.IntRange(lo, opts.Employees)
	}
	deadline := f.DateRange(time.Now(), time.Now().AddDate(2, 0, 0))
	return []any{
		id,
		employeeID,
		f.AppName(),
		math.Round(f.Float64Range(5000, 500000)*100) / 100,
		deadline.Format(time.DateOnly),
	}
}

// insertSQL builds a multi-row insert with the dialect's placeholder
// style.
func insertSQL(d rewrite.Dialect, table string, columns []string, rows int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			if d == rewrite.DialectPostgres {
				fmt.Fprintf(&sb, "$%d", n)
				n++
			} else {
				sb.WriteByte('?')
			}
		}
		sb.WriteByte(')')
	}
	return sb.String()
}
