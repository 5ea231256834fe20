// Package config loads the gateway configuration: the privacy policy
// (clipping bounds, epsilon limits, column classifications) and the
// runtime settings (engine, listeners, audit path). The policy is read
// once at startup and treated as immutable afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Policy Policy `yaml:"policy"`
	Engine Engine `yaml:"engine"`
	Audit  Audit  `yaml:"audit"`
	Server Server `yaml:"server"`
}

// Policy holds the differential-privacy policy. Bounds maps a column
// name to its clipping bound; columns without an entry clip at
// DefaultBound.
type Policy struct {
	Bounds              map[string]float64 `yaml:"bounds"`
	DefaultBound        float64            `yaml:"default_bound"`
	DefaultEpsilon      float64            `yaml:"default_epsilon"`
	MaxEpsilonPerQuery  float64            `yaml:"max_epsilon_per_query"`
	MaxBudgetPerSession float64            `yaml:"max_budget_per_session"`
	MaxContributions    int                `yaml:"max_contributions_per_entity"`
	ElasticSensitivity  bool               `yaml:"elastic_sensitivity"`
	ProhibitedColumns   []string           `yaml:"prohibited_columns"`
	SensitiveColumns    []string           `yaml:"sensitive_columns"`
	EntityHints         []string           `yaml:"entity_hints"`
}

// Engine selects the underlying relational engine.
type Engine struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// Audit configures the audit sink.
type Audit struct {
	Path string `yaml:"path"`
}

// Server holds the listener settings for both front ends.
type Server struct {
	HTTPAddr        string `yaml:"http_addr"`
	WireAddr        string `yaml:"wire_addr"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
}

// Default returns the built-in production policy and runtime defaults.
func Default() *Config {
	return &Config{
		Policy: Policy{
			Bounds: map[string]float64{
				"salary":             300000,
				"budget":             1000000,
				"age":                100,
				"hours_worked":       80,
				"medical_cost":       100000,
				"performance_rating": 5,
			},
			DefaultBound:        100000,
			DefaultEpsilon:      1.0,
			MaxEpsilonPerQuery:  2.0,
			MaxBudgetPerSession: 10.0,
			MaxContributions:    3,
			ElasticSensitivity:  true,
			ProhibitedColumns: []string{
				"email", "ssn", "social_security_number",
				"address", "phone", "phone_number",
				"bank_account", "bank_account_number",
				"first_name", "last_name",
				"zip", "zipcode", "postal_code",
				"date_of_birth", "dob", "birth_date",
				"medical_record_number", "patient_id",
			},
			SensitiveColumns: []string{
				"salary", "budget", "performance_rating", "rating",
				"medical_cost", "claim_amount", "age",
			},
			EntityHints: []string{"employee", "user", "person", "patient", "customer"},
		},
		Engine: Engine{Driver: "sqlite", DSN: "veilql.db"},
		Audit:  Audit{Path: "audit.log"},
		Server: Server{
			HTTPAddr:        envStr("VEILQL_HTTP_ADDR", ":8080"),
			WireAddr:        envStr("VEILQL_WIRE_ADDR", ":5433"),
			User:            envStr("VEILQL_USER", "admin"),
			Password:        envStr("VEILQL_PASSWORD", ""),
			RateLimitPerMin: envInt("VEILQL_RATE_LIMIT", 10),
		},
	}
}

// Load reads a YAML config file over the defaults. Map-valued policy
// fields merge with the defaults; list-valued fields replace them.
// An empty path returns Default unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	p := c.Policy
	if p.DefaultEpsilon <= 0 {
		return fmt.Errorf("config: default_epsilon must be positive, got %g", p.DefaultEpsilon)
	}
	if p.MaxEpsilonPerQuery < p.DefaultEpsilon {
		return fmt.Errorf("config: max_epsilon_per_query %g below default_epsilon %g", p.MaxEpsilonPerQuery, p.DefaultEpsilon)
	}
	if p.MaxBudgetPerSession <= 0 {
		return fmt.Errorf("config: max_budget_per_session must be positive, got %g", p.MaxBudgetPerSession)
	}
	if p.MaxContributions < 1 {
		return fmt.Errorf("config: max_contributions_per_entity must be at least 1, got %d", p.MaxContributions)
	}
	switch c.Engine.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown engine driver %q", c.Engine.Driver)
	}
	return nil
}

// BoundFor returns the clipping bound for a column, falling back to
// DefaultBound. Lookup is case-insensitive.
func (p *Policy) BoundFor(column string) float64 {
	if b, ok := p.Bounds[column]; ok {
		return b
	}
	lower := strings.ToLower(column)
	for name, b := range p.Bounds {
		if strings.ToLower(name) == lower {
			return b
		}
	}
	return p.DefaultBound
}

// IsProhibited reports whether a column is classified as direct PII.
func (p *Policy) IsProhibited(column string) bool {
	return containsFold(p.ProhibitedColumns, column)
}

// IsSensitive reports whether a column requires aggregation under a
// PRIVATE label.
func (p *Policy) IsSensitive(column string) bool {
	return containsFold(p.SensitiveColumns, column)
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
