package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "veilql.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Policy.DefaultEpsilon, 1.0; got != want {
		t.Errorf("DefaultEpsilon = %g, want %g", got, want)
	}
	if got, want := cfg.Policy.MaxBudgetPerSession, 10.0; got != want {
		t.Errorf("MaxBudgetPerSession = %g, want %g", got, want)
	}
	if !cfg.Policy.ElasticSensitivity {
		t.Error("ElasticSensitivity should default to enabled")
	}
	if got, want := cfg.Policy.BoundFor("salary"), 300000.0; got != want {
		t.Errorf("BoundFor(salary) = %g, want %g", got, want)
	}
}

func TestLoadMergesBounds(t *testing.T) {
	path := writeConfig(t, `
policy:
  bounds:
    salary: 150000
    medical_cost: 50000
  default_epsilon: 0.5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Policy.BoundFor("salary"), 150000.0; got != want {
		t.Errorf("BoundFor(salary) = %g, want %g", got, want)
	}
	// Unmentioned defaults must survive the merge.
	if got, want := cfg.Policy.BoundFor("age"), 100.0; got != want {
		t.Errorf("BoundFor(age) = %g, want %g", got, want)
	}
	if got, want := cfg.Policy.DefaultEpsilon, 0.5; got != want {
		t.Errorf("DefaultEpsilon = %g, want %g", got, want)
	}
}

func TestBoundForUnknownColumn(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Policy.BoundFor("mystery_metric"), cfg.Policy.DefaultBound; got != want {
		t.Errorf("BoundFor(unknown) = %g, want default bound %g", got, want)
	}
}

func TestBoundForIsCaseInsensitive(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Policy.BoundFor("Salary"), 300000.0; got != want {
		t.Errorf("BoundFor(Salary) = %g, want %g", got, want)
	}
}

func TestColumnClassification(t *testing.T) {
	cfg := Default()
	cases := []struct {
		col        string
		prohibited bool
		sensitive  bool
	}{
		{"email", true, false},
		{"Email", true, false},
		{"SSN", true, false},
		{"bank_account_number", true, false},
		{"salary", false, true},
		{"Age", false, true},
		{"department", false, false},
	}
	for _, c := range cases {
		if got := cfg.Policy.IsProhibited(c.col); got != c.prohibited {
			t.Errorf("IsProhibited(%q) = %v, want %v", c.col, got, c.prohibited)
		}
		if got := cfg.Policy.IsSensitive(c.col); got != c.sensitive {
			t.Errorf("IsSensitive(%q) = %v, want %v", c.col, got, c.sensitive)
		}
	}
}

func TestLoadRejectsBadEngine(t *testing.T) {
	path := writeConfig(t, `
engine:
  driver: oracle
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown engine driver") {
		t.Errorf("Load = %v, want unknown engine driver error", err)
	}
}

func TestLoadRejectsInvalidEpsilon(t *testing.T) {
	path := writeConfig(t, `
policy:
  default_epsilon: -1
`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted a negative default_epsilon")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load accepted a missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Policy.MaxContributions, 3; got != want {
		t.Errorf("MaxContributions = %d, want %d", got, want)
	}
}
