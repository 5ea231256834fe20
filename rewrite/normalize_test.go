package rewrite

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips budget annotation",
			in:   "SELECT AVG(salary OF [1.0]) FROM employees",
			want: "SELECT AVG(salary) FROM employees",
		},
		{
			name: "strips labels",
			in:   "SELECT PUBLIC department, PRIVATE salary FROM employees",
			want: "SELECT department, salary FROM employees",
		},
		{
			name: "collapses whitespace",
			in:   "SELECT   COUNT(*)\n\tFROM    employees",
			want: "SELECT COUNT(*) FROM employees",
		},
		{
			name: "comma spacing",
			in:   "SELECT a ,b,c FROM t",
			want: "SELECT a, b, c FROM t",
		},
		{
			name: "keyword spacing",
			in:   "SELECT COUNT(*)FROM employees WHERE x = 1 GROUP   BY x",
			want: "SELECT COUNT(*) FROM employees WHERE x = 1 GROUP BY x",
		},
		{
			name: "noise term spacing",
			in:   "SELECT AVG(MIN(salary, 300000))+12.34 FROM employees",
			want: "SELECT AVG(MIN(salary, 300000)) + 12.34 FROM employees",
		},
		{
			name: "paren tightening",
			in:   "SELECT AVG( salary ) FROM employees",
			want: "SELECT AVG(salary) FROM employees",
		},
		{
			name: "join clause",
			in:   "SELECT COUNT(*) FROM a JOIN  b ON a.id=b.a_id",
			want: "SELECT COUNT(*) FROM a JOIN b ON a.id=b.a_id",
		},
		{
			name: "already canonical",
			in:   "SELECT department, AVG(MIN(salary, 300000)) + 0.00 FROM employees GROUP BY department",
			want: "SELECT department, AVG(MIN(salary, 300000)) + 0.00 FROM employees GROUP BY department",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Normalize applied to its own output is the identity.
func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"SELECT PUBLIC department, AVG(PRIVATE salary OF [1.0]) FROM employees GROUP BY PUBLIC department",
		"SELECT COUNT(*)FROM employees",
		"  SELECT a ,b FROM t WHERE x = 'v'  ",
		"SELECT AVG(MIN(salary, 300000)) + 12.34 FROM employees JOIN projects ON employees.id = projects.employee_id",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q:\n once: %q\ntwice: %q", in, once, twice)
		}
	}
}
