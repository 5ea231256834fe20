// Package noise samples the Laplace distribution used to perturb
// aggregate results. The scale of each draw is effective sensitivity
// divided by epsilon; callers are responsible for computing it.
package noise

import (
	"math"
	"math/rand/v2"
)

// Laplace draws from a zero-centered Laplace distribution via inverse
// CDF sampling: for u uniform in (-1/2, 1/2), the quantile is
// -scale * sgn(u) * ln(1 - 2|u|).
type Laplace struct {
	uniform func() float64 // uniform in [0, 1)
}

// NewLaplace returns a sampler backed by the shared math/rand/v2
// source, which is safe for concurrent use.
func NewLaplace() *Laplace {
	return &Laplace{uniform: rand.Float64}
}

// NewLaplaceSeeded returns a deterministic sampler for tests. The
// returned sampler is not safe for concurrent use.
func NewLaplaceSeeded(seed uint64) *Laplace {
	r := rand.New(rand.NewPCG(seed, 0x1005))
	return &Laplace{uniform: r.Float64}
}

// NewLaplaceUniform returns a sampler drawing uniforms from the given
// function. A function pinned to 0.5 yields zero noise on every draw,
// which tests use to make rewritten queries reproducible.
func NewLaplaceUniform(uniform func() float64) *Laplace {
	return &Laplace{uniform: uniform}
}

// Sample returns one draw with the given scale. A non-positive scale
// yields zero noise.
func (l *Laplace) Sample(scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	u := l.uniform() - 0.5
	for u == -0.5 {
		// Excluded endpoint would map to -Inf.
		u = l.uniform() - 0.5
	}
	if u < 0 {
		return scale * math.Log(1+2*u)
	}
	if u > 0 {
		return -scale * math.Log(1-2*u)
	}
	// u == 0 maps to exactly zero, not IEEE negative zero.
	return 0
}
