package noise

import (
	"math"
	"testing"
)

func sampleStats(t *testing.T, seed uint64, scale float64, n int) (mean, variance float64) {
	t.Helper()
	l := NewLaplaceSeeded(seed)
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		x := l.Sample(scale)
		sum += x
		sumSq += x * x
	}
	mean = sum / float64(n)
	variance = sumSq/float64(n) - mean*mean
	return mean, variance
}

func TestSampleMeanNearZero(t *testing.T) {
	mean, _ := sampleStats(t, 1, 1.0, 200000)
	if math.Abs(mean) > 0.02 {
		t.Errorf("mean = %g, want near 0", mean)
	}
}

func TestSampleVarianceMatchesScale(t *testing.T) {
	// Var(Laplace(b)) = 2b².
	for _, scale := range []float64{0.5, 1.0, 4.0} {
		_, variance := sampleStats(t, 7, scale, 200000)
		want := 2 * scale * scale
		if variance < want*0.9 || variance > want*1.1 {
			t.Errorf("scale %g: variance = %g, want about %g", scale, variance, want)
		}
	}
}

func TestVarianceGrowsWithScale(t *testing.T) {
	// Noise magnitude must rise with sensitivity and fall with epsilon.
	_, small := sampleStats(t, 11, 1.0, 50000)
	_, large := sampleStats(t, 11, 10.0, 50000)
	if large <= small {
		t.Errorf("variance at scale 10 (%g) not greater than at scale 1 (%g)", large, small)
	}
}

func TestSampleNonPositiveScale(t *testing.T) {
	l := NewLaplaceSeeded(3)
	if got := l.Sample(0); got != 0 {
		t.Errorf("Sample(0) = %g, want 0", got)
	}
	if got := l.Sample(-1); got != 0 {
		t.Errorf("Sample(-1) = %g, want 0", got)
	}
}

func TestSeededSamplerIsDeterministic(t *testing.T) {
	a := NewLaplaceSeeded(42)
	b := NewLaplaceSeeded(42)
	for i := 0; i < 100; i++ {
		if x, y := a.Sample(1.0), b.Sample(1.0); x != y {
			t.Fatalf("draw %d diverged: %g vs %g", i, x, y)
		}
	}
}

func TestSampleFinite(t *testing.T) {
	l := NewLaplaceSeeded(99)
	for i := 0; i < 100000; i++ {
		x := l.Sample(1.0)
		if math.IsInf(x, 0) || math.IsNaN(x) {
			t.Fatalf("draw %d is not finite: %g", i, x)
		}
	}
}
