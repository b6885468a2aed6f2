package trial

import (
	"math"
	"testing"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
)

func TestNormalDistShape(t *testing.T) {
	d := NewNormalDist(1.5, 0.4, 10)
	if len(d.Options) != 10 || len(d.Probs) != 10 {
		t.Fatalf("expected 10 options, got %d/%d", len(d.Options), len(d.Probs))
	}
	var sum float64
	for _, p := range d.Probs {
		sum += p
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %v", sum)
	}
	// Symmetric about the mean with the central options most likely.
	for i := range 5 {
		if math.Abs(d.Probs[i]-d.Probs[9-i]) > 1e-12 {
			t.Errorf("probs %d and %d differ: %v vs %v", i, 9-i, d.Probs[i], d.Probs[9-i])
		}
	}
	if d.Probs[4] <= d.Probs[0] {
		t.Errorf("central option %v not more likely than tail %v", d.Probs[4], d.Probs[0])
	}
	if math.Abs(d.Mean()-1.5) > 1e-9 {
		t.Errorf("mean = %v, want 1.5", d.Mean())
	}
	lo, hi := 1.5-2.3263*0.4, 1.5+2.3263*0.4
	if math.Abs(d.Options[0]-lo) > 1e-3 || math.Abs(d.Options[9]-hi) > 1e-3 {
		t.Errorf("range [%v, %v], want about [%v, %v]", d.Options[0], d.Options[9], lo, hi)
	}
}

func TestNormalDistClampsNegative(t *testing.T) {
	d := NewNormalDist(0.2, 0.1, 10)
	for _, o := range d.Options {
		if o < 0 {
			t.Fatalf("negative option %v", o)
		}
	}
}

func TestNormalDistDegenerate(t *testing.T) {
	for _, d := range []Dist{NewNormalDist(0.5, 0, 10), NewNormalDist(0.5, 0.1, 1)} {
		if len(d.Options) != 1 || d.Options[0] != 0.5 || d.Probs[0] != 1 {
			t.Errorf("degenerate dist = %+v", d)
		}
		if got := d.Sample(newRNG(1)); got != 0.5 {
			t.Errorf("sample = %v", got)
		}
	}
}

func TestDistSampleFrequencies(t *testing.T) {
	d := DistFrom(config.DistConfig{Mean: 1.0, Std: 0.2, N: 10})
	rng := newRNG(9)
	counts := make(map[float64]int)
	const draws = 20000
	for range draws {
		counts[d.Sample(rng)]++
	}
	for i, o := range d.Options {
		got := float64(counts[o]) / draws
		if math.Abs(got-d.Probs[i]) > 0.015 {
			t.Errorf("option %v drawn %.3f, want %.3f", o, got, d.Probs[i])
		}
	}
}
