package trial

import (
	"math"
	"math/rand/v2"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
)

// #region dist

// Dist is a discrete duration distribution.
type Dist struct {
	Options []float64
	Probs   []float64
}

// NewNormalDist discretizes a normal distribution into n options spaced
// between its 1% and 99% quantiles. Weights are the cdf folded at 0.5 so the
// mean is most likely. Negative options are clamped to zero.
func NewNormalDist(mean, std float64, n int) Dist {
	if n <= 1 || std <= 0 {
		return Dist{Options: []float64{math.Max(mean, 0)}, Probs: []float64{1}}
	}
	lo, hi := normPPF(0.01, mean, std), normPPF(0.99, mean, std)
	d := Dist{Options: make([]float64, n), Probs: make([]float64, n)}
	var total float64
	for i := range n {
		x := lo + (hi-lo)*float64(i)/float64(n-1)
		c := normCDF(x, mean, std)
		if c > 0.5 {
			c = 1 - c
		}
		d.Options[i] = math.Max(x, 0)
		d.Probs[i] = c
		total += c
	}
	for i := range d.Probs {
		d.Probs[i] /= total
	}
	return d
}

// DistFrom builds a Dist from its configuration.
func DistFrom(c config.DistConfig) Dist {
	return NewNormalDist(float64(c.Mean), float64(c.Std), c.N)
}

// Sample draws one option.
func (d Dist) Sample(rng *rand.Rand) float64 {
	if len(d.Options) == 0 {
		return 0
	}
	u := rng.Float64()
	var acc float64
	for i, p := range d.Probs {
		acc += p
		if u < acc {
			return d.Options[i]
		}
	}
	return d.Options[len(d.Options)-1]
}

// Mean returns the expected value.
func (d Dist) Mean() float64 {
	var m float64
	for i, p := range d.Probs {
		m += p * d.Options[i]
	}
	return m
}

func normCDF(x, mean, std float64) float64 {
	return 0.5 * (1 + math.Erf((x-mean)/(std*math.Sqrt2)))
}

func normPPF(p, mean, std float64) float64 {
	return mean + std*math.Sqrt2*math.Erfinv(2*p-1)
}

// #endregion dist
