// Package signals derives behavioral booleans from raw sample windows: licks,
// sustained holding, motion and eyelid state. Everything here is a pure
// function over copies; streams own the windows and the read-and-clear
// latches.
package signals

import "math"

// #region licks

// Licked reports, per side, whether any sample of the block on that side's
// port reaches thresh. block is indexed [port][sample].
func Licked(block [][]float64, ports [2]int, thresh float64) [2]bool {
	var out [2]bool
	for side, port := range ports {
		if port < 0 || port >= len(block) {
			continue
		}
		for _, v := range block[port] {
			if v >= thresh {
				out[side] = true
				break
			}
		}
	}
	return out
}

// Holding reports whether the last n samples of trace are all above thresh.
// A trace shorter than n is not holding.
func Holding(trace []float64, n int, thresh float64) bool {
	if n <= 0 || len(trace) < n {
		return false
	}
	for _, v := range trace[len(trace)-n:] {
		if v <= thresh {
			return false
		}
	}
	return true
}

// AnyHolding reports whether either side's trace is holding.
func AnyHolding(traces [2][]float64, n int, thresh float64) bool {
	return Holding(traces[0], n, thresh) || Holding(traces[1], n, thresh)
}

// #endregion licks

// #region motion

// Moving reports whether any sample-to-sample difference over trace exceeds
// thresh in magnitude.
func Moving(trace []float64, thresh float64) bool {
	for i := 1; i < len(trace); i++ {
		if math.Abs(trace[i]-trace[i-1]) > thresh {
			return true
		}
	}
	return false
}

// #endregion motion

// #region eyelid

// MaskMean is the mask-weighted mean of pixels: dot(mask, pixels)/sum(mask).
// A nil or empty mask averages every pixel. Mismatched lengths yield NaN.
func MaskMean(pixels []uint8, mask []float64) float64 {
	if len(pixels) == 0 {
		return math.NaN()
	}
	if len(mask) == 0 {
		var sum float64
		for _, p := range pixels {
			sum += float64(p)
		}
		return sum / float64(len(pixels))
	}
	if len(mask) != len(pixels) {
		return math.NaN()
	}
	var dot, weight float64
	for i, m := range mask {
		dot += m * float64(pixels[i])
		weight += m
	}
	if weight == 0 {
		return math.NaN()
	}
	return dot / weight
}

// EyelidOpen reports whether the mean of the last window values of trace is
// below thresh. NaN entries are skipped; no usable values means not open.
func EyelidOpen(trace []float64, window int, thresh float64) bool {
	if window <= 0 || len(trace) == 0 {
		return false
	}
	if len(trace) > window {
		trace = trace[len(trace)-window:]
	}
	var sum float64
	n := 0
	for _, v := range trace {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return false
	}
	return sum/float64(n) < thresh
}

// FillPolygon rasterizes a closed polygon into a width*height row-major mask
// of 0/1 weights using the even-odd rule at pixel centers.
func FillPolygon(width, height int, pts []Point) []float64 {
	mask := make([]float64, width*height)
	if len(pts) < 3 {
		return mask
	}
	for y := 0; y < height; y++ {
		cy := float64(y) + 0.5
		for x := 0; x < width; x++ {
			if inside(float64(x)+0.5, cy, pts) {
				mask[y*width+x] = 1
			}
		}
	}
	return mask
}

func inside(x, y float64, pts []Point) bool {
	in := false
	j := len(pts) - 1
	for i := range pts {
		pi, pj := pts[i], pts[j]
		if (pi.Y > y) != (pj.Y > y) && x < (pj.X-pi.X)*(y-pi.Y)/(pj.Y-pi.Y)+pi.X {
			in = !in
		}
		j = i
	}
	return in
}

// #endregion eyelid
