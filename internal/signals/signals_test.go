package signals

import (
	"math"
	"testing"
)

func TestLicked(t *testing.T) {
	block := [][]float64{
		{0.1, 0.2, 7.0},
		{0.1, 0.1, 0.1},
		{9.0, 9.0, 9.0}, // unrelated port
	}
	got := Licked(block, [2]int{0, 1}, 6.0)
	if !got[0] || got[1] {
		t.Fatalf("Licked = %v, want [true false]", got)
	}

	got = Licked(block, [2]int{5, 2}, 6.0)
	if got[0] || !got[1] {
		t.Fatalf("out-of-range port should be ignored, got %v", got)
	}

	got = Licked([][]float64{{6.0}, {5.999}}, [2]int{0, 1}, 6.0)
	if !got[0] || got[1] {
		t.Fatalf("sample at threshold should count as a lick, got %v", got)
	}
}

func TestHolding(t *testing.T) {
	tests := []struct {
		name  string
		trace []float64
		n     int
		want  bool
	}{
		{"all above", []float64{0, 7, 7, 7}, 3, true},
		{"one dip", []float64{7, 7, 1, 7}, 3, false},
		{"too short", []float64{7, 7}, 3, false},
		{"zero window", []float64{7}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Holding(tt.trace, tt.n, 6); got != tt.want {
				t.Errorf("Holding = %v, want %v", got, tt.want)
			}
		})
	}
	if !AnyHolding([2][]float64{{0, 0}, {7, 7}}, 2, 6) {
		t.Error("AnyHolding should see right side")
	}
}

func TestMoving(t *testing.T) {
	if Moving([]float64{1, 1.1, 1.2, 1.1}, 0.5) {
		t.Error("small jitter should not count as motion")
	}
	if !Moving([]float64{1, 1.1, 2.0}, 0.5) {
		t.Error("jump should count as motion")
	}
	if Moving(nil, 0.5) {
		t.Error("empty trace is not moving")
	}
}

func TestMaskMean(t *testing.T) {
	px := []uint8{10, 20, 30, 40}
	if got := MaskMean(px, nil); got != 25 {
		t.Errorf("unmasked mean = %v", got)
	}
	if got := MaskMean(px, []float64{0, 1, 1, 0}); got != 25 {
		t.Errorf("masked mean = %v", got)
	}
	if got := MaskMean(px, []float64{0, 0, 0, 1}); got != 40 {
		t.Errorf("single pixel mask = %v", got)
	}
	if !math.IsNaN(MaskMean(px, []float64{1})) {
		t.Error("mismatched mask should be NaN")
	}
	if !math.IsNaN(MaskMean(px, []float64{0, 0, 0, 0})) {
		t.Error("zero-weight mask should be NaN")
	}
}

func TestEyelidOpen(t *testing.T) {
	trace := []float64{200, 200, 50, 50, 50}
	if !EyelidOpen(trace, 3, 128) {
		t.Error("dark recent frames should read as open")
	}
	if EyelidOpen(trace, 5, 60) {
		t.Error("window mean 110 is not below 60")
	}
	if EyelidOpen(nil, 3, 128) {
		t.Error("no frames is not open")
	}
	if EyelidOpen([]float64{math.NaN()}, 3, 128) {
		t.Error("only NaN is not open")
	}
}

func TestFillPolygon(t *testing.T) {
	square := []Point{{1, 1}, {3, 1}, {3, 3}, {1, 3}}
	mask := FillPolygon(4, 4, square)
	var n int
	for _, v := range mask {
		n += int(v)
	}
	if n != 4 {
		t.Fatalf("expected 4 pixels inside, got %d", n)
	}
	if mask[1*4+1] != 1 || mask[0] != 0 {
		t.Fatalf("unexpected mask %v", mask)
	}
	if got := FillPolygon(2, 2, square[:2]); got[0] != 0 {
		t.Fatal("degenerate polygon should be empty")
	}
}
