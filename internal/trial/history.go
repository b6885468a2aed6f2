package trial

import (
	"encoding/json"
	"math"
)

// #region history

// Stats aggregates performance over a set of trials. Per-side fields are NaN
// when that side has no trials.
type Stats struct {
	Perc   float64 `json:"perc"`
	PercL  float64 `json:"perc_l"`
	PercR  float64 `json:"perc_r"`
	Valid  float64 `json:"valid"`
	ValidL float64 `json:"valid_l"`
	ValidR float64 `json:"valid_r"`
}

// MarshalJSON writes NaN fields as null.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]*float64{
		"perc":    finite(s.Perc),
		"perc_l":  finite(s.PercL),
		"perc_r":  finite(s.PercR),
		"valid":   finite(s.Valid),
		"valid_l": finite(s.ValidL),
		"valid_r": finite(s.ValidR),
	})
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// History holds session-wide and trailing-window statistics.
type History struct {
	N      int   `json:"n"`
	Global Stats `json:"global"`
	Window Stats `json:"window"`
}

// ComputeHistory recomputes statistics from finalized trials.
func ComputeHistory(records []Record, window int) History {
	h := History{N: len(records), Global: computeStats(records)}
	if window > 0 && len(records) > window {
		h.Window = computeStats(records[len(records)-window:])
	} else {
		h.Window = h.Global
	}
	return h
}

func computeStats(records []Record) Stats {
	var n, valid, correct [2]int
	for _, r := range records {
		n[r.Side]++
		if r.Outcome.Decisive() {
			valid[r.Side]++
			if r.Outcome == Correct {
				correct[r.Side]++
			}
		}
	}
	totalValid := valid[Left] + valid[Right]
	if totalValid == 0 {
		return Stats{}
	}
	return Stats{
		Perc:   float64(correct[Left]+correct[Right]) / float64(totalValid),
		PercL:  ratio(correct[Left], valid[Left]),
		PercR:  ratio(correct[Right], valid[Right]),
		Valid:  float64(totalValid) / float64(len(records)),
		ValidL: ratio(valid[Left], n[Left]),
		ValidR: ratio(valid[Right], n[Right]),
	}
}

func ratio(a, b int) float64 {
	if b == 0 {
		return math.NaN()
	}
	return float64(a) / float64(b)
}

// #endregion history
