package trial

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// #region generator

const maxTrainAttempts = 1000

// Generator builds stimulus event lists from two independent point processes.
type Generator struct {
	rateSum float64
	minISI  float64
	rng     *rand.Rand
}

// NewGenerator creates a generator with a total event rate budget (events/s)
// and a minimum same-side inter-event interval.
func NewGenerator(rateSum, minISI float64, rng *rand.Rand) *Generator {
	return &Generator{rateSum: rateSum, minISI: minISI, rng: rng}
}

// Generate builds a plan whose majority side is side. The realized ratio
// lam_R/lam_L is stored in the plan and equals 1/ratio when the labels were
// mirrored to match side.
func (g *Generator) Generate(side Side, ratio, dur float64) (Plan, error) {
	if ratio < 1 {
		return Plan{}, fmt.Errorf("generate trial: ratio %v below 1", ratio)
	}
	lamL := g.rateSum / (ratio + 1)
	lam := [2]float64{lamL, g.rateSum - lamL}

	var trains [2][]float64
	for attempt := 0; ; attempt++ {
		if attempt == maxTrainAttempts {
			return Plan{}, &InvariantError{
				Op:     "generate trial",
				Detail: fmt.Sprintf("equal train lengths after %d attempts (dur=%v)", attempt, dur),
			}
		}
		trains[Left] = g.train(lam[Left], dur)
		trains[Right] = g.train(lam[Right], dur)
		if len(trains[Left]) != len(trains[Right]) {
			break
		}
	}

	events := make([]Event, 0, len(trains[Left])+len(trains[Right])+4)
	for s, tr := range trains {
		events = append(events, Event{Side: Side(s), Time: 0})
		for _, t := range tr {
			events = append(events, Event{Side: Side(s), Time: t})
		}
		events = append(events, Event{Side: Side(s), Time: dur})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })

	if g.rng.Float64() < 0.5 {
		events[0].Side, events[1].Side = events[0].Side.Other(), events[1].Side.Other()
	}
	n := len(events)
	if g.rng.Float64() < 0.5 {
		events[n-2].Side, events[n-1].Side = events[n-2].Side.Other(), events[n-1].Side.Other()
	}

	if err := checkEvents(events, dur, g.minISI); err != nil {
		return Plan{}, err
	}

	var nR int
	for _, e := range events {
		if e.Side == Right {
			nR++
		}
	}
	majority := Left
	if 2*nR > n {
		majority = Right
	}
	if majority != side {
		for i := range events {
			events[i].Side = events[i].Side.Other()
		}
		lam[Left], lam[Right] = lam[Right], lam[Left]
	}

	return Plan{
		Side:     side,
		Ratio:    lam[Right] / lam[Left],
		Duration: dur,
		Events:   events,
		Lambda:   lam,
	}, nil
}

// train draws one side's interior event times. Intervals shorter than minISI
// are clamped up to it.
func (g *Generator) train(lam, dur float64) []float64 {
	var times []float64
	var sum float64
	for {
		d := g.rng.ExpFloat64() / lam
		if d < g.minISI {
			d = g.minISI
		}
		if sum+d >= dur-g.minISI {
			return times
		}
		sum += d
		times = append(times, sum)
	}
}

func checkEvents(events []Event, dur, minISI float64) error {
	last := [2]float64{math.Inf(-1), math.Inf(-1)}
	for i, e := range events {
		if e.Time > dur {
			return &InvariantError{Op: "generate trial", Detail: fmt.Sprintf("event %d at %v exceeds duration %v", i, e.Time, dur)}
		}
		if gap := round4(e.Time - last[e.Side]); gap < minISI {
			return &InvariantError{Op: "generate trial", Detail: fmt.Sprintf("event %d: %s gap %v below %v", i, e.Side, gap, minISI)}
		}
		last[e.Side] = e.Time
	}
	return nil
}

func round4(x float64) float64 { return math.Round(x*1e4) / 1e4 }

// #endregion generator
