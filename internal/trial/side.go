package trial

import "math/rand/v2"

// #region side selection

// SideProbabilities returns P(Left), P(Right) for the next trial. With a
// positive window, each side's correct rate over its last window decisive
// trials is compared and the weaker side is favored. A zero rate is floored
// at maxCorrection times the other rate so neither probability reaches 0 or 1.
func SideProbabilities(records []Record, window int, maxCorrection float64) [2]float64 {
	uniform := [2]float64{0.5, 0.5}
	if window <= 0 {
		return uniform
	}
	var outcomes [2][]Outcome
	for _, r := range records {
		if r.Outcome.Decisive() {
			outcomes[r.Side] = append(outcomes[r.Side], r.Outcome)
		}
	}
	var perc [2]float64
	for s := range outcomes {
		if len(outcomes[s]) < window {
			return uniform
		}
		last := outcomes[s][len(outcomes[s])-window:]
		var c int
		for _, o := range last {
			if o == Correct {
				c++
			}
		}
		perc[s] = float64(c) / float64(window)
	}
	if perc[Left] == perc[Right] {
		return uniform
	}
	hi := max(perc[Left], perc[Right])
	for s := range perc {
		if perc[s] == 0 {
			perc[s] = maxCorrection * hi
		}
	}
	sum := perc[Left] + perc[Right]
	// The better side's rate becomes the weaker side's probability.
	return [2]float64{perc[Right] / sum, perc[Left] / sum}
}

// NextSide draws the next correct side.
func NextSide(records []Record, window int, maxCorrection float64, rng *rand.Rand) (Side, [2]float64) {
	p := SideProbabilities(records, window, maxCorrection)
	if rng.Float64() < p[Left] {
		return Left, p
	}
	return Right, p
}

// #endregion side selection
