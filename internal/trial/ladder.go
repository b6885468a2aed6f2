package trial

import (
	"fmt"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
)

// #region level

// Criteria gate promotion out of a level.
type Criteria struct {
	N     int     // decisive trials at this level
	Win   int     // contiguous decisive trials assessed
	Perc  float64 // minimum fraction correct over the window
	Bias  float64 // maximum normalized per-side correct fraction
	Valid float64 // minimum decisive fraction over the last Win trials of any kind
}

// Level is one rung of the training ladder.
type Level struct {
	Criteria           Criteria
	Rule               Rule
	Ratio              []float64
	Manipulation       []int // nil uses session manipulations
	StimPhaseDuration  *Dist // nil uses the session default
	DelayPhaseDuration *Dist
}

// LevelsFromConfig converts configured levels.
func LevelsFromConfig(cfgs []config.LevelConfig) ([]Level, error) {
	levels := make([]Level, 0, len(cfgs))
	for i, c := range cfgs {
		rule, err := RuleByName(c.Rule)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", i, err)
		}
		l := Level{
			Criteria: Criteria{
				N:     c.Criteria.N,
				Win:   c.Criteria.Win,
				Perc:  c.Criteria.Perc,
				Bias:  c.Criteria.Bias,
				Valid: c.Criteria.Valid,
			},
			Rule:         rule,
			Ratio:        append([]float64(nil), c.Ratio...),
			Manipulation: append([]int(nil), c.Manipulation...),
		}
		if c.StimPhaseDuration != nil {
			d := DistFrom(*c.StimPhaseDuration)
			l.StimPhaseDuration = &d
		}
		if c.DelayPhaseDuration != nil {
			d := DistFrom(*c.DelayPhaseDuration)
			l.DelayPhaseDuration = &d
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// #endregion level

// #region ladder

// Ladder tracks the current level and decides promotion. It is not safe for
// concurrent use; the Handler serializes access.
type Ladder struct {
	levels []Level
	level  int
	locked bool
	intro  bool
	nPrev  int
	past   []Record
	trials []Record
}

// NewLadder starts at the last level found in past. When nPrev > 0 and that
// level is above zero, the session starts one level lower in intro mode,
// which promotes after nPrev decisive trials regardless of performance.
func NewLadder(levels []Level, nPrev int, past []Record) *Ladder {
	l := &Ladder{levels: levels, nPrev: nPrev, past: past}
	if len(past) > 0 {
		l.level = clamp(past[len(past)-1].Level, 0, len(levels)-1)
	}
	if nPrev > 0 && l.level > 0 {
		l.level--
		l.intro = true
	}
	return l
}

// Level returns the current level index.
func (l *Ladder) Level() int { return l.level }

// Current returns the current level.
func (l *Ladder) Current() Level { return l.levels[l.level] }

// Len returns the number of levels.
func (l *Ladder) Len() int { return len(l.levels) }

// Intro reports whether the ladder is in intro mode.
func (l *Ladder) Intro() bool { return l.intro }

// Locked reports whether the level is locked.
func (l *Ladder) Locked() bool { return l.locked }

// Lock freezes or releases the current level.
func (l *Ladder) Lock(on bool) { l.locked = on }

// Record appends a finalized trial of this session.
func (l *Ladder) Record(r Record) { l.trials = append(l.trials, r) }

// Change moves the level by delta, clamped to the ladder. Locked ladders
// ignore it. Reports whether the level changed.
func (l *Ladder) Change(delta int) bool {
	if l.locked {
		return false
	}
	to := clamp(l.level+delta, 0, len(l.levels)-1)
	l.intro = false
	if to == l.level {
		return false
	}
	l.level = to
	return true
}

// Advance promotes one level when the current criteria are met. Reports
// whether a promotion happened.
func (l *Ladder) Advance() bool {
	if l.locked || l.level >= len(l.levels)-1 {
		return false
	}
	cri := l.levels[l.level].Criteria
	if l.intro {
		cri = Criteria{N: l.nPrev, Win: l.nPrev, Perc: 0, Bias: 1, Valid: 0}
	}
	if !l.criteriaMet(cri) {
		return false
	}
	l.level++
	l.intro = false
	return true
}

func (l *Ladder) criteriaMet(cri Criteria) bool {
	var n int
	for _, r := range l.trials {
		if r.Level == l.level && r.Outcome.Decisive() {
			n++
		}
	}
	if !l.intro && len(l.past) > 0 && l.past[len(l.past)-1].Level == l.level {
		for _, r := range l.past {
			if r.Level == l.level && r.Outcome.Decisive() {
				n++
			}
		}
	}
	if n < cri.N {
		return false
	}

	start := 0
	for i := len(l.trials) - 1; i >= 0; i-- {
		if l.trials[i].Level != l.level {
			start = i + 1
			break
		}
	}
	contig := l.trials[start:]
	var decisive []Record
	for _, r := range contig {
		if r.Outcome.Decisive() {
			decisive = append(decisive, r)
		}
	}
	if cri.Win <= 0 || len(decisive) < cri.Win {
		return false
	}

	window := decisive[len(decisive)-cri.Win:]
	correct, bySide, totals := 0, [2]int{}, [2]int{}
	for _, r := range window {
		totals[r.Side]++
		if r.Outcome == Correct {
			correct++
			bySide[r.Side]++
		}
	}
	if float64(correct)/float64(len(window)) < cri.Perc {
		return false
	}
	if sideBias(bySide, totals) > cri.Bias {
		return false
	}

	all := contig
	if len(all) > cri.Win {
		all = all[len(all)-cri.Win:]
	}
	var valid int
	for _, r := range all {
		if r.Outcome.Decisive() {
			valid++
		}
	}
	return float64(valid)/float64(len(all)) >= cri.Valid
}

// sideBias returns the larger normalized per-side correct fraction. A window
// missing one side is maximally biased.
func sideBias(correct, totals [2]int) float64 {
	if totals[Left] == 0 || totals[Right] == 0 {
		return 1
	}
	pl := float64(correct[Left]) / float64(totals[Left])
	pr := float64(correct[Right]) / float64(totals[Right])
	if pl+pr == 0 {
		return 0.5
	}
	return max(pl, pr) / (pl + pr)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// #endregion ladder
