package trial

import (
	"testing"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
)

func rec(level int, side Side, o Outcome) Record {
	return Record{Level: level, Side: side, Outcome: o}
}

func testLevels(n int, cri Criteria) []Level {
	levels := make([]Level, n)
	for i := range levels {
		levels[i] = Level{Criteria: cri, Rule: rules["full"], Ratio: []float64{2}}
	}
	return levels
}

func TestLadderAdvance(t *testing.T) {
	cri := Criteria{N: 4, Win: 4, Perc: 0.5, Bias: 1, Valid: 0.5}
	tests := []struct {
		name    string
		records []Record
		want    bool
	}{
		{"too few", []Record{rec(0, Left, Correct), rec(0, Right, Correct), rec(0, Left, Correct)}, false},
		{"met", []Record{rec(0, Left, Correct), rec(0, Right, Correct), rec(0, Left, Correct), rec(0, Right, Incorrect)}, true},
		{"low accuracy", []Record{rec(0, Left, Incorrect), rec(0, Right, Incorrect), rec(0, Left, Correct), rec(0, Right, Incorrect)}, false},
		{"non-decisive not counted", []Record{rec(0, Left, Correct), rec(0, Right, Null), rec(0, Left, Correct), rec(0, Right, Early)}, false},
		{"low validity", []Record{
			rec(0, Left, Correct), rec(0, Right, Correct), rec(0, Left, Correct), rec(0, Right, Correct),
			rec(0, Left, Null), rec(0, Right, Null), rec(0, Left, Null),
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLadder(testLevels(3, cri), 0, nil)
			for _, r := range tt.records {
				l.Record(r)
			}
			if got := l.Advance(); got != tt.want {
				t.Fatalf("Advance() = %v, want %v", got, tt.want)
			}
			if tt.want && l.Level() != 1 {
				t.Fatalf("level = %d, want 1", l.Level())
			}
		})
	}
}

func TestLadderBias(t *testing.T) {
	cri := Criteria{N: 4, Win: 4, Perc: 0.5, Bias: 0.6, Valid: 0}
	l := NewLadder(testLevels(3, cri), 0, nil)
	for range 4 {
		l.Record(rec(0, Left, Correct))
	}
	if l.Advance() {
		t.Fatal("advanced with a single-sided window")
	}
	for range 2 {
		l.Record(rec(0, Right, Correct))
		l.Record(rec(0, Left, Incorrect))
	}
	// Window: R correct, L incorrect, R correct, L incorrect.
	if l.Advance() {
		t.Fatal("advanced with right-only correct responses")
	}
	l.Record(rec(0, Left, Correct))
	l.Record(rec(0, Right, Correct))
	l.Record(rec(0, Left, Correct))
	l.Record(rec(0, Right, Correct))
	if !l.Advance() {
		t.Fatal("expected promotion with balanced performance")
	}
}

func TestLadderLockedAndTop(t *testing.T) {
	cri := Criteria{N: 1, Win: 1, Perc: 0, Bias: 1, Valid: 0}
	l := NewLadder(testLevels(2, cri), 0, nil)
	l.Record(rec(0, Left, Correct))
	l.Lock(true)
	if l.Advance() || l.Change(1) {
		t.Fatal("locked ladder moved")
	}
	l.Lock(false)
	if !l.Advance() {
		t.Fatal("expected promotion after unlock")
	}
	l.Record(rec(1, Left, Correct))
	if l.Advance() {
		t.Fatal("advanced past the top level")
	}
	if l.Change(1) {
		t.Fatal("Change moved past the top level")
	}
	if !l.Change(-5) || l.Level() != 0 {
		t.Fatalf("Change(-5) left level %d, want 0", l.Level())
	}
}

func TestLadderContiguousWindow(t *testing.T) {
	cri := Criteria{N: 4, Win: 4, Perc: 0, Bias: 1, Valid: 0}
	l := NewLadder(testLevels(3, cri), 0, nil)
	for range 3 {
		l.Record(rec(0, Left, Correct))
	}
	l.Change(1)
	l.Record(rec(1, Right, Correct))
	l.Change(-1)
	l.Record(rec(0, Left, Correct))
	// Four decisive trials at level 0, but only one since the last change.
	if l.Advance() {
		t.Fatal("advanced across a level change")
	}
	for range 3 {
		l.Record(rec(0, Right, Correct))
	}
	if !l.Advance() {
		t.Fatal("expected promotion once the contiguous window filled")
	}
}

func TestLadderResume(t *testing.T) {
	cri := Criteria{N: 50, Win: 50, Perc: 0.9, Bias: 0.5, Valid: 1}
	past := []Record{rec(1, Left, Correct), rec(2, Right, Correct)}

	l := NewLadder(testLevels(4, cri), 3, past)
	if l.Level() != 1 || !l.Intro() {
		t.Fatalf("resume level %d intro %v, want 1 intro", l.Level(), l.Intro())
	}
	// Intro promotes after nPrev decisive trials regardless of accuracy.
	l.Record(rec(1, Left, Incorrect))
	l.Record(rec(1, Left, Null))
	l.Record(rec(1, Left, Incorrect))
	if l.Advance() {
		t.Fatal("intro promoted before n_previous_level decisive trials")
	}
	l.Record(rec(1, Left, Incorrect))
	if !l.Advance() || l.Level() != 2 || l.Intro() {
		t.Fatalf("level %d intro %v after intro, want 2 without intro", l.Level(), l.Intro())
	}

	plain := NewLadder(testLevels(4, cri), 0, past)
	if plain.Level() != 2 || plain.Intro() {
		t.Fatalf("resume without intro at %d", plain.Level())
	}
}

func TestLadderCountsPastAtSameLevel(t *testing.T) {
	cri := Criteria{N: 6, Win: 2, Perc: 0, Bias: 1, Valid: 0}
	var past []Record
	for range 4 {
		past = append(past, rec(0, Left, Correct))
	}
	with := NewLadder(testLevels(2, cri), 0, past)
	without := NewLadder(testLevels(2, cri), 0, nil)
	for _, l := range []*Ladder{with, without} {
		l.Record(rec(0, Left, Correct))
		l.Record(rec(0, Right, Correct))
	}
	if !with.Advance() {
		t.Error("past trials at the same level not counted")
	}
	if without.Advance() {
		t.Error("advanced with only two trials")
	}
}

func TestLadderMonotonic(t *testing.T) {
	cri := Criteria{N: 10, Win: 8, Perc: 0.6, Bias: 0.75, Valid: 0.5}
	l := NewLadder(testLevels(6, cri), 0, nil)
	rng := newRNG(11)
	prev := l.Level()
	for range 2000 {
		o := Outcome(rng.IntN(4))
		if rng.Float64() < 0.5 {
			o = Correct
		}
		l.Record(rec(l.Level(), Side(rng.IntN(2)), o))
		l.Advance()
		if l.Level() < prev || l.Level() > prev+1 {
			t.Fatalf("level moved from %d to %d", prev, l.Level())
		}
		prev = l.Level()
	}
	if prev == 0 {
		t.Fatal("never promoted")
	}
}

func TestLevelsFromConfig(t *testing.T) {
	levels, err := LevelsFromConfig(config.DefaultLevels())
	if err != nil {
		t.Fatal(err)
	}
	if len(levels) != 10 {
		t.Fatalf("got %d levels", len(levels))
	}
	if !levels[0].Rule.Any || levels[0].Rule.Phase {
		t.Errorf("level 0 rule = %+v, want passive", levels[0].Rule)
	}
	if levels[1].StimPhaseDuration == nil || levels[4].StimPhaseDuration != nil {
		t.Error("stimulus duration overrides not carried")
	}

	bad := config.DefaultLevels()
	bad[3].Rule = "nope"
	if _, err := LevelsFromConfig(bad); err == nil {
		t.Fatal("expected error for unknown rule")
	}
}
