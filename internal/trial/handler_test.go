package trial

import (
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/logging"
)

type fakeSink struct {
	mu   sync.Mutex
	rows map[string][]any
}

func newFakeSink() *fakeSink { return &fakeSink{rows: make(map[string][]any)} }

func (f *fakeSink) Write(stream string, payload any, ts, ts2 float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[stream] = append(f.rows[stream], payload)
}

func (f *fakeSink) count(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows[stream])
}

func testHandlerConfig() HandlerConfig {
	cfg := HandlerConfigFrom(config.Default())
	cfg.Seed = 21
	return cfg
}

func finish(p Plan, o Outcome) Record {
	n := p.Intended()
	return Record{
		Idx: p.Index, Side: p.Side, Level: p.Level, Outcome: o,
		NLIntended: n[Left], NRIntended: n[Right], Rule: p.Rule.Name,
	}
}

func TestHandlerNextWritesTiming(t *testing.T) {
	sink := newFakeSink()
	levels, err := LevelsFromConfig(config.DefaultLevels())
	if err != nil {
		t.Fatal(err)
	}
	h := NewHandler(testHandlerConfig(), levels, nil, sink, zaptest.NewLogger(t).Sugar())

	var events int
	for i := range 5 {
		p, err := h.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if p.Index != i {
			t.Fatalf("index = %d, want %d", p.Index, i)
		}
		if p.Rule.Name != "passive" || p.Level != 0 {
			t.Fatalf("plan at level %d rule %q", p.Level, p.Rule.Name)
		}
		if p.Manipulation != ManipNone {
			t.Fatalf("manipulation = %d", p.Manipulation)
		}
		events += len(p.Events)
		h.End(finish(p, Correct))
	}
	if got := sink.count(TimingStream); got != events {
		t.Errorf("timing rows = %d, want %d", got, events)
	}
	if got := sink.count(TrialsStream); got != 5 {
		t.Errorf("trial rows = %d, want 5", got)
	}
	st := h.Status()
	if st.Trials != 5 || st.History.Global.Perc != 1 {
		t.Errorf("status = %+v", st)
	}
}

func TestHandlerPromotesAndLogs(t *testing.T) {
	sink := newFakeSink()
	levels := testLevels(3, Criteria{N: 3, Win: 3, Perc: 0.5, Bias: 1, Valid: 0.5})
	h := NewHandler(testHandlerConfig(), levels, nil, sink, zaptest.NewLogger(t).Sugar())

	for range 3 {
		p, err := h.Next()
		if err != nil {
			t.Fatal(err)
		}
		h.End(finish(p, Correct))
	}
	p, err := h.Next()
	if err != nil {
		t.Fatal(err)
	}
	if p.Level != 1 {
		t.Fatalf("4th trial at level %d, want 1", p.Level)
	}
	if got := sink.count(logging.LevelStream); got != 1 {
		t.Fatalf("level rows = %d, want 1", got)
	}
	d := sink.rows[logging.LevelStream][0].(logging.LevelDecision)
	if d.From != 0 || d.To != 1 || d.Reason != "criteria" || d.Trial != 3 {
		t.Errorf("decision = %+v", d)
	}
}

func TestHandlerManualControls(t *testing.T) {
	sink := newFakeSink()
	h := NewHandler(testHandlerConfig(), testLevels(3, Criteria{N: 1, Win: 1}), nil, sink, zaptest.NewLogger(t).Sugar())

	if !h.ChangeLevel(1) || h.Level() != 1 {
		t.Fatalf("level up failed, level %d", h.Level())
	}
	h.Lock(true)
	if h.ChangeLevel(1) {
		t.Fatal("locked handler changed level")
	}
	if !h.Status().Locked {
		t.Fatal("status not locked")
	}
	h.Lock(false)
	if !h.ChangeLevel(-1) || h.Level() != 0 {
		t.Fatalf("level down failed, level %d", h.Level())
	}
	if got := sink.count(logging.LevelStream); got != 2 {
		t.Fatalf("level rows = %d, want 2", got)
	}
}

func TestHandlerResume(t *testing.T) {
	sink := newFakeSink()
	cfg := testHandlerConfig()
	cfg.NPreviousLevel = 5
	past := []Record{rec(2, Left, Correct)}
	h := NewHandler(cfg, testLevels(4, Criteria{N: 100, Win: 100}), past, sink, zaptest.NewLogger(t).Sugar())
	st := h.Status()
	if st.Level != 1 || !st.Intro {
		t.Fatalf("resumed at level %d intro %v", st.Level, st.Intro)
	}
	d := sink.rows[logging.LevelStream][0].(logging.LevelDecision)
	if d.Reason != "resume" || d.From != 2 || d.To != 1 {
		t.Errorf("decision = %+v", d)
	}
}

func TestHandlerLevelManipulations(t *testing.T) {
	cfg := testHandlerConfig()
	cfg.Manipulations = []int{ManipStim}
	levels := testLevels(2, Criteria{N: 1000, Win: 1000})
	levels[0].Manipulation = []int{ManipDelay, ManipReward}
	h := NewHandler(cfg, levels, nil, newFakeSink(), zaptest.NewLogger(t).Sugar())
	seen := map[int]bool{}
	for range 40 {
		p, err := h.Next()
		if err != nil {
			t.Fatal(err)
		}
		seen[p.Manipulation] = true
		h.End(finish(p, Correct))
	}
	if !seen[ManipDelay] || !seen[ManipReward] || seen[ManipStim] {
		t.Fatalf("manipulations drawn = %v", seen)
	}
}
