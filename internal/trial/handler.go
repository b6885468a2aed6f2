package trial

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/logging"
)

// #region config

// HandlerConfig parameterizes trial selection.
type HandlerConfig struct {
	RateSum            float64
	MinISI             float64
	StimPhaseDuration  Dist // used when the level sets none
	DelayPhaseDuration Dist
	BiasCorrection     int
	MaxBiasCorrection  float64
	NPreviousLevel     int
	HistoryWindow      int
	Manipulations      []int // used when the level sets none
	Condition          int
	Seed               uint64 // 0 seeds from the clock
}

// HandlerConfigFrom extracts the handler parameters from a rig config.
func HandlerConfigFrom(c config.Config) HandlerConfig {
	return HandlerConfig{
		RateSum:            c.Trial.RateSum,
		MinISI:             float64(c.Trial.MinISI),
		StimPhaseDuration:  DistFrom(c.Trial.StimPhaseDuration),
		DelayPhaseDuration: DistFrom(c.Trial.DelayPhaseDuration),
		BiasCorrection:     c.Trial.BiasCorrection,
		MaxBiasCorrection:  c.Trial.MaxBiasCorrection,
		NPreviousLevel:     c.Trial.NPreviousLevel,
		HistoryWindow:      c.Trial.HistoryWindow,
		Manipulations:      append([]int(nil), c.Session.Manipulations...),
		Condition:          c.Session.Condition,
		Seed:               c.Trial.Seed,
	}
}

// #endregion config

// #region handler

// Status is a point-in-time view of the handler.
type Status struct {
	Level         int        `json:"level"`
	Levels        int        `json:"levels"`
	Locked        bool       `json:"locked"`
	Intro         bool       `json:"intro"`
	Trials        int        `json:"trials"`
	Probabilities [2]float64 `json:"side_probabilities"`
	History       History    `json:"history"`
}

// Handler owns level and history state and issues trial plans. Methods are
// safe for concurrent use so operator commands can arrive from other
// goroutines.
type Handler struct {
	mu      sync.Mutex
	config  HandlerConfig
	gen     *Generator
	ladder  *Ladder
	rng     *rand.Rand
	sink    logging.Sink
	log     *zap.SugaredLogger
	records []Record
	next    int
	probs   [2]float64
	history History
}

// NewHandler creates a handler. past holds finalized trials of earlier
// sessions for the same subject, oldest first.
func NewHandler(config HandlerConfig, levels []Level, past []Record, sink logging.Sink, log *zap.SugaredLogger) *Handler {
	seed := config.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	h := &Handler{
		config: config,
		gen:    NewGenerator(config.RateSum, config.MinISI, rng),
		ladder: NewLadder(levels, config.NPreviousLevel, past),
		rng:    rng,
		sink:   sink,
		log:    log,
		probs:  [2]float64{0.5, 0.5},
	}
	if len(past) > 0 {
		from := past[len(past)-1].Level
		h.logLevel(from, h.ladder.Level(), "resume")
	}
	h.log.Infow("trial handler ready", "level", h.ladder.Level(), "intro", h.ladder.Intro(), "past_trials", len(past))
	return h
}

// Next draws the side, applies promotion and builds the next plan. Planned
// events are written to the trials_timing stream.
func (h *Handler) Next() (Plan, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	side, probs := NextSide(h.records, h.config.BiasCorrection, h.config.MaxBiasCorrection, h.rng)
	h.probs = probs

	from := h.ladder.Level()
	if h.ladder.Advance() {
		h.logLevel(from, h.ladder.Level(), "criteria")
	}
	level := h.ladder.Current()

	ratio := 1.0
	if len(level.Ratio) > 0 {
		ratio = level.Ratio[h.rng.IntN(len(level.Ratio))]
	}
	manips := level.Manipulation
	if len(manips) == 0 {
		manips = h.config.Manipulations
	}
	manip := ManipNone
	if len(manips) > 0 {
		manip = manips[h.rng.IntN(len(manips))]
	}
	stim := h.config.StimPhaseDuration
	if level.StimPhaseDuration != nil {
		stim = *level.StimPhaseDuration
	}
	delay := h.config.DelayPhaseDuration
	if level.DelayPhaseDuration != nil {
		delay = *level.DelayPhaseDuration
	}
	dur := stim.Sample(h.rng)
	delayDur := delay.Sample(h.rng)

	plan, err := h.gen.Generate(side, ratio, dur)
	if err != nil {
		return Plan{}, err
	}
	plan.Index = h.next
	plan.Rule = level.Rule
	plan.Manipulation = manip
	plan.Condition = h.config.Condition
	plan.Delay = delayDur
	plan.Level = h.ladder.Level()
	h.next++

	now, wall := clocksync.Now(), clocksync.Wall()
	for _, e := range plan.Events {
		h.sink.Write(TimingStream, TimingRow{Trial: plan.Index, Side: e.Side, Time: e.Time}, now, wall)
	}
	return plan, nil
}

// End stores a finalized trial and recomputes history.
func (h *Handler) End(rec Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	h.ladder.Record(rec)
	h.history = ComputeHistory(h.records, h.config.HistoryWindow)
	h.sink.Write(TrialsStream, rec, rec.End, clocksync.Wall())
	h.log.Infow("trial finalized",
		"idx", rec.Idx, "outcome", rec.Outcome.String(), "side", rec.Side.String(),
		"level", rec.Level, "perc", h.history.Window.Perc)
}

// ChangeLevel moves the level manually. Reports whether it changed.
func (h *Handler) ChangeLevel(delta int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.ladder.Level()
	if !h.ladder.Change(delta) {
		return false
	}
	h.logLevel(from, h.ladder.Level(), "manual")
	return true
}

// Lock freezes or releases the current level.
func (h *Handler) Lock(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ladder.Lock(on)
}

// Level returns the current level index.
func (h *Handler) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ladder.Level()
}

// Records returns a copy of this session's finalized trials.
func (h *Handler) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Record(nil), h.records...)
}

// Status returns a snapshot of the handler state.
func (h *Handler) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Level:         h.ladder.Level(),
		Levels:        h.ladder.Len(),
		Locked:        h.ladder.Locked(),
		Intro:         h.ladder.Intro(),
		Trials:        len(h.records),
		Probabilities: h.probs,
		History:       h.history,
	}
}

func (h *Handler) logLevel(from, to int, reason string) {
	if from == to {
		return
	}
	h.log.Infow("level change", "from", from, "to", to, "reason", reason)
	logging.LogLevelDecision(h.sink, logging.LevelDecision{
		Trial:  h.next,
		From:   from,
		To:     to,
		Reason: reason,
		TS:     clocksync.Now(),
		Wall:   clocksync.Wall(),
	})
}

// #endregion handler
