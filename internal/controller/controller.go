// Package controller runs the per-trial phase state machine: stimulus
// delivery, response scoring, reward and inter-trial timing.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/hardware"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/logging"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// #region controller

// Controller executes trials one at a time. RunTrial must not be called
// concurrently; Kill, Pause, ForceReward and Light may be called from any
// goroutine.
type Controller struct {
	config   Config
	out      hardware.OutputLine
	lick     Responder
	planner  Planner
	flushers []Flusher
	sink     logging.Sink
	log      *zap.SugaredLogger
	clock    clocksync.Clock

	kill     chan struct{}
	killOnce sync.Once
	paused   atomic.Bool
	phase    atomic.Int32

	mu  sync.Mutex
	cur *run
}

// New creates a controller. flushers are told to flush at trial boundaries.
func New(config Config, out hardware.OutputLine, lick Responder, planner Planner, sink logging.Sink, log *zap.SugaredLogger, flushers ...Flusher) *Controller {
	if config.Tick <= 0 {
		config.Tick = 2 * time.Millisecond
	}
	if lick == nil {
		lick = noLicks{}
	}
	return &Controller{
		config:   config,
		out:      out,
		lick:     lick,
		planner:  planner,
		flushers: flushers,
		sink:     sink,
		log:      log,
		clock:    clocksync.Now,
		kill:     make(chan struct{}),
	}
}

// Kill ends the current trial through ITI and End and rejects new trials.
func (c *Controller) Kill() { c.killOnce.Do(func() { close(c.kill) }) }

func (c *Controller) killed() bool {
	select {
	case <-c.kill:
		return true
	default:
		return false
	}
}

// Pause suspends phase countdowns without resetting them.
func (c *Controller) Pause(on bool) { c.paused.Store(on) }

// Paused reports whether countdowns are suspended.
func (c *Controller) Paused() bool { return c.paused.Load() }

// Phase returns the current phase, Idle between trials.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Active reports whether a trial is running.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur != nil
}

type noLicks struct{}

func (noLicks) Licked() [2]bool { return [2]bool{} }
func (noLicks) ClearSignals()   {}

// #endregion controller

// #region run

type rewardSource int

const (
	rewardNone rewardSource = iota
	rewardResponse
	rewardHint
	rewardOperator
)

// run is the mutable state of one executing trial. Reward fields are guarded
// by Controller.mu.
type run struct {
	plan      trial.Plan
	start     float64
	phases    map[string][2]float64
	delivered [2]int
	correct   bool // a correct-side lick was scored
	incorrect bool // an incorrect-side lick was scored
	early     bool
	killed    bool

	rewarded bool
	source   rewardSource
}

func (r *run) responded() bool { return r.correct || r.incorrect }

// RunTrial plans, executes and finalizes one trial. A returned
// *trial.InvariantError is fatal to the session.
func (c *Controller) RunTrial(ctx context.Context) (trial.Record, error) {
	if c.killed() {
		return trial.Record{}, ErrKilled
	}
	plan, err := c.planner.Next()
	if err != nil {
		return trial.Record{}, fmt.Errorf("plan trial: %w", err)
	}

	r := &run{plan: plan, start: c.clock(), phases: make(map[string][2]float64)}
	c.mu.Lock()
	c.cur = r
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cur = nil
		c.mu.Unlock()
		c.phase.Store(int32(Idle))
	}()

	c.log.Infow("trial start", "idx", plan.Index, "side", plan.Side.String(), "level", plan.Level,
		"rule", plan.Rule.Name, "ratio", plan.Ratio, "manipulation", plan.Manipulation)

	phase := Intro
	for phase != End {
		enter := c.clock()
		c.enter(r, phase)
		next, err := c.runPhase(ctx, r, phase)
		c.exit(r, phase, enter)
		if err != nil {
			c.allOff()
			return trial.Record{}, err
		}
		if (r.killed || c.killed() || ctx.Err() != nil) && phase < ITI {
			r.killed = true
			next = ITI
		}
		phase = next
	}
	now := c.clock()
	c.enter(r, End)
	c.exit(r, End, now)

	c.mu.Lock()
	c.cur = nil
	c.mu.Unlock()
	rec := c.finalize(r, now)
	outErr := classifyCheck(r, rec)
	c.planner.End(rec)
	if outErr != nil {
		c.log.Errorw("trial invariant violated", "idx", rec.Idx, "error", outErr)
		return rec, outErr
	}
	return rec, nil
}

func (c *Controller) enter(r *run, p Phase) {
	c.phase.Store(int32(p))
	switch p {
	case Intro:
		c.setFlush(false)
		c.lick.ClearSignals()
	case ITI, End:
		c.setFlush(true)
	}
	c.setLine(c.config.ManipLine, ManipulationActive(r.plan.Manipulation, p))
}

func (c *Controller) exit(r *run, p Phase, enter float64) {
	exit := c.clock()
	r.phases[p.String()] = [2]float64{enter, exit}
	logging.LogPhase(c.sink, logging.PhaseEntry{
		Trial: r.plan.Index,
		Phase: p.String(),
		Enter: enter,
		Exit:  exit,
		Wall:  clocksync.Wall(),
	})
}

func (c *Controller) runPhase(ctx context.Context, r *run, p Phase) (Phase, error) {
	switch p {
	case Intro:
		_, err := c.wait(ctx, c.config.Intro, nil)
		return Stimulus, err
	case Stimulus:
		return c.stimulus(ctx, r)
	case Delay:
		res, err := c.wait(ctx, r.plan.Delay, c.earlyCheck(r))
		if res == waitInterrupted {
			return ITI, err
		}
		return Response, err
	case Response:
		return c.response(ctx, r)
	case Reward:
		_, err := c.wait(ctx, c.config.Reward, nil)
		return ITI, err
	case ITI:
		d := c.config.ITI
		if !c.isRewarded(r) {
			d *= c.config.PenaltyITIFrac
		}
		_, err := c.wait(ctx, d, nil)
		return End, err
	}
	return End, fmt.Errorf("run phase: unexpected phase %s", p)
}

// earlyCheck ends a phase on any lick when the rule penalizes early
// responses. Licks are consumed unless paused.
func (c *Controller) earlyCheck(r *run) func(float64) (bool, error) {
	return func(float64) (bool, error) {
		if c.paused.Load() {
			return false, nil
		}
		l := c.lick.Licked()
		if r.plan.Rule.Phase && (l[trial.Left] || l[trial.Right]) {
			r.early = true
			return true, nil
		}
		return false, nil
	}
}

func (c *Controller) stimulus(ctx context.Context, r *run) (Phase, error) {
	pad := c.config.StimPhasePad
	events := r.plan.Events
	dur := r.plan.PhaseDuration(pad)
	if !c.config.EnforceStimPhaseDuration && len(events) > 0 {
		dur = r.plan.DeliveryTime(len(events)-1, pad) + c.config.StimDuration
	}
	early := c.earlyCheck(r)
	next := 0
	res, err := c.wait(ctx, dur, func(elapsed float64) (bool, error) {
		for next < len(events) && r.plan.DeliveryTime(next, pad) <= elapsed {
			if c.config.PuffsOn {
				side := events[next].Side
				c.pulse(c.config.StimLines[side], c.config.StimDuration)
				r.delivered[side]++
			}
			next++
		}
		return early(elapsed)
	})
	if res == waitInterrupted {
		return ITI, err
	}
	return Delay, err
}

func (c *Controller) response(ctx context.Context, r *run) (Phase, error) {
	side := r.plan.Side
	rule := r.plan.Rule
	if rule.HintDelay {
		if err := c.giveReward(r, side, rewardHint); err != nil {
			return ITI, err
		}
	}
	hintAt := c.config.Response - c.config.HintInterval
	_, err := c.wait(ctx, c.config.Response, func(elapsed float64) (bool, error) {
		if c.paused.Load() {
			return false, nil
		}
		if rule.HintReward && !r.responded() && elapsed >= hintAt && !c.isRewarded(r) {
			if err := c.giveReward(r, side, rewardHint); err != nil {
				return true, err
			}
		}
		l := c.lick.Licked()
		if rule.Any {
			if l[trial.Left] || l[trial.Right] {
				r.correct = true
				return true, c.giveReward(r, side, rewardResponse)
			}
			return false, nil
		}
		if l[side.Other()] {
			r.incorrect = true
			if !rule.Fault {
				return true, nil
			}
		}
		if l[side] {
			r.correct = true
			return true, c.giveReward(r, side, rewardResponse)
		}
		return false, nil
	})
	if r.responded() || c.isRewarded(r) {
		return Reward, err
	}
	return ITI, err
}

// #endregion run

// #region wait

type waitResult int

const (
	waitElapsed waitResult = iota
	waitInterrupted
	waitKilled
)

// wait holds for d seconds of unpaused time, calling tick every Tick with the
// active time elapsed so far. A tick returning true ends the wait early.
func (c *Controller) wait(ctx context.Context, d float64, tick func(elapsed float64) (bool, error)) (waitResult, error) {
	ticker := time.NewTicker(c.config.Tick)
	defer ticker.Stop()

	var elapsed float64
	last := c.clock()
	for {
		if tick != nil {
			stop, err := tick(elapsed)
			if err != nil {
				return waitInterrupted, err
			}
			if stop {
				return waitInterrupted, nil
			}
		}
		if elapsed >= d {
			return waitElapsed, nil
		}
		select {
		case <-ctx.Done():
			return waitKilled, nil
		case <-c.kill:
			return waitKilled, nil
		case <-ticker.C:
		}
		now := c.clock()
		if !c.paused.Load() {
			elapsed += now - last
		}
		last = now
	}
}

// #endregion wait

// #region outputs

func (c *Controller) isRewarded(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return r.rewarded
}

func (c *Controller) giveReward(r *run, side trial.Side, src rewardSource) error {
	c.mu.Lock()
	if r.rewarded {
		prev := r.source
		c.mu.Unlock()
		if prev == rewardOperator || (src == rewardResponse && prev == rewardHint) {
			return nil
		}
		return &trial.InvariantError{Op: "give reward", Detail: fmt.Sprintf("trial %d rewarded twice", r.plan.Index)}
	}
	if !c.config.RewardsOn {
		c.mu.Unlock()
		return nil
	}
	r.rewarded = true
	r.source = src
	c.mu.Unlock()
	c.pulse(c.config.RewardLines[side], c.config.RewardDuration[side])
	c.log.Infow("reward", "idx", r.plan.Index, "side", side.String(), "source", int(src))
	return nil
}

// ForceReward opens the reward valve on side now. During a trial the reward
// counts as that trial's reward and is skipped if one was already given.
func (c *Controller) ForceReward(side trial.Side) {
	c.mu.Lock()
	r := c.cur
	if r != nil {
		if r.rewarded {
			c.mu.Unlock()
			c.log.Warnw("forced reward skipped, trial already rewarded", "idx", r.plan.Index)
			return
		}
		r.rewarded = true
		r.source = rewardOperator
	}
	c.mu.Unlock()
	c.pulse(c.config.RewardLines[side], c.config.RewardDuration[side])
	c.log.Infow("forced reward", "side", side.String(), "in_trial", r != nil)
}

// Light switches the house light.
func (c *Controller) Light(on bool) error {
	if c.config.LightLine == "" {
		return nil
	}
	v := 0.0
	if on {
		v = 1.0
	}
	if err := c.out.SetLine(c.config.LightLine, v); err != nil {
		return fmt.Errorf("set light: %w", err)
	}
	return nil
}

// pulse raises line for d seconds.
func (c *Controller) pulse(line string, d float64) {
	if line == "" {
		return
	}
	c.setLine(line, true)
	time.AfterFunc(time.Duration(d*float64(time.Second)), func() { c.setLine(line, false) })
}

func (c *Controller) setLine(line string, on bool) {
	if line == "" {
		return
	}
	v := 0.0
	if on {
		v = 1.0
	}
	if err := c.out.SetLine(line, v); err != nil {
		c.log.Errorw("set line failed", "line", line, "value", v, "error", err)
	}
}

func (c *Controller) allOff() {
	for _, l := range c.config.StimLines {
		c.setLine(l, false)
	}
	for _, l := range c.config.RewardLines {
		c.setLine(l, false)
	}
	c.setLine(c.config.ManipLine, false)
}

func (c *Controller) setFlush(on bool) {
	for _, f := range c.flushers {
		f.SetFlush(on)
	}
}

// #endregion outputs

// #region finalize

// finalize freezes r. The run must already be detached from c.cur.
func (c *Controller) finalize(r *run, end float64) trial.Record {
	n := r.plan.Intended()
	return trial.Record{
		Idx:          r.plan.Index,
		Start:        r.start,
		End:          end,
		Dur:          r.plan.Duration,
		Ratio:        r.plan.Ratio,
		NL:           r.delivered[trial.Left],
		NR:           r.delivered[trial.Right],
		NLIntended:   n[trial.Left],
		NRIntended:   n[trial.Right],
		Side:         r.plan.Side,
		Condition:    r.plan.Condition,
		Manipulation: r.plan.Manipulation,
		Outcome:      classify(r),
		Reward:       r.rewarded,
		Delay:        r.plan.Delay,
		Rule:         r.plan.Rule.Name,
		Level:        r.plan.Level,
		Phases:       r.phases,
	}
}

func classify(r *run) trial.Outcome {
	switch {
	case r.killed:
		return trial.Killed
	case r.early:
		return trial.Early
	case !r.responded():
		return trial.Null
	case r.plan.Rule.Fault && r.correct:
		return trial.Correct
	case r.incorrect:
		return trial.Incorrect
	}
	return trial.Correct
}

// classifyCheck verifies that a response-rewarded trial without fault
// tolerance had no incorrect-side responses.
func classifyCheck(r *run, rec trial.Record) error {
	if rec.Reward && r.source == rewardResponse && !r.plan.Rule.Fault && r.incorrect {
		return &trial.InvariantError{
			Op:     "classify outcome",
			Detail: fmt.Sprintf("trial %d rewarded with incorrect responses and fault disabled", rec.Idx),
		}
	}
	return nil
}

// #endregion finalize
