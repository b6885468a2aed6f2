package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/hardware"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
)

// #region analog

// Analog streams blocks from an analog source and derives lick, hold and
// motion signals.
type Analog struct {
	*base
	config AnalogConfig
	src    hardware.AnalogSource
	ring   *Ring[Sample]

	// loop-owned
	batch    []Sample
	seq      uint64
	holdRun  [2]int
	lastMove float64
	haveMove bool
	stopped  bool

	sigMu   sync.Mutex
	licked  [2]bool
	holding bool
	moving  bool
}

// NewAnalog creates an analog stream. Start then Run must be called.
func NewAnalog(config AnalogConfig, src hardware.AnalogSource, sink Sink, log *zap.SugaredLogger, opts ...Option) *Analog {
	if config.SampleRate <= 0 {
		config.SampleRate = 1
	}
	return &Analog{
		base:   newBase(config.Name, sink, log, opts),
		config: config,
		src:    src,
		ring:   NewRing[Sample](config.History),
	}
}

// Start starts the hardware source.
func (a *Analog) Start() error {
	if err := a.src.Start(); err != nil {
		return fmt.Errorf("start %s: %w", a.name, err)
	}
	return nil
}

// Run acquires until kill, then drains the source and performs exactly one
// final flush before closing Done. Run returns only after Done is closed.
func (a *Analog) Run(ctx context.Context) error {
	defer a.finish()
	a.watchContext(ctx)

	if err := a.syncClock(ctx); err != nil {
		a.stopSource()
		a.flush()
		return fmt.Errorf("%s sync: %w", a.name, err)
	}

	for {
		if a.killed() {
			a.stopSource()
		}
		blk, err := a.src.Read(a.config.ReadTimeout)
		switch {
		case errors.Is(err, hardware.ErrWouldBlock):
			if a.killed() {
				a.stopSource()
				a.flush()
				return nil
			}
			continue
		case err != nil:
			a.readErrors.Add(1)
			a.log.Warnw("analog read failed", "stream", a.name, "err", err)
			if a.killed() {
				a.stopSource()
				a.flush()
				return nil
			}
			continue
		}
		a.ingest(blk)
	}
}

func (a *Analog) stopSource() {
	if a.stopped {
		return
	}
	a.stopped = true
	if err := a.src.Stop(); err != nil {
		a.log.Warnw("analog stop failed", "stream", a.name, "err", err)
	}
}

// ingest splits a block into samples, updates the ring, the save batch and
// the signal latches.
func (a *Analog) ingest(blk hardware.AnalogBlock) {
	n := blk.Samples()
	if n == 0 {
		return
	}
	dt := 1 / a.config.SampleRate
	ports := len(blk.Values)

	for i := 0; i < n; i++ {
		vals := make([]float64, ports)
		for p := 0; p < ports; p++ {
			vals[p] = blk.Values[p][i]
		}
		back := float64(n-1-i) * dt
		s := Sample{Source: a.name, Seq: a.seq, TS: blk.TS - back, TS2: blk.TS2 - back, Values: vals}
		a.seq++
		a.ring.Push(s)
		if a.saving.Load() {
			a.batch = append(a.batch, s)
		}
	}
	a.samples.Add(int64(n))

	a.updateSignals(blk)
	a.maybeFlush()
}

func (a *Analog) updateSignals(blk hardware.AnalogBlock) {
	lc := a.config.Lick
	licked := signals.Licked(blk.Values, lc.Ports, lc.Thresh)

	holding := false
	for side, port := range lc.Ports {
		if port < 0 || port >= len(blk.Values) {
			continue
		}
		for _, v := range blk.Values[port] {
			if v > lc.Thresh {
				a.holdRun[side]++
			} else {
				a.holdRun[side] = 0
			}
		}
		if lc.HoldSamples > 0 && a.holdRun[side] >= lc.HoldSamples {
			holding = true
		}
	}

	moving := false
	if lc.MotionPort >= 0 && lc.MotionPort < len(blk.Values) {
		trace := blk.Values[lc.MotionPort]
		if a.haveMove {
			trace = append([]float64{a.lastMove}, trace...)
		}
		moving = signals.Moving(trace, lc.MotionThresh)
		a.lastMove = trace[len(trace)-1]
		a.haveMove = true
	}

	a.sigMu.Lock()
	a.licked[0] = a.licked[0] || licked[0]
	a.licked[1] = a.licked[1] || licked[1]
	a.holding = a.holding || holding
	a.moving = a.moving || moving
	a.sigMu.Unlock()
}

func (a *Analog) maybeFlush() {
	n := len(a.batch)
	switch {
	case n > a.config.SaveBuffer:
		a.overruns.Add(1)
		a.log.Warnw("buffer overrun", "stream", a.name, "pending", n, "save_buffer", a.config.SaveBuffer)
		a.flush()
	case n == a.config.SaveBuffer:
		a.flush()
	case a.flushing.Load() && n >= a.config.MinFlush:
		a.flush()
	}
}

// flush hands the whole save batch to the sink as one AnalogBatch.
func (a *Analog) flush() {
	a.flushes.Add(1)
	if len(a.batch) == 0 || a.sink == nil {
		a.batch = nil
		return
	}
	cols := len(a.batch[0].Values)
	b := AnalogBatch{
		Columns: a.config.Columns,
		Seq:     make([]uint64, len(a.batch)),
		TS:      make([]float64, len(a.batch)),
		TS2:     make([]float64, len(a.batch)),
		Values:  make([][]float64, cols),
	}
	for c := range b.Values {
		b.Values[c] = make([]float64, len(a.batch))
	}
	for i, s := range a.batch {
		b.Seq[i], b.TS[i], b.TS2[i] = s.Seq, s.TS, s.TS2
		for c := 0; c < cols && c < len(s.Values); c++ {
			b.Values[c][i] = s.Values[c]
		}
	}
	a.sink.Write(a.name, b, b.TS[0], b.TS2[0])
	a.batch = nil
}

// #endregion analog

// #region analog-queries

// Snapshot returns copies of the most recent n samples, oldest first.
func (a *Analog) Snapshot(n int) []Sample {
	out := a.ring.Last(n)
	for i := range out {
		out[i].Values = append([]float64(nil), out[i].Values...)
	}
	return out
}

// Trace returns the last n values of one port.
func (a *Analog) Trace(port, n int) []float64 {
	samples := a.ring.Last(n)
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if port < len(s.Values) {
			out = append(out, s.Values[port])
		} else {
			out = append(out, math.NaN())
		}
	}
	return out
}

// Licked reports, per side, whether a lick occurred since the last call, and
// clears the latch.
func (a *Analog) Licked() [2]bool {
	a.sigMu.Lock()
	v := a.licked
	a.licked = [2]bool{}
	a.sigMu.Unlock()
	return v
}

// Holding reports whether a sustained hold occurred since the last call, and
// clears the latch.
func (a *Analog) Holding() bool {
	a.sigMu.Lock()
	v := a.holding
	a.holding = false
	a.sigMu.Unlock()
	return v
}

// Moving reports whether motion occurred since the last call, and clears the
// latch.
func (a *Analog) Moving() bool {
	a.sigMu.Lock()
	v := a.moving
	a.moving = false
	a.sigMu.Unlock()
	return v
}

// ClearSignals drops any pending latched events.
func (a *Analog) ClearSignals() {
	a.sigMu.Lock()
	a.licked = [2]bool{}
	a.holding = false
	a.moving = false
	a.sigMu.Unlock()
}

// #endregion analog-queries
