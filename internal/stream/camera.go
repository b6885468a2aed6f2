package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/hardware"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

// #region camera

// Camera streams frames, extracts the eyelid trace through the current ROI
// mask and persists frames as whole-array chunks.
type Camera struct {
	*base
	config  CameraConfig
	src     hardware.CameraSource
	ring    *Ring[FrameSample]
	eyelid  *Ring[float64]
	queries chan chan FrameSample

	maskMu sync.RWMutex
	mask   []float64
	masks  int

	// loop-owned
	batch    []FrameSample
	chunk    int
	lastSeq  uint64
	timeouts int
	stopped  bool
}

// NewCamera creates a camera stream. Start then Run must be called.
func NewCamera(config CameraConfig, src hardware.CameraSource, sink Sink, log *zap.SugaredLogger, opts ...Option) *Camera {
	hist := config.History
	if config.Eyelid.Window > hist {
		hist = config.Eyelid.Window
	}
	return &Camera{
		base:    newBase(config.Name, sink, log, opts),
		config:  config,
		src:     src,
		ring:    NewRing[FrameSample](config.History),
		eyelid:  NewRing[float64](hist),
		queries: make(chan chan FrameSample),
	}
}

// Start starts the hardware source.
func (c *Camera) Start() error {
	if err := c.src.Start(); err != nil {
		return fmt.Errorf("start %s: %w", c.name, err)
	}
	return nil
}

// Run acquires until kill, then performs exactly one final flush before
// closing Done. Consecutive timeouts past the stall limit reset the source.
func (c *Camera) Run(ctx context.Context) error {
	defer c.finish()
	c.watchContext(ctx)

	if err := c.syncClock(ctx); err != nil {
		c.stopSource()
		c.flush()
		return fmt.Errorf("%s sync: %w", c.name, err)
	}

	for {
		f, err := c.src.ReadFrame(c.config.ReadTimeout)
		switch {
		case errors.Is(err, hardware.ErrWouldBlock):
			if c.killed() {
				c.stopSource()
				c.flush()
				return nil
			}
			c.stall()
			continue
		case err != nil:
			c.readErrors.Add(1)
			c.log.Warnw("camera read failed", "stream", c.name, "err", err)
			if c.killed() {
				c.stopSource()
				c.flush()
				return nil
			}
			continue
		}
		c.timeouts = 0
		c.ingest(f)
		if c.killed() {
			c.stopSource()
		}
	}
}

func (c *Camera) stall() {
	c.timeouts++
	if c.config.StallResets <= 0 || c.timeouts < c.config.StallResets {
		return
	}
	c.timeouts = 0
	c.resets.Add(1)
	c.log.Warnw("camera stalled, resetting", "stream", c.name, "resets", c.resets.Load())
	if err := c.src.Reset(); err != nil {
		c.log.Errorw("camera reset failed", "stream", c.name, "err", err)
	}
}

func (c *Camera) stopSource() {
	if c.stopped {
		return
	}
	c.stopped = true
	if err := c.src.Stop(); err != nil {
		c.log.Warnw("camera stop failed", "stream", c.name, "err", err)
	}
}

func (c *Camera) ingest(f hardware.Frame) {
	if c.lastSeq != 0 && f.Seq > c.lastSeq+1 {
		missed := int64(f.Seq - c.lastSeq - 1)
		c.gaps.Add(missed)
		c.log.Warnw("frame gap", "stream", c.name, "after", c.lastSeq, "missed", missed)
	}
	c.lastSeq = f.Seq

	c.maskMu.RLock()
	lid := signals.MaskMean(f.Pixels, c.mask)
	c.maskMu.RUnlock()

	s := FrameSample{
		Source: c.name,
		Seq:    f.Seq,
		TS:     f.TS,
		TS2:    f.TS2,
		Width:  f.Width,
		Height: f.Height,
		Pixels: f.Pixels,
		Eyelid: lid,
	}
	c.ring.Push(s)
	c.eyelid.Push(lid)
	c.samples.Add(1)

	c.answerQueries(s)

	if c.saving.Load() {
		c.batch = append(c.batch, s)
	}
	n := len(c.batch)
	switch {
	case n > c.config.Buffer:
		c.overruns.Add(1)
		c.log.Warnw("buffer overrun", "stream", c.name, "pending", n, "buffer", c.config.Buffer)
		c.flush()
	case n == c.config.Buffer:
		c.flush()
	case c.flushing.Load() && n >= c.config.MinFlush:
		c.flush()
	}
}

func (c *Camera) answerQueries(s FrameSample) {
	for {
		select {
		case reply := <-c.queries:
			reply <- copyFrame(s)
		default:
			return
		}
	}
}

// flush writes the batch as one array chunk plus a timing row.
func (c *Camera) flush() {
	c.flushes.Add(1)
	if len(c.batch) == 0 || c.sink == nil {
		c.batch = nil
		return
	}
	first := c.batch[0]
	frameSize := first.Width * first.Height
	data := make([]byte, 0, len(c.batch)*frameSize)
	times := FrameTimes{
		Chunk:  c.chunk,
		Seq:    make([]uint64, len(c.batch)),
		TS:     make([]float64, len(c.batch)),
		TS2:    make([]float64, len(c.batch)),
		Eyelid: make([]float64, len(c.batch)),
	}
	for i, s := range c.batch {
		data = append(data, s.Pixels...)
		times.Seq[i], times.TS[i], times.TS2[i], times.Eyelid[i] = s.Seq, s.TS, s.TS2, s.Eyelid
	}
	c.sink.Write(c.name, store.Array{
		Name:  c.name,
		Shape: []int{len(c.batch), first.Height, first.Width},
		DType: "uint8",
		Data:  data,
		TS:    first.TS,
		TS2:   first.TS2,
	}, first.TS, first.TS2)
	c.sink.Write(c.name+"_times", times, first.TS, first.TS2)
	c.chunk++
	c.batch = nil
}

// #endregion camera

// #region camera-queries

// Snapshot returns copies of the most recent n frames, oldest first.
func (c *Camera) Snapshot(n int) []FrameSample {
	out := c.ring.Last(n)
	for i := range out {
		out[i] = copyFrame(out[i])
	}
	return out
}

// Query pulls the next frame out of the running loop.
func (c *Camera) Query(ctx context.Context) (FrameSample, error) {
	reply := make(chan FrameSample, 1)
	select {
	case c.queries <- reply:
	case <-ctx.Done():
		return FrameSample{}, ctx.Err()
	case <-c.done:
		return FrameSample{}, ErrStopped
	}
	select {
	case f := <-reply:
		return f, nil
	case <-ctx.Done():
		return FrameSample{}, ctx.Err()
	case <-c.done:
		return FrameSample{}, ErrStopped
	}
}

// EyelidOpen reports whether the recent eyelid trace reads as open.
func (c *Camera) EyelidOpen() bool {
	trace := c.eyelid.Last(c.config.Eyelid.Window)
	return signals.EyelidOpen(trace, c.config.Eyelid.Window, c.config.Eyelid.Thresh)
}

// EyelidTrace returns the last n eyelid values.
func (c *Camera) EyelidTrace(n int) []float64 {
	return c.eyelid.Last(n)
}

// SetMask installs a new ROI mask (width*height weights) and persists it as
// the next mask<N> array. A nil mask averages the whole frame.
func (c *Camera) SetMask(mask []float64) error {
	if mask != nil && len(mask) != c.config.Width*c.config.Height {
		return fmt.Errorf("mask has %d weights, want %d", len(mask), c.config.Width*c.config.Height)
	}
	c.maskMu.Lock()
	c.mask = append([]float64(nil), mask...)
	idx := c.masks
	c.masks++
	c.maskMu.Unlock()

	if c.sink != nil && mask != nil {
		c.sink.Write(fmt.Sprintf("mask%d", idx), store.Array{
			Name:  fmt.Sprintf("mask%d", idx),
			Shape: []int{c.config.Height, c.config.Width},
			DType: "float64",
			Data:  store.EncodeFloat64s(mask),
		}, clocksync.Now(), clocksync.Wall())
	}
	return nil
}

// #endregion camera-queries

// #region helpers

func copyFrame(f FrameSample) FrameSample {
	f.Pixels = append([]uint8(nil), f.Pixels...)
	return f
}

// #endregion helpers
