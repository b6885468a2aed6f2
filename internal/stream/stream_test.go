package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/hardware"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

// #region helpers

type written struct {
	stream  string
	payload any
}

type recordingSink struct {
	mu   sync.Mutex
	recs []written
}

func (r *recordingSink) Write(stream string, payload any, ts, ts2 float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, written{stream, payload})
}

func (r *recordingSink) batches(stream string) []AnalogBatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AnalogBatch
	for _, w := range r.recs {
		if b, ok := w.payload.(AnalogBatch); ok && w.stream == stream {
			out = append(out, b)
		}
	}
	return out
}

func (r *recordingSink) arrays(stream string) []store.Array {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Array
	for _, w := range r.recs {
		if a, ok := w.payload.(store.Array); ok && w.stream == stream {
			out = append(out, a)
		}
	}
	return out
}

func analogConfig() AnalogConfig {
	return AnalogConfig{
		Name:        "analogreader",
		Columns:     []string{"lickl", "lickr", "motion"},
		SampleRate:  5000,
		History:     100,
		SaveBuffer:  50,
		MinFlush:    20,
		ReadTimeout: 20 * time.Millisecond,
		Lick: signals.LickConfig{
			Ports:         [2]int{0, 1},
			Thresh:        6,
			HoldSamples:   15,
			MotionPort:    2,
			MotionThresh:  0.5,
			MotionSamples: 10,
		},
	}
}

func runAnalog(t *testing.T, cfg AnalogConfig, opts ...Option) (*Analog, *hardware.DummyAnalog, *recordingSink, chan error) {
	t.Helper()
	src := hardware.NewDummyAnalog(3, 5, cfg.SampleRate, 7)
	sink := &recordingSink{}
	a := NewAnalog(cfg, src, sink, zaptest.NewLogger(t).Sugar(), opts...)
	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- a.Run(context.Background()) }()
	return a, src, sink, errc
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stop(t *testing.T, s interface {
	Kill()
	Done() <-chan struct{}
}, errc chan error) {
	t.Helper()
	s.Kill()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not finish")
	}
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// #endregion helpers

// #region ring-tests

func TestRingWrapsAndCopies(t *testing.T) {
	r := NewRing[int](3)
	if _, ok := r.Latest(); ok {
		t.Fatal("empty ring has no latest")
	}
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	got := r.Last(10)
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("Last = %v, want [3 4 5]", got)
	}
	got[0] = 99
	if again := r.Last(1); again[0] != 5 {
		t.Fatalf("Last(1) = %v", again)
	}
	if r.Last(3)[0] != 3 {
		t.Fatal("mutating a snapshot changed the ring")
	}
	if v, _ := r.Latest(); v != 5 {
		t.Fatalf("Latest = %d", v)
	}
	if r.Len() != 3 || r.Cap() != 3 {
		t.Fatalf("Len/Cap = %d/%d", r.Len(), r.Cap())
	}
}

// #endregion ring-tests

// #region analog-tests

func TestAnalogSnapshotOrdered(t *testing.T) {
	a, _, _, errc := runAnalog(t, analogConfig())
	waitFor(t, "samples", func() bool { return a.ring.Len() >= 40 })

	snap := a.Snapshot(40)
	if len(snap) != 40 {
		t.Fatalf("expected 40 samples, got %d", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].TS <= snap[i-1].TS {
			t.Fatalf("samples not strictly ordered at %d: %v <= %v", i, snap[i].TS, snap[i-1].TS)
		}
		if snap[i].Seq != snap[i-1].Seq+1 {
			t.Fatalf("sequence gap at %d", i)
		}
	}
	stop(t, a, errc)
}

func TestAnalogLickReadAndClear(t *testing.T) {
	a, src, _, errc := runAnalog(t, analogConfig())
	a.ClearSignals()
	src.Inject(1, 9, 3)

	var got [2]bool
	waitFor(t, "lick", func() bool {
		got = a.Licked()
		return got[1]
	})
	if got[0] {
		t.Error("left lick latched without input")
	}
	if a.Licked()[1] {
		t.Error("lick should be consumed by the first read")
	}
	stop(t, a, errc)
}

func TestAnalogHoldingAndMotion(t *testing.T) {
	a, src, _, errc := runAnalog(t, analogConfig())
	src.Inject(0, 9, 30)
	waitFor(t, "holding", a.Holding)

	src.Inject(2, 5, 1)
	waitFor(t, "motion", a.Moving)
	stop(t, a, errc)
}

func TestAnalogFlushOnSizeThreshold(t *testing.T) {
	cfg := analogConfig()
	a, _, sink, errc := runAnalog(t, cfg)
	waitFor(t, "size flush", func() bool { return len(sink.batches(cfg.Name)) >= 2 })
	stop(t, a, errc)

	batches := sink.batches(cfg.Name)
	for _, b := range batches[:len(batches)-1] {
		if len(b.TS) != cfg.SaveBuffer {
			t.Fatalf("size-triggered batch has %d samples, want %d", len(b.TS), cfg.SaveBuffer)
		}
	}
	if a.Stats().Overruns != 0 {
		t.Errorf("unexpected overruns: %d", a.Stats().Overruns)
	}
}

func TestAnalogFlushFlag(t *testing.T) {
	cfg := analogConfig()
	cfg.SaveBuffer = 10000
	a, _, sink, errc := runAnalog(t, cfg)
	a.SetFlush(true)
	waitFor(t, "flag flush", func() bool { return len(sink.batches(cfg.Name)) >= 2 })
	// The first batch may predate the flag; the second starts empty.
	b := sink.batches(cfg.Name)[1]
	if len(b.TS) != cfg.MinFlush {
		t.Fatalf("flag flush carried %d samples, want %d", len(b.TS), cfg.MinFlush)
	}
	if len(b.Values) != 3 || b.Columns[0] != "lickl" {
		t.Fatalf("unexpected batch layout %v", b.Columns)
	}
	stop(t, a, errc)
}

func TestAnalogKillDrainsExactlyOnce(t *testing.T) {
	cfg := analogConfig()
	cfg.SaveBuffer = 10000
	a, src, sink, errc := runAnalog(t, cfg)
	waitFor(t, "samples", func() bool { return a.Stats().Samples >= 30 })
	stop(t, a, errc)

	if !a.Complete() {
		t.Fatal("expected complete after Done")
	}
	batches := sink.batches(cfg.Name)
	if len(batches) != 1 {
		t.Fatalf("expected exactly one final flush, got %d", len(batches))
	}
	if int64(len(batches[0].TS)) != a.Stats().Samples {
		t.Fatalf("final flush has %d samples, acquired %d", len(batches[0].TS), a.Stats().Samples)
	}
	if src.Stops() != 1 {
		t.Fatalf("source stopped %d times", src.Stops())
	}
}

func TestAnalogSavingOff(t *testing.T) {
	cfg := analogConfig()
	a, _, sink, errc := runAnalog(t, cfg, WithSaving(false))
	waitFor(t, "samples", func() bool { return a.Stats().Samples >= 100 })
	stop(t, a, errc)
	if n := len(sink.batches(cfg.Name)); n != 0 {
		t.Fatalf("saving off still flushed %d batches", n)
	}
	if a.ring.Len() == 0 {
		t.Fatal("ring should fill regardless of saving")
	}
}

func TestAnalogOverrunFlushesEverything(t *testing.T) {
	cfg := analogConfig()
	cfg.SaveBuffer = 12 // blocks of 5 overshoot to 15
	a, _, sink, errc := runAnalog(t, cfg)
	waitFor(t, "overrun", func() bool { return a.Stats().Overruns > 0 })
	stop(t, a, errc)

	var total int
	for _, b := range sink.batches(cfg.Name) {
		total += len(b.TS)
	}
	if int64(total) != a.Stats().Samples {
		t.Fatalf("flushed %d of %d samples", total, a.Stats().Samples)
	}
}

func TestAnalogWaitsForSync(t *testing.T) {
	coord := clocksync.NewCoordinator(nil)
	p := coord.Register("analogreader")
	a, _, _, errc := runAnalog(t, analogConfig(), WithSync(p, time.Millisecond))

	time.Sleep(20 * time.Millisecond)
	if a.Stats().Samples != 0 {
		t.Fatal("acquired before go")
	}
	if _, err := coord.Sync(context.Background(), time.Second); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	waitFor(t, "samples after go", func() bool { return a.Stats().Samples > 0 })
	stop(t, a, errc)
}

func TestAnalogContextCancel(t *testing.T) {
	src := hardware.NewDummyAnalog(3, 5, 5000, 1)
	a := NewAnalog(analogConfig(), src, &recordingSink{}, zaptest.NewLogger(t).Sugar())
	a.Start()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()
	cancel()
	select {
	case <-a.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("cancel did not stop the stream")
	}
	<-errc
}

// #endregion analog-tests

// #region camera-tests

func cameraConfig() CameraConfig {
	return CameraConfig{
		Name:        "cam0",
		Width:       4,
		Height:      4,
		History:     20,
		MinFlush:    5,
		Buffer:      30,
		ReadTimeout: 5 * time.Millisecond,
		StallResets: 3,
		Eyelid:      signals.EyelidConfig{Window: 3, Thresh: 100},
	}
}

func runCamera(t *testing.T, cfg CameraConfig) (*Camera, *hardware.DummyCamera, *recordingSink, chan error) {
	t.Helper()
	src := hardware.NewDummyCamera(cfg.Width, cfg.Height, 500)
	sink := &recordingSink{}
	c := NewCamera(cfg, src, sink, zaptest.NewLogger(t).Sugar())
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	return c, src, sink, errc
}

func TestCameraQuery(t *testing.T) {
	c, src, _, errc := runCamera(t, cameraConfig())
	src.Push(123)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f, err := c.Query(ctx)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if f.Width != 4 || len(f.Pixels) != 16 {
		t.Fatalf("unexpected frame %dx%d", f.Width, len(f.Pixels))
	}
	stop(t, c, errc)

	if _, err := c.Query(ctx); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Done, got %v", err)
	}
}

func TestCameraEyelidAndMask(t *testing.T) {
	c, src, sink, errc := runCamera(t, cameraConfig())
	src.SetLevel(40)
	waitFor(t, "frames", func() bool { return c.Stats().Samples >= 5 })
	waitFor(t, "eyelid open", c.EyelidOpen)

	mask := make([]float64, 16)
	mask[0] = 1
	if err := c.SetMask(mask); err != nil {
		t.Fatalf("SetMask: %v", err)
	}
	if err := c.SetMask(make([]float64, 3)); err == nil {
		t.Fatal("expected size mismatch error")
	}
	src.SetLevel(250)
	waitFor(t, "eyelid closed", func() bool { return !c.EyelidOpen() })
	stop(t, c, errc)

	masks := sink.arrays("mask0")
	if len(masks) != 1 || len(store.DecodeFloat64s(masks[0].Data)) != 16 {
		t.Fatalf("mask0 not persisted: %v", masks)
	}
}

func TestCameraFlushRules(t *testing.T) {
	cfg := cameraConfig()
	c, _, sink, errc := runCamera(t, cfg)
	c.SetFlush(true)
	waitFor(t, "flag flush", func() bool { return len(sink.arrays(cfg.Name)) >= 2 })
	a := sink.arrays(cfg.Name)[1]
	if a.Shape[0] != cfg.MinFlush || a.Shape[1] != 4 || len(a.Data) != cfg.MinFlush*16 {
		t.Fatalf("unexpected chunk shape %v (%d bytes)", a.Shape, len(a.Data))
	}
	c.SetFlush(false)
	waitFor(t, "size flush", func() bool {
		for _, a := range sink.arrays(cfg.Name) {
			if a.Shape[0] == cfg.Buffer {
				return true
			}
		}
		return false
	})
	stop(t, c, errc)
	if n := c.Stats().Overruns; n != 0 {
		t.Errorf("a batch that exactly fills the buffer counted %d overruns", n)
	}
}

func TestCameraStallResetAndGaps(t *testing.T) {
	c, src, _, errc := runCamera(t, cameraConfig())
	waitFor(t, "frames", func() bool { return c.Stats().Samples >= 2 })
	src.Stall()
	waitFor(t, "reset", func() bool { return src.Resets() >= 1 })
	waitFor(t, "recovery", func() bool { return c.Stats().Samples >= 4 })

	src.SkipSeq(3)
	waitFor(t, "gap", func() bool { return c.Stats().Gaps >= 3 })
	stop(t, c, errc)
	if c.Stats().Resets < 1 {
		t.Fatal("reset not counted")
	}
}

// #endregion camera-tests
