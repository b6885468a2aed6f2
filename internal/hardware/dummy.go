package hardware

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
)

// #region dummy-output

// LineCall is one recorded SetLine call.
type LineCall struct {
	Line  string
	Value float64
	At    time.Time
}

// DummyOutput records every SetLine call.
type DummyOutput struct {
	mu    sync.Mutex
	calls []LineCall
	state map[string]float64
	Fail  error // returned from SetLine when set
}

// NewDummyOutput creates an empty recorder.
func NewDummyOutput() *DummyOutput {
	return &DummyOutput{state: make(map[string]float64)}
}

func (d *DummyOutput) SetLine(line string, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Fail != nil {
		return d.Fail
	}
	d.calls = append(d.calls, LineCall{Line: line, Value: v, At: time.Now()})
	d.state[line] = v
	return nil
}

// Calls returns a copy of the recorded calls.
func (d *DummyOutput) Calls() []LineCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]LineCall(nil), d.calls...)
}

// State returns the last value set on line.
func (d *DummyOutput) State(line string) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state[line]
}

// Rising counts transitions to a nonzero value on line.
func (d *DummyOutput) Rising(line string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	prev := 0.0
	for _, c := range d.calls {
		if c.Line != line {
			continue
		}
		if prev == 0 && c.Value != 0 {
			n++
		}
		prev = c.Value
	}
	return n
}

// #endregion dummy-output

// #region dummy-analog

// DummyAnalog synthesizes blocks of low-amplitude noise at a fixed rate.
// Inject overrides upcoming samples on one port, which is how tests and the
// dry-run mode simulate licks.
type DummyAnalog struct {
	mu       sync.Mutex
	ports    int
	block    int
	period   time.Duration
	rng      *rand.Rand
	pending  [][]float64
	running  bool
	stops    int
	next     time.Time
	StartErr error
	// LickRate, when positive, injects a lick on a random lick port at this
	// mean rate (per second) during dry runs.
	LickRate  float64
	LickPorts [2]int
}

// NewDummyAnalog creates a source with ports channels delivering block samples
// per read at rate Hz.
func NewDummyAnalog(ports, block int, rate float64, seed uint64) *DummyAnalog {
	if block <= 0 {
		block = 1
	}
	return &DummyAnalog{
		ports:   ports,
		block:   block,
		period:  time.Duration(float64(block) / rate * float64(time.Second)),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		pending: make([][]float64, ports),
	}
}

func (d *DummyAnalog) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.StartErr != nil {
		return d.StartErr
	}
	d.running = true
	d.next = time.Now()
	return nil
}

// Inject makes the next n samples on port read as value.
func (d *DummyAnalog) Inject(port int, value float64, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.pending[port] = append(d.pending[port], value)
	}
}

func (d *DummyAnalog) Read(timeout time.Duration) (AnalogBlock, error) {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		time.Sleep(timeout)
		return AnalogBlock{}, ErrWouldBlock
	}
	wait := time.Until(d.next)
	d.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return AnalogBlock{}, ErrWouldBlock
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return AnalogBlock{}, ErrWouldBlock
	}
	d.next = d.next.Add(d.period)
	if d.LickRate > 0 && d.rng.Float64() < d.LickRate*d.period.Seconds() {
		port := d.LickPorts[d.rng.IntN(2)]
		for i := 0; i < d.block; i++ {
			d.pending[port] = append(d.pending[port], 9.0)
		}
	}
	values := make([][]float64, d.ports)
	for p := range values {
		values[p] = make([]float64, d.block)
		for i := range values[p] {
			if len(d.pending[p]) > 0 {
				values[p][i] = d.pending[p][0]
				d.pending[p] = d.pending[p][1:]
				continue
			}
			values[p][i] = d.rng.NormFloat64() * 0.05
		}
	}
	return AnalogBlock{TS: clocksync.Now(), TS2: clocksync.Wall(), Values: values}, nil
}

func (d *DummyAnalog) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.stops++
	return nil
}

// Stops returns how many times Stop was called.
func (d *DummyAnalog) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

// #endregion dummy-analog

// #region dummy-camera

// DummyCamera produces uniform gray frames at a fixed rate. Frames pushed with
// Push are delivered first.
type DummyCamera struct {
	mu       sync.Mutex
	width    int
	height   int
	period   time.Duration
	seq      uint64
	queue    []Frame
	running  bool
	stalled  bool
	resets   int
	next     time.Time
	Level    uint8
	StartErr error
}

// NewDummyCamera creates a width x height camera at fps.
func NewDummyCamera(width, height int, fps float64) *DummyCamera {
	return &DummyCamera{
		width:  width,
		height: height,
		period: time.Duration(float64(time.Second) / fps),
		Level:  40,
	}
}

func (c *DummyCamera) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StartErr != nil {
		return c.StartErr
	}
	c.running = true
	c.next = time.Now()
	return nil
}

// Push queues a frame of uniform brightness level.
func (c *DummyCamera) Push(level uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	px := make([]uint8, c.width*c.height)
	for i := range px {
		px[i] = level
	}
	c.queue = append(c.queue, Frame{Width: c.width, Height: c.height, Pixels: px})
}

// SetLevel changes the brightness of generated frames.
func (c *DummyCamera) SetLevel(level uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Level = level
}

// Stall makes the camera stop delivering frames until Reset.
func (c *DummyCamera) Stall() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stalled = true
}

// SkipSeq advances the sequence counter, producing a gap.
func (c *DummyCamera) SkipSeq(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq += n
}

func (c *DummyCamera) ReadFrame(timeout time.Duration) (Frame, error) {
	c.mu.Lock()
	if !c.running || c.stalled {
		c.mu.Unlock()
		time.Sleep(timeout)
		return Frame{}, ErrWouldBlock
	}
	wait := time.Until(c.next)
	c.mu.Unlock()

	if wait > timeout {
		time.Sleep(timeout)
		return Frame{}, ErrWouldBlock
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.next.Add(c.period)
	c.seq++
	var f Frame
	if len(c.queue) > 0 {
		f = c.queue[0]
		c.queue = c.queue[1:]
	} else {
		px := make([]uint8, c.width*c.height)
		for i := range px {
			px[i] = c.Level
		}
		f = Frame{Width: c.width, Height: c.height, Pixels: px}
	}
	f.Seq = c.seq
	f.TS = clocksync.Now()
	f.TS2 = clocksync.Wall()
	return f, nil
}

func (c *DummyCamera) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return errors.New("camera not running")
	}
	c.stalled = false
	c.resets++
	c.next = time.Now()
	return nil
}

// Resets returns how many times Reset was called.
func (c *DummyCamera) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func (c *DummyCamera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// #endregion dummy-camera
