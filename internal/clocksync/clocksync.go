// Package clocksync gives independently running acquisition loops a shared
// time origin. Each participant keeps reporting its local clock until the
// coordinator raises a single go signal; the last value reported before go is
// that participant's anchor.
package clocksync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// #region clock

var origin = time.Now()

// Clock returns a timestamp in seconds.
type Clock func() float64

// Now returns monotonic seconds since process start.
func Now() float64 {
	return time.Since(origin).Seconds()
}

// Wall returns wall-clock unix seconds.
func Wall() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// #endregion clock

// #region errors

// ErrHardwareInit marks a collaborator that failed to start.
var ErrHardwareInit = errors.New("hardware failed to initialize")

// HardwareInitError names the process that failed to start.
type HardwareInitError struct {
	Process string
	Cause   error
}

func (e *HardwareInitError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%v: %s", ErrHardwareInit, e.Process)
	}
	return fmt.Sprintf("%v: %s: %v", ErrHardwareInit, e.Process, e.Cause)
}

func (e *HardwareInitError) Unwrap() error { return e.Cause }

// Is matches ErrHardwareInit.
func (e *HardwareInitError) Is(target error) bool { return target == ErrHardwareInit }

// #endregion errors

// #region participant

// Participant is one process's anchor slot.
type Participant struct {
	id        string
	anchor    atomic.Uint64
	ready     chan struct{}
	readyOnce sync.Once
	goCh      <-chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
}

// ID returns the participant's process id.
func (p *Participant) ID() string { return p.id }

// Report stores the latest local clock value and marks the participant ready.
// Values reported after go are ignored.
func (p *Participant) Report(now float64) {
	select {
	case <-p.goCh:
		return
	default:
	}
	p.anchor.Store(math.Float64bits(now))
	p.readyOnce.Do(func() { close(p.ready) })
}

// Go is closed when the coordinator raises the go signal.
func (p *Participant) Go() <-chan struct{} { return p.goCh }

// Run reports clock on every tick of interval until go is raised or ctx is
// cancelled.
func (p *Participant) Run(ctx context.Context, clock Clock, interval time.Duration) error {
	defer p.finish()
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Report(clock())
		select {
		case <-p.goCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Participant) finish() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Participant) value() float64 {
	return math.Float64frombits(p.anchor.Load())
}

// #endregion participant

// #region coordinator

// SessionKey is the anchor recorded by the coordinator itself at go.
const SessionKey = "session"

// DefaultTimeout bounds Sync when no timeout is given.
const DefaultTimeout = 10 * time.Second

// Coordinator owns the go signal and collects anchors.
type Coordinator struct {
	mu           sync.Mutex
	clock        Clock
	goCh         chan struct{}
	raised       bool
	participants []*Participant
}

// NewCoordinator creates a coordinator. clock may be nil (Now is used).
func NewCoordinator(clock Clock) *Coordinator {
	if clock == nil {
		clock = Now
	}
	return &Coordinator{clock: clock, goCh: make(chan struct{})}
}

// Register adds a participant. Registering the same id twice returns the
// existing slot.
func (c *Coordinator) Register(id string) *Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.participants {
		if p.id == id {
			return p
		}
	}
	p := &Participant{
		id:    id,
		ready: make(chan struct{}),
		goCh:  c.goCh,
		done:  make(chan struct{}),
	}
	c.participants = append(c.participants, p)
	return p
}

// Sync waits until every participant is ready, raises go, waits for every
// participant loop to stop and returns the anchors keyed by process id plus
// SessionKey. A participant that is not ready within timeout yields a
// *HardwareInitError naming it.
func (c *Coordinator) Sync(ctx context.Context, timeout time.Duration) (map[string]float64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	c.mu.Lock()
	if c.raised {
		c.mu.Unlock()
		return nil, errors.New("clocksync: go already raised")
	}
	parts := append([]*Participant(nil), c.participants...)
	c.mu.Unlock()

	for _, p := range parts {
		select {
		case <-p.ready:
		case <-deadline.C:
			return nil, &HardwareInitError{Process: p.id, Cause: fmt.Errorf("not ready after %v", timeout)}
		case <-ctx.Done():
			return nil, &HardwareInitError{Process: p.id, Cause: ctx.Err()}
		}
	}

	c.mu.Lock()
	c.raised = true
	session := c.clock()
	close(c.goCh)
	c.mu.Unlock()

	anchors := make(map[string]float64, len(parts)+1)
	for _, p := range parts {
		select {
		case <-p.done:
		case <-deadline.C:
			return nil, &HardwareInitError{Process: p.id, Cause: errors.New("did not observe go")}
		}
		anchors[p.id] = p.value()
	}
	anchors[SessionKey] = session
	return anchors, nil
}

// Raised reports whether go has been raised.
func (c *Coordinator) Raised() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raised
}

// IDs returns the registered process ids in sorted order.
func (c *Coordinator) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.participants))
	for _, p := range c.participants {
		ids = append(ids, p.id)
	}
	sort.Strings(ids)
	return ids
}

// #endregion coordinator
