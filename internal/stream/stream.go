// Package stream runs one acquisition loop per hardware source. Each loop owns
// its history ring and save batch; everything outside talks to it through
// atomic flags, snapshot copies and read-and-clear signal latches.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
)

// #region base

// base holds the lifecycle shared by every stream kind.
type base struct {
	name string
	sink Sink
	log  *zap.SugaredLogger

	saving   atomic.Bool
	flushing atomic.Bool

	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}
	complete atomic.Bool

	participant *clocksync.Participant
	syncEvery   time.Duration

	samples    atomic.Int64
	readErrors atomic.Int64
	overruns   atomic.Int64
	flushes    atomic.Int64
	gaps       atomic.Int64
	resets     atomic.Int64
}

// Option configures a stream.
type Option func(*base)

// WithSync makes Run report into p until the go signal before acquiring.
func WithSync(p *clocksync.Participant, every time.Duration) Option {
	return func(b *base) {
		b.participant = p
		b.syncEvery = every
	}
}

// WithSaving sets the initial saving state.
func WithSaving(on bool) Option {
	return func(b *base) { b.saving.Store(on) }
}

func newBase(name string, sink Sink, log *zap.SugaredLogger, opts []Option) *base {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &base{
		name: name,
		sink: sink,
		log:  log,
		kill: make(chan struct{}),
		done: make(chan struct{}),
	}
	b.saving.Store(true)
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the stream name.
func (b *base) Name() string { return b.name }

// SetSaving turns accumulation into the save batch on or off.
func (b *base) SetSaving(on bool) { b.saving.Store(on) }

// SetFlush raises or lowers the flush-now flag.
func (b *base) SetFlush(on bool) { b.flushing.Store(on) }

// Kill raises the stream's kill flag. The loop drains and flushes before
// closing Done.
func (b *base) Kill() { b.killOnce.Do(func() { close(b.kill) }) }

// Done is closed after the final flush.
func (b *base) Done() <-chan struct{} { return b.done }

// Complete reports whether the final flush happened.
func (b *base) Complete() bool { return b.complete.Load() }

// Stats returns the stream counters.
func (b *base) Stats() Stats {
	return Stats{
		Samples:    b.samples.Load(),
		ReadErrors: b.readErrors.Load(),
		Overruns:   b.overruns.Load(),
		Flushes:    b.flushes.Load(),
		Gaps:       b.gaps.Load(),
		Resets:     b.resets.Load(),
	}
}

func (b *base) killed() bool {
	select {
	case <-b.kill:
		return true
	default:
		return false
	}
}

// syncClock takes part in clock sync when configured.
func (b *base) syncClock(ctx context.Context) error {
	if b.participant == nil {
		return nil
	}
	return b.participant.Run(ctx, clocksync.Now, b.syncEvery)
}

// watchContext raises kill when ctx ends so a cancelled session still drains.
func (b *base) watchContext(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			b.Kill()
		case <-b.done:
		}
	}()
}

func (b *base) finish() {
	b.complete.Store(true)
	close(b.done)
}

// #endregion base
