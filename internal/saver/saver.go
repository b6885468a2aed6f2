// Package saver is the rig's durable writer: every component hands it records
// through a non-blocking Write, and a single loop batches them per stream into
// the session store.
package saver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

// #region saver

// Saver batches records per stream and appends them to a Store.
type Saver struct {
	config Config
	st     Store
	log    *zap.SugaredLogger

	queue chan Record

	mu      sync.RWMutex // writers hold R; shutdown takes W to close the gate
	closing bool

	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}
	complete atomic.Bool

	notesMu sync.Mutex
	notes   []string

	participant *clocksync.Participant
	syncEvery   time.Duration
	params      any

	batches map[string][]store.Row
	seq     map[string]uint64

	accepted atomic.Int64
	dropped  atomic.Int64
	rejected atomic.Int64
	statsMu  sync.Mutex
	written  map[string]int
	failed   map[string]int
}

// Option configures a Saver.
type Option func(*Saver)

// WithParams records v as JSON under the params key at startup.
func WithParams(v any) Option {
	return func(s *Saver) { s.params = v }
}

// WithSync makes Run report into p until the go signal before entering its
// main loop.
func WithSync(p *clocksync.Participant, every time.Duration) Option {
	return func(s *Saver) {
		s.participant = p
		s.syncEvery = every
	}
}

// New creates a Saver. Run must be started for records to reach the store.
func New(config Config, st Store, log *zap.SugaredLogger, opts ...Option) *Saver {
	if config.FieldBufferSize <= 0 {
		config.FieldBufferSize = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultConfig().QueueSize
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Saver{
		config:  config,
		st:      st,
		log:     log,
		queue:   make(chan Record, config.QueueSize),
		kill:    make(chan struct{}),
		done:    make(chan struct{}),
		batches: make(map[string][]store.Row),
		seq:     make(map[string]uint64),
		written: make(map[string]int),
		failed:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// #endregion saver

// #region write

// Write enqueues one record. It never returns an error: records arriving after
// shutdown began are dropped silently, and a queue that stays full past the
// enqueue timeout drops the record with a warning.
func (s *Saver) Write(stream string, payload any, ts, ts2 float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closing {
		s.rejected.Add(1)
		return
	}

	rec := Record{Stream: stream, Payload: payload, TS: ts, TS2: ts2}
	select {
	case s.queue <- rec:
		s.accepted.Add(1)
		return
	default:
	}

	timer := time.NewTimer(s.config.EnqueueTimeout)
	defer timer.Stop()
	select {
	case s.queue <- rec:
		s.accepted.Add(1)
	case <-timer.C:
		n := s.dropped.Add(1)
		s.log.Warnw("saver queue full, record dropped", "stream", stream, "dropped_total", n)
	}
}

// RecordSync queues the clock anchors for the sync table.
func (s *Saver) RecordSync(anchors map[string]float64) {
	s.Write("sync", SyncAnchors(anchors), clocksync.Now(), clocksync.Wall())
}

// #endregion write

// #region run

// Run writes the startup metadata, takes part in clock sync when configured,
// then batches records until End is called or ctx is cancelled. It always
// performs the shutdown sequence before returning.
func (s *Saver) Run(ctx context.Context) error {
	defer close(s.done)

	s.writeStartupMeta()

	var syncErr error
	if s.participant != nil {
		if err := s.participant.Run(ctx, clocksync.Now, s.syncEvery); err != nil {
			syncErr = fmt.Errorf("saver sync: %w", err)
		}
	}

	if syncErr == nil {
	loop:
		for {
			select {
			case rec := <-s.queue:
				s.handle(rec)
			case <-s.kill:
				break loop
			case <-ctx.Done():
				break loop
			}
		}
	}

	return errors.Join(syncErr, s.shutdown())
}

func (s *Saver) writeStartupMeta() {
	if s.params != nil {
		if b, err := json.Marshal(s.params); err != nil {
			s.log.Errorw("marshal params", "err", err)
		} else if err := s.st.PutMeta(MetaParams, string(b)); err != nil {
			s.log.Errorw("write params", "err", err)
		}
	}
	if err := s.st.PutMeta(MetaCodeSnapshot, CodeSnapshot()); err != nil {
		s.log.Errorw("write code snapshot", "err", err)
	}
}

func (s *Saver) handle(rec Record) {
	switch p := rec.Payload.(type) {
	case store.Array:
		if p.TS == 0 {
			p.TS, p.TS2 = rec.TS, rec.TS2
		}
		if p.Name == "" {
			p.Name = rec.Stream
		}
		if _, err := s.st.PutArray(p); err != nil {
			s.fail(rec.Stream, 1, err, p.Shape)
			return
		}
		s.wrote(rec.Stream, 1)
	case SyncAnchors:
		if err := s.st.PutSync(p); err != nil {
			s.fail(rec.Stream, 1, err, p)
			return
		}
		s.wrote(rec.Stream, 1)
	default:
		seq := s.seq[rec.Stream]
		s.seq[rec.Stream] = seq + 1
		s.batches[rec.Stream] = append(s.batches[rec.Stream], store.Row{Seq: seq, TS: rec.TS, TS2: rec.TS2, Payload: rec.Payload})
		if len(s.batches[rec.Stream]) >= s.config.FieldBufferSize {
			s.flush(rec.Stream)
		}
	}
}

// flush appends and clears one stream's batch. A failed batch is logged with
// its payload and dropped; other streams are unaffected.
func (s *Saver) flush(stream string) {
	rows := s.batches[stream]
	delete(s.batches, stream)
	if len(rows) == 0 {
		return
	}
	if err := s.st.Append(stream, rows); err != nil {
		payloads := make([]any, len(rows))
		for i, r := range rows {
			payloads[i] = r.Payload
		}
		s.fail(stream, len(rows), err, payloads)
		return
	}
	s.wrote(stream, len(rows))
}

func (s *Saver) wrote(stream string, n int) {
	s.statsMu.Lock()
	s.written[stream] += n
	s.statsMu.Unlock()
}

func (s *Saver) fail(stream string, n int, err error, payload any) {
	s.statsMu.Lock()
	s.failed[stream] += n
	s.statsMu.Unlock()
	s.log.Errorw("write failure", "stream", stream, "rows", n, "err", err, "payload", payload)
}

// #endregion run

// #region shutdown

// End queues the session notes and raises kill. It returns immediately; wait
// on Done for completion.
func (s *Saver) End(notes ...string) {
	s.notesMu.Lock()
	s.notes = append(s.notes, notes...)
	s.notesMu.Unlock()
	s.Kill()
}

// Kill raises the shutdown signal without adding notes.
func (s *Saver) Kill() {
	s.killOnce.Do(func() { close(s.kill) })
}

// shutdown closes the write gate, drains the queue, flushes every partial
// batch exactly once, writes the notes and closes the store.
func (s *Saver) shutdown() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

drain:
	for {
		select {
		case rec := <-s.queue:
			s.handle(rec)
		default:
			break drain
		}
	}

	streams := make([]string, 0, len(s.batches))
	for name := range s.batches {
		streams = append(streams, name)
	}
	sort.Strings(streams)
	for _, name := range streams {
		s.flush(name)
	}

	notesErr := s.writeNotes()
	closeErr := s.st.Close()
	if closeErr != nil {
		closeErr = fmt.Errorf("close store: %w", closeErr)
	}
	s.complete.Store(true)
	s.log.Infow("saver complete", "accepted", s.accepted.Load(), "dropped", s.dropped.Load(), "rejected", s.rejected.Load())
	return errors.Join(notesErr, closeErr)
}

type notesDoc struct {
	Notes []string `json:"notes"`
	TS    float64  `json:"ts"`
	TS2   float64  `json:"ts_global"`
}

func (s *Saver) writeNotes() error {
	s.notesMu.Lock()
	doc := notesDoc{Notes: append([]string{}, s.notes...), TS: clocksync.Now(), TS2: clocksync.Wall()}
	s.notesMu.Unlock()

	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal notes: %w", err)
	}
	if err := s.st.PutMeta(MetaNotes, string(b)); err != nil {
		s.log.Errorw("notes persist failure, writing backup", "err", err, "backup", s.config.BackupPath)
		if berr := appendBackup(s.config.BackupPath, b); berr != nil {
			return fmt.Errorf("write notes backup: %w", berr)
		}
	}
	return nil
}

func appendBackup(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Done is closed after the final flush and store close.
func (s *Saver) Done() <-chan struct{} { return s.done }

// Complete reports whether shutdown finished.
func (s *Saver) Complete() bool { return s.complete.Load() }

// #endregion shutdown

// #region stats

// Stats returns a snapshot of the saver counters.
func (s *Saver) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := Stats{
		Accepted: s.accepted.Load(),
		Dropped:  s.dropped.Load(),
		Rejected: s.rejected.Load(),
		Written:  make(map[string]int, len(s.written)),
		Failed:   make(map[string]int, len(s.failed)),
	}
	for k, v := range s.written {
		st.Written[k] = v
	}
	for k, v := range s.failed {
		st.Failed[k] = v
	}
	return st
}

// #endregion stats

// #region code-snapshot

// CodeSnapshot describes the running binary as JSON: module path, version
// and VCS settings from the embedded build info.
func CodeSnapshot() string {
	snap := map[string]string{}
	if info, ok := debug.ReadBuildInfo(); ok {
		snap["path"] = info.Path
		snap["module"] = info.Main.Path
		snap["version"] = info.Main.Version
		snap["go"] = info.GoVersion
		for _, kv := range info.Settings {
			switch kv.Key {
			case "vcs.revision", "vcs.time", "vcs.modified":
				snap[kv.Key] = kv.Value
			}
		}
	}
	b, _ := json.Marshal(snap)
	return string(b)
}

// #endregion code-snapshot
