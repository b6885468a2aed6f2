// Package orchestrator owns one session: it opens the store, starts the
// saver and streams, synchronizes clocks, delivers gated trials and runs the
// drain-then-flush shutdown.
package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/controller"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/gate"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/saver"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/stream"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// #endregion

// #region orchestrator-struct

// Orchestrator is the top-level coordinator for one session.
type Orchestrator struct {
	cfg    config.Config
	hw     Hardware
	levels []trial.Level
	log    *zap.SugaredLogger

	id    store.Identity
	path  string
	st    *store.Store
	saver *saver.Saver

	analog  *stream.Analog
	camera  *stream.Camera
	handler *trial.Handler
	ctrl    *controller.Controller
	gate    *gate.Gate

	cancel context.CancelFunc
	wg     sync.WaitGroup
	errMu  sync.Mutex
	errs   []error

	state    atomic.Int32
	paused   atomic.Bool
	override atomic.Bool
	lastEnd  atomic.Uint64 // float64 bits
	lastGate atomic.Value  // string

	start     chan struct{}
	startOnce sync.Once
	kill      chan struct{}
	killOnce  sync.Once

	notesMu sync.Mutex
	notes   []string
	endOnce sync.Once
	endErr  error
}

// #endregion

// #region constructor

// New validates cfg and creates an orchestrator. Prepare opens the session.
func New(cfg config.Config, hw Hardware, log *zap.SugaredLogger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Session.Subject == "" {
		return nil, errors.New("invalid config: session.subject is required")
	}
	if hw.Output == nil {
		return nil, errors.New("hardware: output lines are required")
	}
	levels, err := trial.LevelsFromConfig(cfg.Levels)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	o := &Orchestrator{
		cfg:    cfg,
		hw:     hw,
		levels: levels,
		log:    log,
		gate:   gate.NewGate(gate.GateConfigFrom(cfg)),
		start:  make(chan struct{}),
		kill:   make(chan struct{}),
	}
	o.lastGate.Store("")
	return o, nil
}

// #endregion

// #region prepare

// Prepare opens the session container, starts the saver and every stream and
// synchronizes their clocks. On failure everything already started is torn
// down and the error is a *clocksync.HardwareInitError when a collaborator
// is to blame.
func (o *Orchestrator) Prepare(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateNull), int32(StatePrepared)) {
		return fmt.Errorf("prepare: session is %s", o.State())
	}
	if err := o.prepare(ctx); err != nil {
		o.state.Store(int32(StateNull))
		return err
	}
	o.log.Infow("session prepared", "session", o.id.Session, "subject", o.id.Subject, "path", o.path)
	return nil
}

func (o *Orchestrator) prepare(ctx context.Context) error {
	subjDir := filepath.Join(o.cfg.Session.DataDir, o.cfg.Session.Subject)
	if err := os.MkdirAll(subjDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	past, errs := LoadPastTrials(o.cfg.Session.DataDir, o.cfg.Session.Subject, 0)
	for _, err := range errs {
		o.log.Warnw("past session unreadable", "error", err)
	}

	o.id = store.Identity{Session: uuid.NewString(), Subject: o.cfg.Session.Subject}
	o.path = SessionPath(o.cfg.Session.DataDir, o.cfg.Session.Subject, time.Now().Format("20060102150405"))
	st, err := store.Open(o.path, o.id)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	o.st = st

	coord := clocksync.NewCoordinator(clocksync.Now)
	every := o.cfg.Session.SyncInterval.Duration()

	svCfg := saver.ConfigFrom(o.cfg.Saver)
	if !filepath.IsAbs(svCfg.BackupPath) {
		svCfg.BackupPath = filepath.Join(subjDir, svCfg.BackupPath)
	}
	o.saver = saver.New(svCfg, st, o.log.Named("saver"),
		saver.WithParams(o.cfg),
		saver.WithSync(coord.Register("saver"), every))

	// Stop funcs of the sources started so far.
	var started []func() error
	stopStarted := func() {
		for _, stop := range started {
			if err := stop(); err != nil {
				o.log.Warnw("hardware stop failed", "error", err)
			}
		}
		if err := st.Close(); err != nil {
			o.log.Warnw("store close failed", "error", err)
		}
	}
	if o.hw.Analog != nil && o.cfg.Analog.Enabled {
		acfg := stream.AnalogConfigFrom(o.cfg.Analog)
		o.analog = stream.NewAnalog(acfg, o.hw.Analog, o.saver, o.log.Named("stream.analog"),
			stream.WithSync(coord.Register(acfg.Name), every))
		if err := startWithRetry(ctx, acfg.Name, o.analog.Start, 100*time.Millisecond, o.log); err != nil {
			stopStarted()
			return &clocksync.HardwareInitError{Process: acfg.Name, Cause: err}
		}
		started = append(started, o.hw.Analog.Stop)
	}
	if o.hw.Camera != nil && o.cfg.Camera.Enabled {
		ccfg := stream.CameraConfigFrom(o.cfg.Camera)
		o.camera = stream.NewCamera(ccfg, o.hw.Camera, o.saver, o.log.Named("stream.camera"),
			stream.WithSync(coord.Register(ccfg.Name), every))
		if err := startWithRetry(ctx, ccfg.Name, o.camera.Start, 100*time.Millisecond, o.log); err != nil {
			stopStarted()
			return &clocksync.HardwareInitError{Process: ccfg.Name, Cause: err}
		}
		started = append(started, o.hw.Camera.Stop)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.launch(runCtx, "saver", o.saver.Run)
	if o.analog != nil {
		o.launch(runCtx, o.analog.Name(), o.analog.Run)
	}
	if o.camera != nil {
		o.launch(runCtx, o.camera.Name(), o.camera.Run)
	}

	anchors, err := coord.Sync(ctx, o.cfg.Session.SyncTimeout.Duration())
	if err != nil {
		o.log.Errorw("clock sync failed", "error", err)
		o.teardown()
		return err
	}
	o.saver.RecordSync(anchors)
	o.log.Infow("clocks synchronized", "anchors", anchors)

	o.handler = trial.NewHandler(trial.HandlerConfigFrom(o.cfg), o.levels, past, o.saver, o.log.Named("trial"))

	var lick controller.Responder
	var flushers []controller.Flusher
	if o.analog != nil {
		lick = o.analog
		flushers = append(flushers, o.analog)
	}
	if o.camera != nil {
		flushers = append(flushers, o.camera)
	}
	o.ctrl = controller.New(controller.ConfigFrom(o.cfg), o.hw.Output, lick, o.handler, o.saver, o.log.Named("controller"), flushers...)
	if o.killed() {
		o.ctrl.Kill()
	}
	return nil
}

func (o *Orchestrator) launch(ctx context.Context, name string, run func(context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := run(ctx); err != nil {
			o.log.Errorw("component exited with error", "component", name, "error", err)
			o.errMu.Lock()
			o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
			o.errMu.Unlock()
		}
	}()
}

// teardown stops every launched component after a failed prepare.
func (o *Orchestrator) teardown() {
	if o.analog != nil {
		o.analog.Kill()
	}
	if o.camera != nil {
		o.camera.Kill()
	}
	o.saver.Kill()
	o.cancel()
	o.wg.Wait()
}

// #endregion

// #region run

// Start releases the delivery loop of Run.
func (o *Orchestrator) Start() { o.startOnce.Do(func() { close(o.start) }) }

// Run waits for Start, then delivers trials whenever the gate allows until
// Kill, ctx cancellation or a fatal error. It always runs the shutdown
// sequence and returns only after every component has completed.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StatePrepared), int32(StateRunning)) {
		return fmt.Errorf("run: session is %s", o.State())
	}
	runErr := o.loop(ctx)
	return errors.Join(runErr, o.end())
}

func (o *Orchestrator) loop(ctx context.Context) error {
	select {
	case <-o.start:
	case <-o.kill:
		return nil
	case <-ctx.Done():
		return nil
	}
	o.log.Infow("session started")

	ticker := time.NewTicker(o.cfg.Session.PollInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-o.kill:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if o.paused.Load() {
			continue
		}
		decision := o.gate.Evaluate(o.signals())
		o.lastGate.Store(decision.Reason)
		if decision.Vetoed {
			continue
		}
		o.override.Store(false)

		rec, err := o.ctrl.RunTrial(ctx)
		switch {
		case errors.Is(err, controller.ErrKilled):
			return nil
		case err != nil:
			o.log.Errorw("fatal trial error", "error", err)
			return err
		}
		o.lastEnd.Store(f64bits(rec.End))
	}
}

func (o *Orchestrator) signals() gate.Signals {
	s := gate.Signals{
		Now:          clocksync.Now(),
		LastTrialEnd: f64frombits(o.lastEnd.Load()),
		Override:     o.override.Load(),
	}
	if o.analog != nil {
		s.Moving = o.analog.Moving()
		s.Holding = o.analog.Holding()
	}
	if o.camera != nil {
		s.EyelidOpen = o.camera.EyelidOpen()
	}
	return s
}

// #endregion

// #region end

// end kills the controller, drains every stream, then ends the saver with
// the collected notes. State becomes complete only after all of them have
// signalled done.
func (o *Orchestrator) end() error {
	o.endOnce.Do(func() {
		o.state.Store(int32(StateKilled))
		o.ctrl.Kill()
		timeout := o.cfg.Session.StopTimeout.Duration()

		var errs []error
		for _, s := range o.streams() {
			s.Kill()
		}
		for _, s := range o.streams() {
			if err := waitDone(s.Done(), timeout); err != nil {
				errs = append(errs, fmt.Errorf("stream %s: %w", s.Name(), err))
			}
		}

		o.notesMu.Lock()
		notes := append([]string(nil), o.notes...)
		o.notesMu.Unlock()
		o.saver.End(notes...)
		if err := waitDone(o.saver.Done(), timeout); err != nil {
			errs = append(errs, fmt.Errorf("saver: %w", err))
		}

		o.cancel()
		o.wg.Wait()
		o.errMu.Lock()
		errs = append(errs, o.errs...)
		o.errMu.Unlock()

		o.state.Store(int32(StateComplete))
		o.log.Infow("session complete", "session", o.id.Session, "trials", o.handler.Status().Trials)
		o.endErr = errors.Join(errs...)
	})
	return o.endErr
}

type lifecycle interface {
	Name() string
	Kill()
	Done() <-chan struct{}
}

func (o *Orchestrator) streams() []lifecycle {
	var out []lifecycle
	if o.analog != nil {
		out = append(out, o.analog)
	}
	if o.camera != nil {
		out = append(out, o.camera)
	}
	return out
}

func waitDone(done <-chan struct{}, timeout time.Duration) error {
	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("did not complete within %s", timeout)
	}
}

// #endregion

// #region controls

// Kill ends the session: the current trial goes through ITI and End, then
// the shutdown sequence runs.
func (o *Orchestrator) Kill() {
	o.killOnce.Do(func() {
		close(o.kill)
		if o.ctrl != nil {
			o.ctrl.Kill()
		}
		o.log.Infow("kill requested")
	})
}

func (o *Orchestrator) killed() bool {
	select {
	case <-o.kill:
		return true
	default:
		return false
	}
}

// Pause suspends trial delivery and phase countdowns.
func (o *Orchestrator) Pause(on bool) {
	o.paused.Store(on)
	if o.ctrl != nil {
		o.ctrl.Pause(on)
	}
	o.log.Infow("pause", "on", on)
}

// LevelUp moves one level up unless locked.
func (o *Orchestrator) LevelUp() bool { return o.prepared() && o.handler.ChangeLevel(1) }

// LevelDown moves one level down unless locked.
func (o *Orchestrator) LevelDown() bool { return o.prepared() && o.handler.ChangeLevel(-1) }

// LockLevel freezes or releases the current level.
func (o *Orchestrator) LockLevel(on bool) {
	if o.prepared() {
		o.handler.Lock(on)
	}
}

// ForceReward delivers an immediate reward on side.
func (o *Orchestrator) ForceReward(side trial.Side) {
	if o.prepared() {
		o.ctrl.ForceReward(side)
	}
}

// ForceTrial delivers the next trial regardless of the gate.
func (o *Orchestrator) ForceTrial() { o.override.Store(true) }

// Light switches the house light.
func (o *Orchestrator) Light(on bool) error {
	if !o.prepared() {
		return errors.New("light: session not prepared")
	}
	return o.ctrl.Light(on)
}

// ReselectMask installs a polygon ROI for eyelid extraction. Fewer than three
// points selects the whole frame.
func (o *Orchestrator) ReselectMask(pts []signals.Point) error {
	if o.camera == nil {
		return errors.New("reselect mask: no camera configured")
	}
	if len(pts) < 3 {
		return o.camera.SetMask(nil)
	}
	mask := signals.FillPolygon(o.cfg.Camera.Width, o.cfg.Camera.Height, pts)
	return o.camera.SetMask(mask)
}

// AddNote appends operator notes, persisted at session end.
func (o *Orchestrator) AddNote(text string) {
	o.notesMu.Lock()
	defer o.notesMu.Unlock()
	o.notes = append(o.notes, text)
}

// State returns the lifecycle state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Path returns the session container path once prepared.
func (o *Orchestrator) Path() string { return o.path }

func (o *Orchestrator) prepared() bool {
	return o.ctrl != nil && o.handler != nil
}

// Status returns a snapshot of the session.
func (o *Orchestrator) Status() Status {
	st := o.State()
	s := Status{
		State:        st.String(),
		Complete:     st == StateComplete,
		Session:      o.id.Session,
		Subject:      o.cfg.Session.Subject,
		Path:         o.path,
		Paused:       o.paused.Load(),
		Phase:        controller.Idle.String(),
		LastTrialEnd: f64frombits(o.lastEnd.Load()),
		Gate:         o.lastGate.Load().(string),
		Streams:      make(map[string]stream.Stats),
	}
	o.notesMu.Lock()
	s.Notes = len(o.notes)
	o.notesMu.Unlock()
	if o.prepared() {
		s.Phase = o.ctrl.Phase().String()
		s.Trial = o.handler.Status()
		s.Saver = o.saver.Stats()
	}
	for _, l := range o.streams() {
		switch v := l.(type) {
		case *stream.Analog:
			s.Streams[v.Name()] = v.Stats()
		case *stream.Camera:
			s.Streams[v.Name()] = v.Stats()
		}
	}
	return s
}

// #endregion

func f64bits(v float64) uint64     { return math.Float64bits(v) }
func f64frombits(b uint64) float64 { return math.Float64frombits(b) }
