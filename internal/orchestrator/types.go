package orchestrator

import (
	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/hardware"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/saver"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/stream"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// #region state

// State is the session lifecycle state.
type State int32

const (
	StateNull State = iota
	StatePrepared
	StateRunning
	StateKilled
	StateComplete
)

var stateNames = [...]string{"null", "prepared", "running", "killed", "complete"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// #endregion

// #region hardware

// Hardware bundles the collaborators of one rig. Analog and Camera are nil
// when disabled.
type Hardware struct {
	Output hardware.OutputLine
	Analog hardware.AnalogSource
	Camera hardware.CameraSource
}

// DummyHardware builds simulated collaborators for dry runs. The analog
// source injects licks at lickRate per second when positive.
func DummyHardware(cfg config.Config, lickRate float64) Hardware {
	hw := Hardware{Output: hardware.NewDummyOutput()}
	if cfg.Analog.Enabled {
		a := hardware.NewDummyAnalog(len(cfg.Analog.Ports), cfg.Analog.ReadBlock, cfg.Analog.SampleRate, cfg.Trial.Seed)
		a.LickRate = lickRate
		a.LickPorts = cfg.Analog.RuntimePorts
		hw.Analog = a
	}
	if cfg.Camera.Enabled {
		hw.Camera = hardware.NewDummyCamera(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}
	return hw
}

// #endregion

// #region status

// Status is a point-in-time view of the session.
type Status struct {
	State        string                  `json:"state"`
	Complete     bool                    `json:"complete"`
	Session      string                  `json:"session"`
	Subject      string                  `json:"subject"`
	Path         string                  `json:"path"`
	Paused       bool                    `json:"paused"`
	Phase        string                  `json:"phase"`
	LastTrialEnd float64                 `json:"last_trial_end"`
	Gate         string                  `json:"gate"`
	Trial        trial.Status            `json:"trial"`
	Saver        saver.Stats             `json:"saver"`
	Streams      map[string]stream.Stats `json:"streams"`
	Notes        int                     `json:"notes"`
}

// #endregion
