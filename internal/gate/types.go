package gate

import "github.com/danielpatrickdp/puffrig/go-controller/internal/config"

// #region veto-type
// VetoType enumerates reasons a trial may not start yet.
type VetoType string

const (
	VetoMinITI  VetoType = "min_iti"
	VetoMoving  VetoType = "moving"
	VetoHolding VetoType = "holding"
	VetoEyelid  VetoType = "eyelid_closed"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents one unmet delivery condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds delivery conditions.
type GateConfig struct {
	MinITI        float64 // seconds since the previous trial ended
	HoldRule      bool    // a held lick sensor blocks delivery
	RequireStill  bool    // motion blocks delivery
	RequireEyelid bool    // a closed eyelid blocks delivery
}

// DefaultGateConfig returns the conditions used with no camera or motion sensor.
func DefaultGateConfig() GateConfig {
	return GateConfig{HoldRule: true}
}

// GateConfigFrom derives the conditions from the rig configuration.
func GateConfigFrom(c config.Config) GateConfig {
	return GateConfig{
		MinITI:        float64(c.Session.MinITI),
		HoldRule:      c.Rules.HoldRule,
		RequireStill:  c.Analog.Enabled && c.Analog.MotionPort >= 0,
		RequireEyelid: c.Camera.Enabled,
	}
}

// #endregion gate-config

// #region signals
// Signals is the subject state sampled just before a delivery decision.
type Signals struct {
	Now          float64
	LastTrialEnd float64 // zero before the first trial
	Moving       bool
	Holding      bool
	EyelidOpen   bool
	Override     bool // operator forced delivery
}

// #endregion signals

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string // "deliver" | "wait"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
}

// #endregion gate-decision
