package controller

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/trial"
)

// ErrKilled is returned by RunTrial once the controller has been killed.
var ErrKilled = errors.New("controller killed")

// #region phase

// Phase is one state of the per-trial state machine.
type Phase int32

const (
	Idle Phase = iota
	Intro
	Stimulus
	Delay
	Response
	Reward
	ITI
	End
)

var phaseNames = [...]string{"idle", "intro", "stim", "delay", "lick", "reward", "iti", "end"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// #endregion phase

// #region collaborators

// Responder reports licks with read-and-clear semantics. The analog stream
// satisfies it.
type Responder interface {
	Licked() [2]bool
	ClearSignals()
}

// Flusher is a stream whose pending batch can be forced out.
type Flusher interface {
	SetFlush(on bool)
}

// Planner issues plans and accepts finalized trials. trial.Handler
// satisfies it.
type Planner interface {
	Next() (trial.Plan, error)
	End(rec trial.Record)
}

// #endregion collaborators

// #region config

// Config holds phase timing, rule switches and output line names. Times are
// in seconds.
type Config struct {
	Intro                    float64
	Response                 float64
	Reward                   float64
	ITI                      float64
	PenaltyITIFrac           float64
	EnforceStimPhaseDuration bool
	StimPhasePad             [2]float64
	StimDuration             float64
	Tick                     time.Duration

	PuffsOn      bool
	RewardsOn    bool
	HintInterval float64

	StimLines      [2]string
	RewardLines    [2]string
	RewardDuration [2]float64
	LightLine      string
	ManipLine      string
}

// ConfigFrom extracts controller settings from the rig configuration.
func ConfigFrom(c config.Config) Config {
	return Config{
		Intro:                    float64(c.Phases.Intro),
		Response:                 float64(c.Phases.Response),
		Reward:                   float64(c.Phases.Reward),
		ITI:                      float64(c.Phases.ITI),
		PenaltyITIFrac:           c.Phases.PenaltyITIFrac,
		EnforceStimPhaseDuration: c.Phases.EnforceStimPhaseDuration,
		StimPhasePad:             [2]float64{float64(c.Trial.StimPhasePad[0]), float64(c.Trial.StimPhasePad[1])},
		StimDuration:             float64(c.Trial.StimDuration),
		Tick:                     c.Phases.Tick.Duration(),
		PuffsOn:                  c.Rules.PuffsOn,
		RewardsOn:                c.Rules.RewardsOn,
		HintInterval:             float64(c.Rules.HintInterval),
		StimLines:                c.Hardware.StimLines,
		RewardLines:              c.Hardware.RewardLines,
		RewardDuration:           [2]float64{float64(c.Hardware.RewardDuration[0]), float64(c.Hardware.RewardDuration[1])},
		LightLine:                c.Hardware.LightLine,
		ManipLine:                c.Hardware.ManipLine,
	}
}

// #endregion config

// #region manipulation

// ManipulationActive reports whether the manipulation line is driven for a
// manipulation code in a phase.
func ManipulationActive(code int, p Phase) bool {
	switch code {
	case trial.ManipTrial:
		return p >= Intro && p <= Reward
	case trial.ManipStim:
		return p == Stimulus
	case trial.ManipIntroStim:
		return p == Intro || p == Stimulus
	case trial.ManipDelay:
		return p == Delay
	case trial.ManipReward:
		return p == Reward
	}
	return false
}

// #endregion manipulation
