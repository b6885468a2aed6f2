package gate

import "fmt"

// #region gate
// Gate decides whether the next trial may start.
type Gate struct {
	config GateConfig
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config}
}

// Evaluate collects every veto. An operator override delivers regardless.
func (g *Gate) Evaluate(s Signals) GateDecision {
	if s.Override {
		return GateDecision{Action: "deliver", Reason: "operator override"}
	}

	var vetoes []VetoSignal

	// 1. Minimum inter-trial interval
	if s.LastTrialEnd > 0 {
		if since := s.Now - s.LastTrialEnd; since < g.config.MinITI {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoMinITI,
				Reason: fmt.Sprintf("%.3fs since last trial, need %.3fs", since, g.config.MinITI),
			})
		}
	}

	// 2. Subject moving
	if g.config.RequireStill && s.Moving {
		vetoes = append(vetoes, VetoSignal{Type: VetoMoving, Reason: "motion detected"})
	}

	// 3. Lick sensor held
	if g.config.HoldRule && s.Holding {
		vetoes = append(vetoes, VetoSignal{Type: VetoHolding, Reason: "lick sensor held"})
	}

	// 4. Eyelid closed
	if g.config.RequireEyelid && !s.EyelidOpen {
		vetoes = append(vetoes, VetoSignal{Type: VetoEyelid, Reason: "eyelid not open"})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      "wait",
			Reason:      fmt.Sprintf("veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			VetoSignals: vetoes,
		}
	}
	return GateDecision{Action: "deliver", Reason: "all conditions met"}
}

// #endregion gate
