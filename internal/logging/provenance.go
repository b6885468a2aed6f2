package logging

// Stream names written by this package.
const (
	PhaseStream = "phases"
	LevelStream = "levels"
)

// #region log-phase
// LogPhase hands a phase record to the sink, timestamped at the phase exit.
func LogPhase(sink Sink, entry PhaseEntry) {
	if sink == nil {
		return
	}
	sink.Write(PhaseStream, entry, entry.Exit, entry.Wall)
}

// #endregion log-phase

// #region log-level-decision
// LogLevelDecision hands a level change to the sink. No-op changes are not
// recorded.
func LogLevelDecision(sink Sink, d LevelDecision) {
	if sink == nil || d.From == d.To {
		return
	}
	sink.Write(LevelStream, d, d.TS, d.Wall)
}

// #endregion log-level-decision
