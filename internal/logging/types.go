package logging

// #region sink
// Sink accepts one durable record. The saver satisfies it.
type Sink interface {
	Write(stream string, payload any, ts, ts2 float64)
}

// #endregion sink

// #region phase-entry
// PhaseEntry is a single row in the phases stream: one state of one trial.
type PhaseEntry struct {
	Trial int     `msgpack:"trial" json:"trial"`
	Phase string  `msgpack:"phase" json:"phase"`
	Enter float64 `msgpack:"enter" json:"enter"`
	Exit  float64 `msgpack:"exit" json:"exit"`
	Wall  float64 `msgpack:"-" json:"-"` // wall clock at exit, stored as the row's secondary timestamp
}

// #endregion phase-entry

// #region level-decision
// LevelDecision records a level change and what caused it.
type LevelDecision struct {
	Trial  int     `msgpack:"trial" json:"trial"`
	From   int     `msgpack:"from" json:"from"`
	To     int     `msgpack:"to" json:"to"`
	Reason string  `msgpack:"reason" json:"reason"` // "criteria" | "manual" | "resume"
	TS     float64 `msgpack:"-" json:"-"`
	Wall   float64 `msgpack:"-" json:"-"`
}

// #endregion level-decision
