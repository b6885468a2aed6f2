package signals

// #region config

// LickConfig holds lick and hold detection knobs.
type LickConfig struct {
	Ports         [2]int  // left, right analog ports
	Thresh        float64 // sample value above which a port counts as licked
	HoldSamples   int     // trailing samples that must all be above Thresh to count as holding
	MotionPort    int     // -1 disables motion detection
	MotionThresh  float64
	MotionSamples int
}

// EyelidConfig holds eyelid extraction knobs.
type EyelidConfig struct {
	Window int     // trailing frames averaged
	Thresh float64 // mean mask value below which the eye counts as open
}

// #endregion config

// #region point

// Point is a polygon vertex in pixel coordinates.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// #endregion point
