package stream

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/signals"
)

// ErrStopped is returned by queries against a stream whose loop has exited.
var ErrStopped = errors.New("stream stopped")

// #region sink

// Sink receives flushed batches. The saver satisfies it.
type Sink interface {
	Write(stream string, payload any, ts, ts2 float64)
}

// #endregion sink

// #region samples

// Sample is one analog time point across every port. Immutable once created.
type Sample struct {
	Source string
	Seq    uint64
	TS     float64
	TS2    float64
	Values []float64
}

// FrameSample is one camera frame. Immutable once created.
type FrameSample struct {
	Source string
	Seq    uint64
	TS     float64
	TS2    float64
	Width  int
	Height int
	Pixels []uint8
	Eyelid float64 // mask-weighted mean at capture time
}

// AnalogBatch is the persisted form of a flushed analog save batch: one row
// per flush, columns in port order.
type AnalogBatch struct {
	Columns []string    `msgpack:"columns"`
	Seq     []uint64    `msgpack:"seq"`
	TS      []float64   `msgpack:"ts"`
	TS2     []float64   `msgpack:"ts_global"`
	Values  [][]float64 `msgpack:"values"` // [column][sample]
}

// FrameTimes is the per-flush timing row written next to a camera array.
type FrameTimes struct {
	Chunk  int       `msgpack:"chunk"`
	Seq    []uint64  `msgpack:"seq"`
	TS     []float64 `msgpack:"ts"`
	TS2    []float64 `msgpack:"ts_global"`
	Eyelid []float64 `msgpack:"eyelid"`
}

// #endregion samples

// #region config

// AnalogConfig configures an analog stream.
type AnalogConfig struct {
	Name        string
	Columns     []string
	SampleRate  float64
	History     int
	SaveBuffer  int
	MinFlush    int
	ReadTimeout time.Duration
	Lick        signals.LickConfig
}

// AnalogConfigFrom converts the rig configuration section.
func AnalogConfigFrom(c config.AnalogConfig) AnalogConfig {
	hold := int(float64(c.HoldingThresh) * c.SampleRate)
	return AnalogConfig{
		Name:        c.Name,
		Columns:     append([]string(nil), c.PortNames...),
		SampleRate:  c.SampleRate,
		History:     c.History,
		SaveBuffer:  c.SaveBuffer,
		MinFlush:    c.MinFlush,
		ReadTimeout: c.ReadTimeout.Duration(),
		Lick: signals.LickConfig{
			Ports:         c.RuntimePorts,
			Thresh:        c.LickThresh,
			HoldSamples:   hold,
			MotionPort:    c.MotionPort,
			MotionThresh:  c.MotionThresh,
			MotionSamples: c.MotionWindow,
		},
	}
}

// CameraConfig configures a camera stream.
type CameraConfig struct {
	Name        string
	Width       int
	Height      int
	History     int
	MinFlush    int
	Buffer      int
	ReadTimeout time.Duration
	StallResets int
	Eyelid      signals.EyelidConfig
}

// CameraConfigFrom converts the rig configuration section.
func CameraConfigFrom(c config.CameraConfig) CameraConfig {
	return CameraConfig{
		Name:        c.Name,
		Width:       c.Width,
		Height:      c.Height,
		History:     c.History,
		MinFlush:    c.MinFlush,
		Buffer:      c.Buffer,
		ReadTimeout: c.ReadTimeout.Duration(),
		StallResets: c.StallResets,
		Eyelid:      signals.EyelidConfig{Window: c.EyelidWindow, Thresh: c.EyelidThresh},
	}
}

// #endregion config

// #region stats

// Stats counts stream activity.
type Stats struct {
	Samples    int64
	ReadErrors int64
	Overruns   int64
	Flushes    int64
	Gaps       int64
	Resets     int64
}

// #endregion stats
