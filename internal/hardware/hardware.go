// Package hardware defines the collaborator contracts the rig core drives:
// digital output lines, a block-reading analog source and a camera. Vendor
// drivers live outside this module; the dummies here back tests and the
// dry-run mode.
package hardware

import (
	"errors"
	"time"
)

// ErrWouldBlock is returned by a read that produced nothing within its wait.
var ErrWouldBlock = errors.New("would block")

// #region output

// OutputLine sets a digital or analog output line. Fire and confirm.
// Implementations must be safe for concurrent use.
type OutputLine interface {
	SetLine(line string, v float64) error
}

// #endregion output

// #region analog

// AnalogBlock is one fixed-size read: Values[port][sample].
type AnalogBlock struct {
	TS     float64
	TS2    float64
	Values [][]float64
}

// Samples returns the number of samples per port.
func (b AnalogBlock) Samples() int {
	if len(b.Values) == 0 {
		return 0
	}
	return len(b.Values[0])
}

// AnalogSource reads blocks from an analog input device.
type AnalogSource interface {
	Start() error
	Read(timeout time.Duration) (AnalogBlock, error)
	Stop() error
}

// #endregion analog

// #region camera

// Frame is one camera frame in row-major 8-bit grayscale.
type Frame struct {
	TS     float64
	TS2    float64
	Seq    uint64
	Width  int
	Height int
	Pixels []uint8
}

// CameraSource reads frames from a camera.
type CameraSource interface {
	Start() error
	ReadFrame(timeout time.Duration) (Frame, error)
	Reset() error
	Stop() error
}

// #endregion camera
