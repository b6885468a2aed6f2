package store

import (
	"encoding/binary"
	"math"
)

// #region vector-encoding
// EncodeFloat64s packs v little-endian for float64 array blobs.
func EncodeFloat64s(v []float64) []byte {
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

// DecodeFloat64s unpacks a blob written by EncodeFloat64s. Trailing bytes
// shorter than one value are ignored.
func DecodeFloat64s(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}

// #endregion vector-encoding
