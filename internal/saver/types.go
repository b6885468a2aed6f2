package saver

import (
	"time"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/config"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

// #region store-interface

// Store is the durable side of the saver.
type Store interface {
	Append(stream string, rows []store.Row) error
	PutArray(a store.Array) (int, error)
	PutSync(anchors map[string]float64) error
	PutMeta(key, value string) error
	Close() error
}

// #endregion store-interface

// #region config

// Config holds saver tuning knobs.
type Config struct {
	FieldBufferSize int           // rows per stream batched before one append
	QueueSize       int           // bounded queue capacity
	EnqueueTimeout  time.Duration // how long a full queue may block a writer
	BackupPath      string        // emergency notes file
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FieldBufferSize: 10,
		QueueSize:       4096,
		EnqueueTimeout:  50 * time.Millisecond,
		BackupPath:      "crash.backup",
	}
}

// ConfigFrom converts the rig configuration section.
func ConfigFrom(c config.SaverConfig) Config {
	return Config{
		FieldBufferSize: c.FieldBufferSize,
		QueueSize:       c.QueueSize,
		EnqueueTimeout:  c.EnqueueTimeout.Duration(),
		BackupPath:      c.BackupPath,
	}
}

// #endregion config

// #region record

// Record is the unit the saver queues and batches.
type Record struct {
	Stream  string
	Payload any
	TS      float64
	TS2     float64
}

// SyncAnchors is a record payload holding the clock anchors; it is written to
// the sync table instead of a stream.
type SyncAnchors map[string]float64

// #endregion record

// #region stats

// Stats counts saver activity.
type Stats struct {
	Accepted int64
	Dropped  int64 // full queue past the enqueue timeout
	Rejected int64 // arrived after shutdown began
	Written  map[string]int
	Failed   map[string]int
}

// #endregion stats

// Stream and meta names written by the saver itself.
const (
	MetaParams       = "params"
	MetaCodeSnapshot = "code_snapshot"
	MetaNotes        = "notes"
)
