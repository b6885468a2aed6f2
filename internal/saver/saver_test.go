package saver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/danielpatrickdp/puffrig/go-controller/internal/clocksync"
	"github.com/danielpatrickdp/puffrig/go-controller/internal/store"
)

// #region helpers

type event struct {
	N int `msgpack:"n"`
}

func openStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	st, err := store.Open(path, store.Identity{Session: "s1", Subject: "m1"})
	require.NoError(t, err)
	return st, path
}

func reopen(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path, store.Identity{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func start(t *testing.T, s *Saver) chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	return errc
}

func finish(t *testing.T, s *Saver, errc chan error, notes ...string) {
	t.Helper()
	s.End(notes...)
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("saver did not finish")
	}
	require.NoError(t, <-errc)
	require.True(t, s.Complete())
}

// failingStore wraps a real store and fails appends for one stream.
type failingStore struct {
	Store
	failStream string
	failMeta   bool
	mu         sync.Mutex
	appends    map[string]int
}

func (f *failingStore) Append(stream string, rows []store.Row) error {
	f.mu.Lock()
	f.appends[stream]++
	f.mu.Unlock()
	if stream == f.failStream {
		return errors.New("disk full")
	}
	return f.Store.Append(stream, rows)
}

func (f *failingStore) PutMeta(key, value string) error {
	if f.failMeta && key == MetaNotes {
		return errors.New("meta table locked")
	}
	return f.Store.PutMeta(key, value)
}

// #endregion helpers

func TestRoundTripAcrossBatches(t *testing.T) {
	st, path := openStore(t)
	cfg := DefaultConfig()
	cfg.FieldBufferSize = 7
	s := New(cfg, st, zaptest.NewLogger(t).Sugar())
	errc := start(t, s)

	const n = 53
	for i := 0; i < n; i++ {
		s.Write("trial_events", event{N: i}, float64(i), 0)
	}
	finish(t, s, errc)

	rows, err := reopen(t, path).Rows("trial_events")
	require.NoError(t, err)
	require.Len(t, rows, n)
	for i, r := range rows {
		var e event
		require.NoError(t, r.Decode(&e))
		assert.Equal(t, i, e.N)
		assert.Equal(t, uint64(i), r.Seq)
	}
	assert.Equal(t, n, s.Stats().Written["trial_events"])
}

func TestKillFlushesPendingExactlyOnce(t *testing.T) {
	st, path := openStore(t)
	cfg := DefaultConfig()
	cfg.FieldBufferSize = 1000
	s := New(cfg, st, zaptest.NewLogger(t).Sugar())
	errc := start(t, s)

	// M records far below the batch size stay pending until kill.
	const m = 37
	for i := 0; i < m; i++ {
		s.Write("analog", event{N: i}, float64(i), 0)
	}
	s.End("kill mid-stream")
	<-s.Done()
	require.NoError(t, <-errc)

	s.Write("analog", event{N: 999}, 0, 0)

	db := reopen(t, path)
	n, err := db.Count("analog")
	require.NoError(t, err)
	assert.Equal(t, m, n)
	assert.EqualValues(t, 1, s.Stats().Rejected)

	notes, found, err := db.Meta(MetaNotes)
	require.NoError(t, err)
	require.True(t, found)
	assert.Contains(t, notes, "kill mid-stream")
}

func TestFailureIsolatedPerStream(t *testing.T) {
	st, path := openStore(t)
	fs := &failingStore{Store: st, failStream: "camera_meta", appends: map[string]int{}}
	cfg := DefaultConfig()
	cfg.FieldBufferSize = 2
	s := New(cfg, fs, zaptest.NewLogger(t).Sugar())
	errc := start(t, s)

	for i := 0; i < 6; i++ {
		s.Write("camera_meta", event{N: i}, 0, 0)
		s.Write("trials", event{N: i}, 0, 0)
	}
	finish(t, s, errc)

	n, err := reopen(t, path).Count("trials")
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	stats := s.Stats()
	assert.Equal(t, 6, stats.Failed["camera_meta"])
	assert.Equal(t, 6, stats.Written["trials"])
	assert.Equal(t, 3, fs.appends["camera_meta"], "each failed batch attempted once")
}

func TestNotesBackupOnFailure(t *testing.T) {
	st, _ := openStore(t)
	fs := &failingStore{Store: st, failMeta: true, appends: map[string]int{}}
	cfg := DefaultConfig()
	cfg.BackupPath = filepath.Join(t.TempDir(), "crash.backup")
	s := New(cfg, fs, zaptest.NewLogger(t).Sugar())
	errc := start(t, s)
	finish(t, s, errc, "subject sneezed")

	b, err := os.ReadFile(cfg.BackupPath)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "\n"))
	assert.Contains(t, string(b), "subject sneezed")
}

func TestArraysAndSyncBypassBatches(t *testing.T) {
	st, path := openStore(t)
	s := New(DefaultConfig(), st, zaptest.NewLogger(t).Sugar())
	errc := start(t, s)

	s.Write("mask0", store.Array{Shape: []int{2, 2}, DType: "float64", Data: make([]byte, 32)}, 1, 2)
	s.RecordSync(map[string]float64{"analogreader": 0.5})
	finish(t, s, errc)

	db := reopen(t, path)
	arrs, err := db.Array("mask0")
	require.NoError(t, err)
	require.Len(t, arrs, 1)
	assert.Equal(t, 1.0, arrs[0].TS)

	anchors, err := db.Sync()
	require.NoError(t, err)
	assert.Equal(t, 0.5, anchors["analogreader"])
}

func TestStartupMetadata(t *testing.T) {
	st, path := openStore(t)
	s := New(DefaultConfig(), st, zaptest.NewLogger(t).Sugar(), WithParams(map[string]any{"rate_sum": 5.0}))
	errc := start(t, s)
	finish(t, s, errc)

	db := reopen(t, path)
	params, found, err := db.Meta(MetaParams)
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"rate_sum":5}`, params)

	_, found, err = db.Meta(MetaCodeSnapshot)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWaitsForClockSync(t *testing.T) {
	st, path := openStore(t)
	coord := clocksync.NewCoordinator(nil)
	p := coord.Register("saver")
	s := New(DefaultConfig(), st, zaptest.NewLogger(t).Sugar(), WithSync(p, time.Millisecond))
	errc := start(t, s)

	anchors, err := coord.Sync(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Contains(t, anchors, "saver")

	s.Write("trials", event{N: 1}, 0, 0)
	finish(t, s, errc)

	n, err := reopen(t, path).Count("trials")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFullQueueDrops(t *testing.T) {
	st, _ := openStore(t)
	cfg := DefaultConfig()
	cfg.QueueSize = 2
	cfg.EnqueueTimeout = time.Millisecond
	s := New(cfg, st, zaptest.NewLogger(t).Sugar())

	// Run is not started, so the queue never drains.
	for i := 0; i < 5; i++ {
		s.Write("trials", event{N: i}, 0, 0)
	}
	stats := s.Stats()
	assert.EqualValues(t, 2, stats.Accepted)
	assert.EqualValues(t, 3, stats.Dropped)

	errc := start(t, s)
	finish(t, s, errc)
}

func TestContextCancelRunsShutdown(t *testing.T) {
	st, path := openStore(t)
	s := New(DefaultConfig(), st, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	s.Write("trials", event{N: 1}, 0, 0)
	cancel()
	<-s.Done()
	require.NoError(t, <-errc)

	n, err := reopen(t, path).Count("trials")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
