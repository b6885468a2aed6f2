package clocksync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func counter(start float64) Clock {
	var n atomic.Int64
	return func() float64 {
		return start + float64(n.Add(1))
	}
}

func TestSyncCollectsAnchors(t *testing.T) {
	c := NewCoordinator(func() float64 { return 42 })
	ids := []string{"analogreader", "cam0", "saver"}

	var wg sync.WaitGroup
	for i, id := range ids {
		p := c.Register(id)
		clock := counter(float64(i * 1000))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(context.Background(), clock, time.Millisecond); err != nil {
				t.Errorf("Run(%s): %v", id, err)
			}
		}()
	}

	anchors, err := c.Sync(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	wg.Wait()

	if len(anchors) != len(ids)+1 {
		t.Fatalf("expected %d anchors, got %d", len(ids)+1, len(anchors))
	}
	// Each participant's clock starts at i*1000 and only counts up.
	for i, id := range ids {
		lo, hi := float64(i*1000), float64((i+1)*1000)
		if anchors[id] <= lo || anchors[id] >= hi {
			t.Errorf("%s anchor = %v, want in (%v, %v)", id, anchors[id], lo, hi)
		}
	}
	if anchors[SessionKey] != 42 {
		t.Errorf("session anchor = %v", anchors[SessionKey])
	}
	if !c.Raised() {
		t.Error("expected go raised")
	}
}

func TestSyncTimesOutOnMissingParticipant(t *testing.T) {
	c := NewCoordinator(nil)
	ready := c.Register("analogreader")
	c.Register("cam0")
	go ready.Run(context.Background(), Now, time.Millisecond)

	start := time.Now()
	_, err := c.Sync(context.Background(), 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("expected ErrHardwareInit, got %v", err)
	}
	var hwErr *HardwareInitError
	if !errors.As(err, &hwErr) || hwErr.Process != "cam0" {
		t.Fatalf("expected cam0 named, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sync did not honor its timeout")
	}
	if c.Raised() {
		t.Fatal("go must not be raised on failure")
	}
}

func TestSyncHonorsContext(t *testing.T) {
	c := NewCoordinator(nil)
	c.Register("saver")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Sync(ctx, time.Second); !errors.Is(err, ErrHardwareInit) {
		t.Fatalf("expected ErrHardwareInit, got %v", err)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	c := NewCoordinator(nil)
	a := c.Register("x")
	b := c.Register("x")
	if a != b {
		t.Fatal("expected same participant")
	}
	if got := c.IDs(); len(got) != 1 || got[0] != "x" {
		t.Fatalf("IDs = %v", got)
	}
}

func TestReportIgnoredAfterGo(t *testing.T) {
	c := NewCoordinator(nil)
	p := c.Register("x")
	go p.Run(context.Background(), func() float64 { return 7 }, time.Millisecond)
	anchors, err := c.Sync(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	p.Report(99)
	if p.value() != anchors["x"] {
		t.Fatalf("anchor changed after go: %v", p.value())
	}
}

func TestSyncTwiceFails(t *testing.T) {
	c := NewCoordinator(nil)
	if _, err := c.Sync(context.Background(), time.Second); err != nil {
		t.Fatalf("first Sync: %v", err)
	}
	if _, err := c.Sync(context.Background(), time.Second); err == nil {
		t.Fatal("expected error on second Sync")
	}
}

func TestNowMonotonic(t *testing.T) {
	a := Now()
	b := Now()
	if b < a {
		t.Fatalf("Now went backwards: %v < %v", b, a)
	}
	if Wall() < 1e9 {
		t.Fatal("Wall should be unix seconds")
	}
}
