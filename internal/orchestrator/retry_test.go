package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestStartWithRetry(t *testing.T) {
	busy := errors.New("busy")
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantCalls int
	}{
		{"first attempt", 0, false, 1},
		{"recovers on last retry", maxStartRetries, false, maxStartRetries + 1},
		{"exhausted", maxStartRetries + 1, true, maxStartRetries + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			start := func() error {
				calls++
				if calls <= tt.failures {
					return busy
				}
				return nil
			}
			err := startWithRetry(context.Background(), "dev", start, time.Millisecond, zaptest.NewLogger(t).Sugar())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, busy) {
				t.Errorf("err = %v, want the last start error", err)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestStartWithRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	start := func() error {
		calls++
		cancel()
		return errors.New("busy")
	}
	err := startWithRetry(ctx, "dev", start, time.Hour, zaptest.NewLogger(t).Sugar())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
