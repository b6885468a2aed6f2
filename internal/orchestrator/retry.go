package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// #region constants

const maxStartRetries = 2 // max 2 retries = 3 total attempts

// #endregion

// #region start-retry

// startWithRetry calls start until it succeeds, the attempts run out or ctx
// ends. The last error is returned.
func startWithRetry(ctx context.Context, name string, start func() error, backoff time.Duration, log *zap.SugaredLogger) error {
	var err error
	for attempt := 0; attempt <= maxStartRetries; attempt++ {
		if attempt > 0 {
			log.Warnw("hardware start failed, retrying", "process", name, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return fmt.Errorf("start %s: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}
		if err = start(); err == nil {
			return nil
		}
	}
	return err
}

// #endregion
