package state

import (
	"context"
	"time"

	"github.com/leonardcser/jsonstate/internal/logger"
)

// StartJanitor sweeps s every interval until ctx is cancelled. The returned
// channel is closed once the goroutine has exited.
func StartJanitor(ctx context.Context, s Sweeper, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	t := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				runSweep(ctx, s)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done
}

func runSweep(ctx context.Context, s Sweeper) {
	purged, err := s.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("janitor sweep failed after %d entries: %v", purged, err)
		}
		return
	}
	if purged > 0 {
		logger.Debugf("janitor purged %d expired entries", purged)
	}
}
