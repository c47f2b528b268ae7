package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// Sweeper is the part of a Cache the background sweep needs.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// StartSweeper runs c.Sweep every interval on its own goroutine until the
// returned stop function is called. onSweep, if set, receives each sweep's
// eviction count. Intervals under a second are rounded up to one second.
func StartSweeper(ctx context.Context, c Sweeper, interval time.Duration, logger log.Logger, onSweep func(evicted int)) (func(context.Context) error, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	// sweeps outlive the request that started the process
	sweepCtx := context.WithoutCancel(ctx)

	cr := cron.New()
	if _, err := cr.AddFunc("@every "+interval.String(), func() {
		sweepOnce(sweepCtx, c, logger, onSweep)
	}); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	cr.Start()

	return func(stopCtx context.Context) error {
		done := cr.Stop()
		select {
		case <-done.Done():
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}, nil
}

func sweepOnce(ctx context.Context, c Sweeper, logger log.Logger, onSweep func(int)) {
	start := time.Now()
	n, err := c.Sweep(ctx)
	if err != nil {
		logger.Error(ctx, err, "session sweep failed")
		return
	}
	if onSweep != nil {
		onSweep(n)
	}
	if n > 0 {
		logger.Info(ctx, "session sweep", "evicted", n, "duration", time.Since(start).Seconds())
	}
}
