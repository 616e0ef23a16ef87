package backoff

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// SleepFunc waits for d or until ctx is done, whichever comes first. It returns
// the context error when the wait was cut short.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleeper returns a SleepFunc driven by clk.
func Sleeper(clk clock.Clock) SleepFunc {
	return func(ctx context.Context, d time.Duration) error {
		if d <= 0 {
			return ctx.Err()
		}

		timer := clk.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return nil
		}
	}
}

// Sleep waits on the real clock.
//
//nolint:gochecknoglobals // stateless default
var Sleep = Sleeper(clock.RealClock{})
