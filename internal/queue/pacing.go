package queue

import (
	"context"
	"math/rand"
	"time"
)

// Delay yields the wait inserted between two remote calls.
type Delay func() time.Duration

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Jitter returns a bounded uniform random delay in [lo, hi].
func Jitter(lo, hi time.Duration) Delay {
	if hi < lo {
		lo, hi = hi, lo
	}
	span := int64(hi - lo)
	return func() time.Duration {
		if span <= 0 {
			return lo
		}
		return lo + time.Duration(rand.Int63n(span+1))
	}
}

func Fixed(d time.Duration) Delay {
	return func() time.Duration { return d }
}

func NoDelay() time.Duration { return 0 }

// SleepContext is the default Sleeper. The timer is stopped when ctx ends
// so nothing fires after a stop or reset.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
