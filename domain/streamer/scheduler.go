package streamer

import (
	"context"
	"time"
)

type Scheduler interface {
	Wait(ctx context.Context, d time.Duration) error
}

type TimerScheduler struct{}

func (TimerScheduler) Wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
