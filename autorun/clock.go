package autorun

import (
	"context"
	"time"

	"github.com/theckman/yacspin"
)

// Clock abstracts waiting so driver tests run instantly.
type Clock interface {
	// SleepUntil blocks until t or until ctx is done, whichever comes
	// first, returning the context error in the latter case.
	SleepUntil(ctx context.Context, t time.Time) error
}

type systemClock struct{}

func (systemClock) SleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SystemClock returns the real clock.
func SystemClock() Clock { return systemClock{} }

// SpinnerClock decorates a clock with a terminal spinner showing how long the
// driver is parked.  Only useful when stdout is a TTY.
type SpinnerClock struct {
	Clock
}

func (c SpinnerClock) SleepUntil(ctx context.Context, t time.Time) error {
	spin, err := yacspin.New(yacspin.Config{
		Frequency: 250 * time.Millisecond,
		CharSet:   yacspin.CharSets[59],
		Suffix:    " next measurement at " + t.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return c.Clock.SleepUntil(ctx, t)
	}
	spin.Start()
	err = c.Clock.SleepUntil(ctx, t)
	spin.Stop()
	return err
}
