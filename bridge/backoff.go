package bridge

import (
	"context"
	"fmt"
	"time"
)

const (
	initialBackoff = time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// pollUntil calls check until it reports done or fails, sleeping between
// attempts with exponential backoff. It gives up with ErrTimeout once the
// deadline passes or ctx ends.
func pollUntil(ctx context.Context, deadline time.Time, check func() (bool, error)) error {
	delay := initialBackoff
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for attempt := 1; ; attempt++ {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w after %d attempts", ErrTimeout, attempt)
		}
		if delay > remaining {
			delay = remaining
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}
