package blob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

const (
	// DefaultAttempts is the default retry budget per call.
	DefaultAttempts = 10
	// DefaultDelay is the default pause between attempts.
	DefaultDelay = 2 * time.Second
)

// Policy is a fixed-count, fixed-delay retry budget.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Logger   *log.Logger
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Retry runs op until it succeeds, fails permanently or the budget runs out.
//
// ErrNotReady is always retried. ErrNotFound is retried too, unless
// allowMissing is set, in which case it is returned at once so the caller
// can treat the object as legitimately empty. Any other error fails fast.
func Retry(ctx context.Context, p Policy, allowMissing bool, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound) && allowMissing:
			return err
		case errors.Is(err, ErrNotReady), errors.Is(err, ErrNotFound):
			lastErr = err
			if p.Logger != nil {
				p.Logger.Printf("%v, retrying (%d/%d)", err, attempt, attempts)
			}
		default:
			return err
		}

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrUnavailable, attempts, lastErr)
}
