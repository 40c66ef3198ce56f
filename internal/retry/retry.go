package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"codeberg.org/mutker/datasyncd/internal/logger"
)

// Policy retries an operation with exponential backoff and optional jitter.
// The zero value is not usable; call sites configure attempts and delays for
// their failure mode (sensor read, storage write, HTTP delivery).
type Policy struct {
	// MaxAttempts caps the number of attempts. 0 means retry until the
	// context is cancelled; 1 disables retries.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt. Defaults to 1s.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Defaults to 30s.
	MaxDelay time.Duration

	// NoJitter removes the default 95%-105% jitter.
	NoJitter bool
}

// Operation is a retryable unit of work. Returning a nil error stops the
// policy; a non-nil error triggers another attempt when the budget allows.
type Operation func(ctx context.Context) error

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx is
// cancelled. The returned error is the last attempt's error, or ctx.Err()
// on cancellation.
func (p Policy) Do(ctx context.Context, name string, op Operation) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		delay := p.nextDelay(attempt)
		if (p.MaxAttempts > 0 && attempt >= p.MaxAttempts) || ctx.Err() != nil {
			return err
		}

		logger.Debug().
			Str("operation", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after failure")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p Policy) nextDelay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}

	// Clamp the exponent so the factor never overshoots MaxDelay.
	factor := math.Pow(2, math.Min(
		float64(attempt-1),
		math.Log2(float64(maxDelay)/float64(base)),
	))
	if !p.NoJitter {
		factor *= 0.95 + 0.1*rand.Float64() // #nosec G404
	}

	delay := time.Duration(factor * float64(base))
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}
