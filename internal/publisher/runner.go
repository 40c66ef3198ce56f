package publisher

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/datasyncd/internal/control"
	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"codeberg.org/mutker/datasyncd/internal/retry"
	"codeberg.org/mutker/datasyncd/internal/telemetry"
)

// publishMinute is how many minutes past the hour a cycle fires, giving the
// collector time to flush the last readings of the previous hour.
const publishMinute = 4

// Runner is the aggregate-and-deliver protocol shared by all publishers:
// resume from the durable checkpoint, walk complete hourly windows in
// order, deliver each with bounded retry, and advance the checkpoint only
// on acknowledged delivery. Each runner owns its checkpoint; runners never
// coordinate with each other or with the collector except through the
// record store.
type Runner struct {
	name          string
	source        Source
	endpoint      *Endpoint
	ctrl          *control.File
	telemetry     telemetry.Collector
	checkInterval time.Duration
	delivery      retry.Policy

	forceStopped atomic.Bool
	lastCycle    time.Time
	now          func() time.Time
}

func NewRunner(
	name string,
	source Source,
	endpoint *Endpoint,
	ctrl *control.File,
	tel telemetry.Collector,
	checkInterval time.Duration,
	maxRetries int,
) *Runner {
	return &Runner{
		name:          name,
		source:        source,
		endpoint:      endpoint,
		ctrl:          ctrl,
		telemetry:     tel,
		checkInterval: checkInterval,
		delivery: retry.Policy{
			MaxAttempts: maxRetries,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
		},
		now: time.Now,
	}
}

func (r *Runner) Name() string {
	return r.name
}

// ForceStop stops the loop even before the control document is rewritten,
// so shutdown does not wait out a poll interval.
func (r *Runner) ForceStop() {
	r.forceStopped.Store(true)
}

// Run polls the control document at the configured cadence and executes a
// publish cycle immediately on start and then once per hour at
// publishMinute past. The loop exits when the document or a ForceStop says
// STOPPED; the checkpoint is left wherever the last acknowledged window
// put it.
func (r *Runner) Run(ctx context.Context) {
	logger.Info().Str("publisher", r.name).Msg("Publisher started")
	defer logger.Info().Str("publisher", r.name).Msg("Publisher stopped")

	first := true
	for {
		if r.forceStopped.Load() || ctx.Err() != nil {
			return
		}

		state, err := r.ctrl.Component(r.name)
		if err != nil {
			// Keep the applied state for this decision; the document may
			// be mid-rewrite by an operator.
			logger.Debug().Str("publisher", r.name).Err(err).
				Msg("Control document unreadable, keeping state")
		} else if state != control.StateRunning {
			return
		}

		now := r.now()
		if first || r.cycleDue(now) {
			if err := r.Cycle(ctx); err != nil {
				logger.Warn().Str("publisher", r.name).Err(err).Msg("Publish cycle incomplete")
			}
			r.lastCycle = now
			first = false
		}

		if !r.sleep(ctx) {
			return
		}
	}
}

func (r *Runner) cycleDue(now time.Time) bool {
	if now.Minute() < publishMinute {
		return false
	}

	return !r.lastCycle.Truncate(time.Hour).Equal(now.Truncate(time.Hour))
}

// Cycle publishes every complete, unacknowledged hourly window in
// timestamp order. The first failure stops the cycle so a later window can
// never checkpoint ahead of an earlier one; pending windows are retried on
// the next cycle (at-least-once delivery).
func (r *Runner) Cycle(ctx context.Context) error {
	now := r.now()

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if checkpoint, ok, err := r.ctrl.Checkpoint(r.name); err != nil {
		return err
	} else if ok {
		start = checkpoint.Add(time.Hour)
	}

	for window := start; !window.Add(time.Hour).After(now); window = window.Add(time.Hour) {
		record, err := r.source.Aggregate(window)
		if err != nil {
			return err
		}

		if record != nil {
			attempts := 0
			err = r.delivery.Do(ctx, r.name+"_delivery", func(ctx context.Context) error {
				attempts++
				return r.endpoint.Deliver(ctx, record)
			})

			if recErr := r.telemetry.RecordPublish(ctx, r.name, window, attempts, err); recErr != nil {
				logger.Debug().Err(recErr).Msg("Failed to record publish telemetry")
			}
			if err != nil {
				return err
			}

			logger.Info().
				Str("publisher", r.name).
				Str("window", record.WindowTimestamp()).
				Int("attempts", attempts).
				Msg("Window published")
		}

		if err := r.ctrl.SetCheckpoint(r.name, window); err != nil {
			return errors.New().Wrap(ErrCheckpointFailed, err)
		}
	}

	return nil
}

func (r *Runner) sleep(ctx context.Context) bool {
	timer := time.NewTimer(r.checkInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
