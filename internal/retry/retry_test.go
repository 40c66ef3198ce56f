package retry_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSucceedsAfterFailures(t *testing.T) {
	policy := retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		NoJitter:    true,
	}

	attempts := 0
	err := policy.Do(context.Background(), "test_op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New().New(errors.ErrOperationFailed)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExhaustsAttempts(t *testing.T) {
	policy := retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		NoJitter:    true,
	}

	attempts := 0
	opErr := errors.New().New(errors.ErrUnavailable)
	err := policy.Do(context.Background(), "test_op", func(context.Context) error {
		attempts++
		return opErr
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.True(t, errors.HasCode(err, errors.ErrUnavailable), "last attempt error is returned")
}

func TestSingleAttemptDisablesRetry(t *testing.T) {
	policy := retry.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), "test_op", func(context.Context) error {
		attempts++
		return errors.New().New(errors.ErrOperationFailed)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestCancellationStopsRetries(t *testing.T) {
	policy := retry.Policy{
		MaxAttempts: 0, // unlimited
		BaseDelay:   50 * time.Millisecond,
		NoJitter:    true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := policy.Do(ctx, "test_op", func(context.Context) error {
		attempts++
		return errors.New().New(errors.ErrOperationFailed)
	})

	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "cancellation interrupts the backoff sleep")
	assert.GreaterOrEqual(t, attempts, 1)
}
