package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errConflict = errors.New("serialization failure")

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func TestOnceOnConflict_RetriesExactlyOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), OnceOnConflict(isConflict), func() error {
		calls++
		return errConflict
	})

	assert.ErrorIs(t, err, errConflict)
	assert.Equal(t, 2, calls)
}

func TestOnceOnConflict_SecondAttemptSucceeds(t *testing.T) {
	calls := 0
	err := Do(context.Background(), OnceOnConflict(isConflict), func() error {
		calls++
		if calls == 1 {
			return errConflict
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestOnceOnConflict_OtherErrorsNotRetried(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	err := Do(context.Background(), OnceOnConflict(isConflict), func() error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithLog_BackoffAndExhaustion(t *testing.T) {
	cfg := Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
	var logged []int

	err := DoWithLog(context.Background(), cfg, "postgres", func() error {
		return errors.New("down")
	}, func(attempt int, err error, next time.Duration) {
		logged = append(logged, attempt)
	})

	assert.ErrorContains(t, err, "postgres: max retry attempts (3) exceeded")
	assert.Equal(t, []int{1, 2}, logged)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, DefaultConfig(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
