package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("connection refused")

func TestPolicy_SucceedsOnLaterAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Millisecond}
	var notified []int
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		notified = append(notified, attempt)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, time.Millisecond, wait)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, notified)
}

func TestPolicy_Exhausted(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: 0}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	}, nil)
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errTransient)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 5, exhausted.Attempts)
	assert.Equal(t, "could not complete operation after 5 attempts: connection refused", err.Error())
}

func TestPolicy_Permanent(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: 0}
	calls := 0
	errBad := errors.New("bad query")
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errBad)
	}, nil)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errBad)
	assert.NotErrorIs(t, err, ErrExhausted)
}

func TestPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 5, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		}, func(int, error, time.Duration) { cancel() })
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return errTransient
	}, nil)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, ErrExhausted)
}
