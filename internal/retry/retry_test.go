package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = Policy{Attempts: 3, BaseDelay: time.Millisecond}

func TestDo_FirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fast, func(int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SucceedsOnRetry(t *testing.T) {
	var seen []int
	err := Do(context.Background(), fast, func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDo_Exhausted(t *testing.T) {
	sentinel := errors.New("always")
	calls := 0
	err := Do(context.Background(), fast, func(int) error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, BaseDelay: time.Millisecond}, func(int) error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
	assert.Nil(t, Permanent(nil))
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, BaseDelay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(int) error {
		calls++
		return errors.New("fail")
	})
	assert.Equal(t, 1, calls)
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
