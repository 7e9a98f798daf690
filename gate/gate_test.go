package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func testPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		MinDelay:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Factor:      2,
		CallTimeout: time.Second,
	}
}

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	g := New(testPolicy(), 1000, 10, isTransient)

	calls := 0
	err := g.Do(context.Background(), "place_order", func(ctx context.Context) error {
		calls++
		if calls <= 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, calls, "three rate-limited attempts then one success")
}

func TestDoStopsOnPermanentError(t *testing.T) {
	g := New(testPolicy(), 1000, 10, isTransient)

	calls := 0
	err := g.Do(context.Background(), "place_order", func(ctx context.Context) error {
		calls++
		return errPermanent
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestDoExhaustsAttempts(t *testing.T) {
	g := New(testPolicy(), 1000, 10, isTransient)

	calls := 0
	err := g.Do(context.Background(), "cancel_order", func(ctx context.Context) error {
		calls++
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "cancel_order failed after 4 attempts")
}

func TestDoBackoffDelaysIncrease(t *testing.T) {
	p := testPolicy()
	p.MinDelay = 10 * time.Millisecond
	p.MaxDelay = 200 * time.Millisecond
	g := New(p, 1000, 10, isTransient)

	var stamps []time.Time
	_ = g.Do(context.Background(), "query", func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errTransient
	})

	require.Len(t, stamps, 4)
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	assert.Greater(t, second, first, "backoff delay should grow between attempts")
}

func TestDoRespectsContextCancellation(t *testing.T) {
	g := New(testPolicy(), 1000, 10, isTransient)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := g.Do(ctx, "query", func(ctx context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoSucceedsFirstTry(t *testing.T) {
	g := New(testPolicy(), 1000, 10, isTransient)

	calls := 0
	err := g.Do(context.Background(), "price", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestNewFillsDefaults(t *testing.T) {
	g := New(Policy{}, 10, 1, nil)
	assert.Equal(t, DefaultPolicy().MaxAttempts, g.policy.MaxAttempts)
	assert.Equal(t, DefaultPolicy().MinDelay, g.policy.MinDelay)

	// nil classifier means nothing is retryable
	calls := 0
	err := g.Do(context.Background(), "x", func(ctx context.Context) error {
		calls++
		return errTransient
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
