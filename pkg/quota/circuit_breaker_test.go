package quota

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestDefaultCircuitBreaker(t *testing.T) {
	threshold := 3
	timeout := 30 * time.Second
	clock := &fakeClock{now: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)}

	var lastState CircuitBreakerState
	cb := NewDefaultCircuitBreaker(threshold, timeout, func(state CircuitBreakerState) {
		lastState = state
	})
	cb.now = clock.Now

	ctx := context.Background()
	fail := func() error { return errors.New("fail") }
	ok := func() error { return nil }

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < threshold-1; i++ {
		assert.Error(t, cb.Execute(ctx, fail))
		assert.Equal(t, StateClosed, cb.State())
	}

	// Next failure opens the circuit
	assert.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, StateOpen, lastState)

	// Fail fast while open
	called := false
	err := cb.Execute(ctx, func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(timeout)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Probe succeeds
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, StateClosed, lastState)

	// Open again, then fail the probe
	for i := 0; i < threshold; i++ {
		_ = cb.Execute(ctx, fail)
	}
	assert.Equal(t, StateOpen, cb.State())
	clock.Advance(timeout)
	assert.Equal(t, StateHalfOpen, cb.State())

	err = cb.Execute(ctx, fail)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestDefaultCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewDefaultCircuitBreaker(2, time.Minute, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return errors.New("fail") })
	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("fail") })

	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaultCircuitBreaker_CanceledContextIsNotAFailure(t *testing.T) {
	cb := NewDefaultCircuitBreaker(1, time.Minute, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

func TestDefaultCircuitBreaker_Defaults(t *testing.T) {
	cb := NewDefaultCircuitBreaker(0, 0, nil)
	assert.Equal(t, 5, cb.failureThreshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
}

type flakyStorage struct {
	fail  bool
	calls int
}

func (f *flakyStorage) GetUsed(_ context.Context, _, _ string, _ Kind) (int, error) {
	f.calls++
	if f.fail {
		return 0, errors.New("db error")
	}
	return 7, nil
}

func (f *flakyStorage) Increment(_ context.Context, _, _ string, _ Kind) (int, error) {
	f.calls++
	if f.fail {
		return 0, errors.New("db error")
	}
	return 8, nil
}

func TestCircuitBreakerStorage(t *testing.T) {
	inner := &flakyStorage{}
	storage := NewCircuitBreakerStorage(inner, NewDefaultCircuitBreaker(2, time.Minute, nil))
	ctx := context.Background()

	used, err := storage.GetUsed(ctx, "s", "2024-07-01", KindPrompt)
	assert.NoError(t, err)
	assert.Equal(t, 7, used)

	used, err = storage.Increment(ctx, "s", "2024-07-01", KindPrompt)
	assert.NoError(t, err)
	assert.Equal(t, 8, used)

	inner.fail = true
	_, err = storage.Increment(ctx, "s", "2024-07-01", KindPrompt)
	assert.Error(t, err)
	_, err = storage.Increment(ctx, "s", "2024-07-01", KindPrompt)
	assert.Error(t, err)

	callsBefore := inner.calls
	_, err = storage.GetUsed(ctx, "s", "2024-07-01", KindPrompt)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, callsBefore, inner.calls, "open circuit must not reach storage")
}
