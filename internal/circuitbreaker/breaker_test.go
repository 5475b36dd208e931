package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := New(Thresholds{MaxConsecutiveFailures: 3})
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")
	assert.True(t, cb.Allow(), "Closed circuit should allow attempts")

	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should stay closed below the threshold")

	cb.RecordSuccess()
	cb.RecordFailure("timeout")
	cb.RecordFailure("timeout")
	assert.Equal(t, StateClosed, cb.GetState(), "Success should reset the consecutive failure count")
}

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New(Thresholds{MaxConsecutiveFailures: 2}).WithResetDelay(time.Minute).WithClock(clock.Now)

	cb.RecordFailure("connection refused")
	cb.RecordFailure("connection refused")
	require.Equal(t, StateOpen, cb.GetState(), "Circuit should open at the threshold")
	assert.False(t, cb.Allow(), "Open circuit should block attempts during cool-down")
	assert.Equal(t, clock.Now().Add(time.Minute), cb.OpenUntil())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New(Thresholds{MaxConsecutiveFailures: 1}).WithResetDelay(30 * time.Second).WithClock(clock.Now)

	cb.RecordFailure("rate limited")
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(31 * time.Second)
	assert.True(t, cb.Allow(), "Cool-down elapsed, attempt should be allowed")
	assert.Equal(t, StateHalfOpen, cb.GetState(), "Circuit should be half-open after cool-down")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState(), "Success in half-open state should close the circuit")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := New(Thresholds{MaxConsecutiveFailures: 3}).WithResetDelay(10 * time.Second).WithClock(clock.Now)

	for i := 0; i < 3; i++ {
		cb.RecordFailure("timeout")
	}
	clock.Advance(11 * time.Second)
	require.True(t, cb.Allow())

	cb.RecordFailure("timeout")
	assert.Equal(t, StateOpen, cb.GetState(), "A single failure in half-open state should re-open the circuit")
	assert.False(t, cb.Allow(), "Re-opened circuit should start a new cool-down")
}

func TestCircuitBreaker_TripCallback(t *testing.T) {
	reasons := make(chan string, 1)
	cb := New(Thresholds{MaxConsecutiveFailures: 1}).WithTripCallback(func(reason string) {
		reasons <- reason
	})

	cb.RecordFailure("dial tcp: i/o timeout")

	select {
	case reason := <-reasons:
		assert.Equal(t, "dial tcp: i/o timeout", reason)
	case <-time.After(time.Second):
		t.Fatal("Trip callback was not invoked")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

func TestCircuitBreaker_SuccessWhileOpenCloses(t *testing.T) {
	cb := New(Thresholds{MaxConsecutiveFailures: 1}).WithResetDelay(time.Hour)
	cb.RecordFailure("timeout")
	require.Equal(t, StateOpen, cb.GetState())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.GetState(), "An endpoint that answers while cooling down is healthy again")
}

func TestCircuitBreaker_TripLeavesReportingToCallback(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	cb := New(Thresholds{MaxConsecutiveFailures: 1})
	cb.RecordFailure("timeout")

	require.Equal(t, StateOpen, cb.GetState())
	assert.Empty(t, hook.AllEntries(), "Tripping without a callback logs nothing")
}
