package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(threshold int, cooldown time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker(BreakerConfig{FailureThreshold: threshold, Cooldown: cooldown})
	b.now = clock.Now
	return b, clock
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.IsAvailable())
	assert.Equal(t, BreakerClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.IsAvailable())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.IsAvailable())
}

func TestCircuitBreaker_HalfOpenAllowsSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	clock.Advance(59 * time.Second)
	assert.False(t, b.IsAvailable())

	clock.Advance(time.Second)
	assert.True(t, b.IsAvailable())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.IsAvailable())
	assert.False(t, b.IsAvailable())
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	require.True(t, b.IsAvailable())

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.IsAvailable())
	assert.True(t, b.IsAvailable())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	require.True(t, b.IsAvailable())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.IsAvailable())

	// the cooldown restarts from the failed trial
	clock.Advance(30 * time.Second)
	assert.False(t, b.IsAvailable())
	clock.Advance(30 * time.Second)
	assert.True(t, b.IsAvailable())
}

func TestCircuitBreaker_UnreportedTrialIsReissued(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.RecordFailure()
	clock.Advance(time.Minute)
	require.True(t, b.IsAvailable())
	require.False(t, b.IsAvailable())

	clock.Advance(time.Minute)
	assert.True(t, b.IsAvailable())
	assert.False(t, b.IsAvailable())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	b := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		OnStateChange: func(from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	clock := &fakeClock{now: time.Now()}
	b.now = clock.Now

	b.RecordFailure()
	clock.Advance(time.Minute)
	b.IsAvailable()
	b.RecordSuccess()

	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	b := NewCircuitBreaker(BreakerConfig{})

	assert.Equal(t, DefaultFailureThreshold, b.threshold)
	assert.Equal(t, DefaultBreakerCooldown, b.cooldown)
	assert.Equal(t, BreakerClosed, b.State())
}
