package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_TripsAndRecovers(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	cb := newCircuitBreaker(BreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMaxReqs: 1}, now)

	assert.True(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	cb.OnFailure()
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())

	clock = clock.Add(2 * time.Minute)
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one probe in half-open")

	cb.OnSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := time.Now()
	cb := newCircuitBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Second}, func() time.Time { return clock })

	cb.OnFailure()
	clock = clock.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	cb.OnFailure()
	assert.Equal(t, BreakerOpen, cb.State())

	cb.Reset()
	assert.Equal(t, BreakerClosed, cb.State())
}

func TestBreakerSet_PerCollaborator(t *testing.T) {
	set := newBreakerSet(BreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}, time.Now)
	set.forAction(ActionSendEmail).OnFailure()

	assert.False(t, set.forAction(ActionSendEmail).Allow())
	assert.True(t, set.forAction(ActionMoveCard).Allow())
	assert.Same(t, set.forAction(ActionMoveCard), set.forAction(ActionAddTag))

	states := set.States()
	assert.Equal(t, "open", states["mailer"])
	assert.Equal(t, "closed", states["board"])

	var disabled *breakerSet
	assert.Nil(t, disabled.forAction(ActionSendEmail))
	assert.Empty(t, disabled.States())
}
