package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStopSynchronizationErrorNone(t *testing.T) {
	t.Parallel()

	var zero StopSynchronizationError
	assert.True(t, zero.None())
	assert.Equal(t, "none", zero.String())

	rateLimited := StopSynchronizationError{Kind: StopRateLimitReached, SecondsToWait: 30}
	assert.False(t, rateLimited.None())
	assert.Contains(t, rateLimited.String(), "30")

	expired := StopSynchronizationError{Kind: StopAuthenticationExpired}
	assert.False(t, expired.None())
	assert.Equal(t, "authentication expired", expired.String())
}

func TestConflictResolutionGenericZeroValue(t *testing.T) {
	t.Parallel()

	var r ConflictResolution[int]
	assert.Equal(t, UseTheirs, r.Kind)
}

func TestNowMillisMonotonicOrdering(t *testing.T) {
	t.Parallel()

	a := NowMillis()
	b := NowMillis()
	assert.True(t, a.Before(b) || a == b)
}
