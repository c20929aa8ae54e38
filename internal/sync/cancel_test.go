package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFuture struct {
	canceled bool
}

func (f *fakeFuture) IsCanceled() bool {
	return f.canceled
}

func TestManualCanceler(t *testing.T) {
	t.Parallel()

	c := NewManualCanceler()
	assert.False(t, c.IsCanceled())

	c.Cancel()
	assert.True(t, c.IsCanceled())

	// Monotonic: canceling again changes nothing.
	c.Cancel()
	assert.True(t, c.IsCanceled())
}

func TestFutureTrackingCanceler(t *testing.T) {
	t.Parallel()

	future := &fakeFuture{}
	c := NewFutureTrackingCanceler(future)
	assert.False(t, c.IsCanceled())

	future.canceled = true
	assert.True(t, c.IsCanceled())
}

func TestAnyOfCanceler(t *testing.T) {
	t.Parallel()

	a := NewManualCanceler()
	b := NewManualCanceler()
	composite := NewAnyOfCanceler(a, b)

	assert.False(t, composite.IsCanceled())

	b.Cancel()
	assert.True(t, composite.IsCanceled())
}

func TestAnyOfCancelerEmpty(t *testing.T) {
	t.Parallel()

	composite := NewAnyOfCanceler()
	assert.False(t, composite.IsCanceled())
}
