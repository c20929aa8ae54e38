package sync

import "sync/atomic"

// Canceler is a thread-safe, wait-free, monotonic cancellation probe (§4.1).
// Every component that loops, waits, or issues a remote call consults
// IsCanceled at loop heads. Once true, a Canceler never reports false again.
type Canceler interface {
	IsCanceled() bool
}

// ManualCanceler is a user-triggered latch: Cancel() atomically stores true.
type ManualCanceler struct {
	canceled atomic.Bool
}

// NewManualCanceler returns a ManualCanceler in the not-canceled state.
func NewManualCanceler() *ManualCanceler {
	return &ManualCanceler{}
}

// Cancel atomically marks this canceler as canceled. Idempotent.
func (c *ManualCanceler) Cancel() {
	c.canceled.Store(true)
}

// IsCanceled implements Canceler.
func (c *ManualCanceler) IsCanceled() bool {
	return c.canceled.Load()
}

// futureCancelProbe is satisfied by any future/task handle that exposes its
// own cancellation state, letting a FutureTrackingCanceler delegate to it
// without this package depending on a concrete future type.
type futureCancelProbe interface {
	IsCanceled() bool
}

// FutureTrackingCanceler delegates IsCanceled to an external future's
// cancellation flag (§4.1's "future-tracking" variant).
type FutureTrackingCanceler struct {
	future futureCancelProbe
}

// NewFutureTrackingCanceler wraps a future-like handle.
func NewFutureTrackingCanceler(future futureCancelProbe) *FutureTrackingCanceler {
	return &FutureTrackingCanceler{future: future}
}

// IsCanceled implements Canceler.
func (c *FutureTrackingCanceler) IsCanceled() bool {
	return c.future.IsCanceled()
}

// AnyOfCanceler reports canceled if any contained Canceler reports
// canceled (§4.1's "any-of" composite).
type AnyOfCanceler struct {
	cancelers []Canceler
}

// NewAnyOfCanceler composes zero or more Cancelers.
func NewAnyOfCanceler(cancelers ...Canceler) *AnyOfCanceler {
	return &AnyOfCanceler{cancelers: cancelers}
}

// IsCanceled implements Canceler.
func (c *AnyOfCanceler) IsCanceled() bool {
	for _, sub := range c.cancelers {
		if sub.IsCanceled() {
			return true
		}
	}

	return false
}

// Compile-time interface assertions.
var (
	_ Canceler = (*ManualCanceler)(nil)
	_ Canceler = (*FutureTrackingCanceler)(nil)
	_ Canceler = (*AnyOfCanceler)(nil)
)
