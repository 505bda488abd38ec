package counters

import (
	"go.uber.org/atomic"
)

// StrictMonotonicCounter is a helper struct which implements a strictly
// monotonically increasing counter. It is implemented using atomic operations
// and doesn't allow setting a value which is lower than or equal to the
// already stored one.
type StrictMonotonicCounter struct {
	atomicCounter *atomic.Uint64
}

// NewMonotonicCounter creates a new counter with the given initial value.
func NewMonotonicCounter(initial uint64) StrictMonotonicCounter {
	return StrictMonotonicCounter{
		atomicCounter: atomic.NewUint64(initial),
	}
}

// Set updates the value of the counter if it is strictly larger than the
// already stored one, and reports whether the update took place.
func (c StrictMonotonicCounter) Set(processing uint64) bool {
	for {
		old := c.atomicCounter.Load()
		if processing <= old {
			return false
		}
		if c.atomicCounter.CompareAndSwap(old, processing) {
			return true
		}
	}
}

// Value returns the current stored value.
func (c StrictMonotonicCounter) Value() uint64 {
	return c.atomicCounter.Load()
}

// Increment atomically increments the counter and returns the new value.
func (c StrictMonotonicCounter) Increment() uint64 {
	return c.atomicCounter.Add(1)
}
