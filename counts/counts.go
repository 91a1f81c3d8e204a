// Package counts provides saturating event counters and a compact,
// human-readable rendering of their values.
package counts

import (
	"math"
	"sync/atomic"
)

// Counter counts events. It is safe for concurrent use and sticks at
// `math.MaxUint64` instead of wrapping around.
type Counter struct {
	n atomic.Uint64
}

// Inc increments the counter by one.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add increments the counter by `delta`, capped at `math.MaxUint64`.
func (c *Counter) Add(delta uint64) {
	for {
		old := c.n.Load()
		n := old + delta
		if n < old {
			// Overflow
			n = math.MaxUint64
		}
		if c.n.CompareAndSwap(old, n) {
			return
		}
	}
}

// Load returns the current count.
func (c *Counter) Load() uint64 {
	return c.n.Load()
}

// Human renders the current count; see `Human()`.
func (c *Counter) Human(unit string) string {
	n := c.Load()
	if n == math.MaxUint64 {
		return "∞ " + unit
	}
	return Human(n, unit)
}
