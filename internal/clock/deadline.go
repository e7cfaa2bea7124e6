package clock

import "time"

// Deadline tracks the remaining wall-clock budget of a run. A zero budget
// means unbounded. Expired reports true once less than the safety margin
// remains, so the batch in flight can finish before the external caller's
// own deadline hits.
type Deadline struct {
	clock  Clock
	start  time.Time
	budget time.Duration
	margin time.Duration
}

// NewDeadline starts the budget countdown now.
func NewDeadline(c Clock, budget, margin time.Duration) *Deadline {
	return &Deadline{clock: c, start: c.Now(), budget: budget, margin: margin}
}

// Remaining returns the time left in the budget, never negative.
// Returns a large positive value for unbounded deadlines.
func (d *Deadline) Remaining() time.Duration {
	if d.budget <= 0 {
		return time.Duration(1<<62 - 1)
	}
	left := d.budget - d.clock.Now().Sub(d.start)
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether a new batch of work may no longer start.
func (d *Deadline) Expired() bool {
	if d.budget <= 0 {
		return false
	}
	return d.Remaining() < d.margin
}
