// Package clock provides the time source abstraction and the wall-clock
// runtime budget used for graceful early exit.
package clock

import "time"

// Clock supplies the current time. Injected so tests can pin "today".
type Clock interface {
	Now() time.Time
}

// System implements Clock using the real time in UTC.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}
