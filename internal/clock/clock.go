// Package clock abstracts the time source so stores and reports are testable.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// System implements Clock using time.Now.
type System struct{}

// NewSystem creates a system clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed is a Clock pinned to one instant, for tests.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.T
}
