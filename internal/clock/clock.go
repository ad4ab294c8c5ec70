// Package clock abstracts the time source so pipeline stages and tests
// can agree on "now".
package clock

import "time"

// Clock supplies the current time in UTC.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock.
type System struct{}

// NewSystem creates a System clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Test helper.
type Fixed struct {
	At time.Time
}

// NewFixed pins the clock to at (normalized to UTC).
func NewFixed(at time.Time) *Fixed {
	return &Fixed{At: at.UTC()}
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.At
}
