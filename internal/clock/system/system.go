// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock implements quest.Clock using time.Now truncated to whole seconds, the
// resolution persisted by every seen-set backend.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Fixed is a Clock frozen at a single instant.
type Fixed struct {
	At time.Time
}

// Now returns the frozen instant.
func (f Fixed) Now() time.Time {
	return f.At
}
