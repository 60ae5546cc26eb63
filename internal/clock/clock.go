// Package clock provides an injectable time source so time-dependent
// managers can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts time access for testability
type Clock interface {
	Now() time.Time
}

// Real returns the system clock
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// Fixed is a settable clock for tests
type Fixed struct {
	Current time.Time
}

// NewFixed creates a fixed clock starting at t
func NewFixed(t time.Time) *Fixed {
	return &Fixed{Current: t}
}

func (f *Fixed) Now() time.Time {
	return f.Current
}

// Advance moves the fixed clock forward by d
func (f *Fixed) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}
