package util

import "time"

// Clock abstracts time for the sequencer and solver loops.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// FixedClock always reports the same instant; After fires immediately.
// Block timestamps become reproducible in tests.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

func (c FixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.T
	return ch
}
