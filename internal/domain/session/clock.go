package session

import "time"

// Clock is the time source for sessions and the registry
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

// RealClock returns the wall clock. time.Now carries a monotonic reading,
// so durations between its values are immune to wall-clock jumps.
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
