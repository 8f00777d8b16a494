package keepawake

import "time"

// Clock abstracts time so trigger arithmetic is testable without waiting
// for wall-clock boundaries.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer abstracts a single pending callback.
type Timer interface {
	Stop() bool
}

// realClock implements Clock using the real time package.
type realClock struct{}

// NewRealClock returns a Clock backed by the time package.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
