package healthmon

import "time"

// Clock abstracts time-related operations so tick and backoff behavior can
// be tested without real timers.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Timer abstracts a single pending callback.
type Timer interface {
	Stop() bool
}
