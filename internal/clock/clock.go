// Package clock defines the time source shared by pollers, job retention and
// firmware pacing so tests can drive them without real timers.
package clock

import "time"

// Clock returns the current time and schedules future wake-ups.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
	After(d time.Duration) <-chan time.Time
}

// Ticker delivers ticks on C until stopped. A tick that arrives while the
// previous one is still unread is dropped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}
