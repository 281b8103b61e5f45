// Package system provides a real clock implementation.
package system

import (
	"time"

	"github.com/omzlo/nocan-node-manager/internal/clock"
)

// Clock implements clock.Clock on top of the time package.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NewTicker wraps time.NewTicker.
func (Clock) NewTicker(d time.Duration) clock.Ticker {
	return &ticker{t: time.NewTicker(d)}
}

// After wraps time.After.
func (Clock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type ticker struct {
	t *time.Ticker
}

func (t *ticker) C() <-chan time.Time { return t.t.C }

func (t *ticker) Stop() { t.t.Stop() }
