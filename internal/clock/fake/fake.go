// Package fake provides a manually advanced clock for tests.
package fake

import (
	"sync"
	"time"

	"github.com/omzlo/nocan-node-manager/internal/clock"
)

// Clock only moves when Advance is called. Tickers and timers registered on it
// fire synchronously from Advance.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	tickers map[*ticker]struct{}
	timers  []*timer
}

var _ clock.Clock = (*Clock)(nil)

// New creates a Clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{
		now:     start,
		tickers: make(map[*ticker]struct{}),
	}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NewTicker registers a ticker firing every d of fake time.
func (c *Clock) NewTicker(d time.Duration) clock.Ticker {
	if d <= 0 {
		panic("fake: non-positive interval for NewTicker")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &ticker{
		clk:    c,
		period: d,
		next:   c.now.Add(d),
		ch:     make(chan time.Time, 1),
	}
	c.tickers[t] = struct{}{}
	return t
}

// After returns a channel that receives once d of fake time has elapsed.
func (c *Clock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.timers = append(c.timers, &timer{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward, firing every ticker and timer that becomes
// due. Ticks that cannot be delivered because the previous one is unread are
// dropped.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)

	for t := range c.tickers {
		for !t.next.After(c.now) {
			select {
			case t.ch <- t.next:
			default:
			}
			t.next = t.next.Add(t.period)
		}
	}

	pending := c.timers[:0]
	for _, tm := range c.timers {
		if tm.at.After(c.now) {
			pending = append(pending, tm)
			continue
		}
		tm.ch <- tm.at
	}
	c.timers = pending
}

// Waiters reports how many active tickers and pending timers are registered.
func (c *Clock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tickers) + len(c.timers)
}

type ticker struct {
	clk    *Clock
	period time.Duration
	next   time.Time
	ch     chan time.Time
}

func (t *ticker) C() <-chan time.Time { return t.ch }

func (t *ticker) Stop() {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	delete(t.clk.tickers, t)
}

type timer struct {
	at time.Time
	ch chan time.Time
}
