// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestTickerDelivers checks the ticker fires and can be stopped.
func TestTickerDelivers(t *testing.T) {
	t.Parallel()

	tk := New().NewTicker(5 * time.Millisecond)
	defer tk.Stop()

	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

// TestAfterFires checks the one-shot timer channel.
func TestAfterFires(t *testing.T) {
	t.Parallel()

	select {
	case <-New().After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("after did not fire")
	}
}
