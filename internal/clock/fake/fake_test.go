package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickerFiresOnAdvance(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	tk := clk.NewTicker(500 * time.Millisecond)
	defer tk.Stop()

	clk.Advance(499 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	clk.Advance(time.Millisecond)
	select {
	case got := <-tk.C():
		require.Equal(t, time.Unix(0, 0).Add(500*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire")
	}
}

func TestTickerDropsUnreadTicks(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	tk := clk.NewTicker(time.Second)

	clk.Advance(5 * time.Second)
	require.Len(t, tk.C(), 1)
	<-tk.C()
	require.Empty(t, tk.C())

	tk.Stop()
	require.Zero(t, clk.Waiters())
	clk.Advance(time.Second)
	require.Empty(t, tk.C())
}

func TestAfter(t *testing.T) {
	t.Parallel()

	clk := New(time.Unix(0, 0))
	ch := clk.After(time.Minute)
	require.Equal(t, 1, clk.Waiters())

	clk.Advance(30 * time.Second)
	require.Empty(t, ch)

	clk.Advance(30 * time.Second)
	require.Len(t, ch, 1)
	require.Zero(t, clk.Waiters())

	immediate := clk.After(0)
	require.Len(t, immediate, 1)
}
