package firmware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock/fake"
	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
)

func TestMemoryProgrammerWriteThenRead(t *testing.T) {
	t.Parallel()

	p := NewMemoryProgrammer(fake.New(time.Unix(0, 0)), 0, zap.NewNop())
	p.Attach(3)

	img := &intelhex.Image{}
	img.Add(0, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	var writeProgress []uint
	err := p.Write(context.Background(), 3, EEPROM, img, func(pct uint) {
		writeProgress = append(writeProgress, pct)
	})
	require.NoError(t, err)
	require.Equal(t, []uint{100}, writeProgress)

	var readProgress []uint
	read, err := p.Read(context.Background(), 3, EEPROM, 2*PageSize, func(pct uint) {
		readProgress = append(readProgress, pct)
	})
	require.NoError(t, err)
	require.Equal(t, []uint{50, 100}, readProgress)
	require.Len(t, read.Blocks, 1)
	require.Equal(t, 2*PageSize, len(read.Blocks[0].Data))
	require.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF, 0xFF}, read.Blocks[0].Data[:5])
}

func TestMemoryProgrammerErrors(t *testing.T) {
	t.Parallel()

	p := NewMemoryProgrammer(fake.New(time.Unix(0, 0)), 0, nil)
	p.Attach(1)

	_, err := p.Read(context.Background(), 9, Flash, PageSize, nil)
	require.ErrorIs(t, err, ErrNoAck)

	_, err = p.Read(context.Background(), 1, EEPROM, MaxEEPROMSize+1, nil)
	require.ErrorIs(t, err, ErrSizeExceeded)

	_, err = p.Read(context.Background(), 1, EEPROM, PageSize+1, nil)
	require.ErrorIs(t, err, ErrUnaligned)

	img := &intelhex.Image{}
	img.Add(MaxEEPROMSize-2, []byte{1, 2, 3})
	err = p.Write(context.Background(), 1, EEPROM, img, nil)
	require.ErrorIs(t, err, ErrSizeExceeded)

	wrapped := &intelhex.Image{Blocks: []intelhex.Block{{Address: 0xFFFFFFF0, Data: make([]byte, 16)}}}
	err = p.Write(context.Background(), 1, Flash, wrapped, nil)
	require.ErrorIs(t, err, ErrSizeExceeded)
}

func TestMemoryProgrammerReportsContacts(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Unix(100, 0))
	p := NewMemoryProgrammer(clk, 0, zap.NewNop())
	p.Attach(4)

	seen := make(map[uint8]time.Time)
	p.OnContact(func(node uint8, at time.Time) { seen[node] = at })

	require.NoError(t, p.Ping(context.Background(), 4))
	require.Equal(t, clk.Now(), seen[4])

	clk.Advance(time.Minute)
	_, err := p.Read(context.Background(), 4, EEPROM, PageSize, nil)
	require.NoError(t, err)
	require.Equal(t, clk.Now(), seen[4])

	clk.Advance(time.Minute)
	require.NoError(t, p.Reboot(context.Background(), 4))
	require.Equal(t, clk.Now(), seen[4])

	require.ErrorIs(t, p.Ping(context.Background(), 5), ErrNoAck)
	require.ErrorIs(t, p.Reboot(context.Background(), 5), ErrNoAck)
	_, ok := seen[5]
	require.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, p.Ping(ctx, 4), context.Canceled)
}

func TestMemoryProgrammerPacesPagesOnClock(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Unix(0, 0))
	p := NewMemoryProgrammer(clk, 10*time.Millisecond, zap.NewNop())
	p.Attach(2)

	done := make(chan error, 1)
	go func() {
		_, err := p.Read(context.Background(), 2, Flash, 2*PageSize, nil)
		done <- err
	}()

	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
		clk.Advance(10 * time.Millisecond)
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not finish")
	}
}

func TestMemoryProgrammerStopsOnCancel(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Unix(0, 0))
	p := NewMemoryProgrammer(clk, time.Second, zap.NewNop())
	p.Attach(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Write(ctx, 2, Flash, imageOf(PageSize), nil)
	}()

	require.Eventually(t, func() bool { return clk.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func imageOf(n int) *intelhex.Image {
	img := &intelhex.Image{}
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i)
	}
	img.Add(0, data)
	return img
}
