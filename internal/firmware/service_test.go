package firmware

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock/fake"
	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
)

type serviceHarness struct {
	clock      *fake.Clock
	programmer *MemoryProgrammer
	registry   *jobs.Registry
	service    *Service
}

func newServiceHarness(t *testing.T, pageDelay time.Duration) *serviceHarness {
	t.Helper()

	clk := fake.New(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	registry := jobs.NewRegistry(clk, time.Minute, zap.NewNop())
	programmer := NewMemoryProgrammer(clk, pageDelay, zap.NewNop())
	programmer.Attach(1)
	t.Cleanup(func() {
		cancel()
		registry.Wait()
	})
	return &serviceHarness{
		clock:      clk,
		programmer: programmer,
		registry:   registry,
		service:    NewService(ctx, programmer, registry, zap.NewNop()),
	}
}

func waitStatus(t *testing.T, job *jobs.Job, want jobs.Status) {
	t.Helper()
	require.Eventually(t, func() bool { return job.Status() == want }, time.Second, time.Millisecond)
}

func TestServiceUploadThenDownload(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, 0)

	up, err := h.service.StartUpload(1, EEPROM, imageOf(PageSize))
	require.NoError(t, err)
	waitStatus(t, up, jobs.StatusCompleted)
	result, name, ok := up.Result()
	require.True(t, ok)
	require.Equal(t, UploadResult, string(result))
	require.Equal(t, UploadFilename, name)

	down, err := h.service.StartDownload(1, EEPROM, 0)
	require.NoError(t, err)
	waitStatus(t, down, jobs.StatusCompleted)
	hexData, name, ok := down.Result()
	require.True(t, ok)
	require.Equal(t, DownloadFilename, name)

	img, err := intelhex.Decode(bytes.NewReader(hexData))
	require.NoError(t, err)
	require.Equal(t, int(MaxEEPROMSize), img.Size())
	require.Equal(t, imageOf(PageSize).Blocks[0].Data, img.Blocks[0].Data[:PageSize])
	require.False(t, h.service.Busy())
}

func TestServiceRejectsConcurrentTransfers(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, time.Second)

	first, err := h.service.StartDownload(1, EEPROM, PageSize)
	require.NoError(t, err)
	require.True(t, h.service.Busy())

	_, err = h.service.StartUpload(1, EEPROM, imageOf(8))
	require.ErrorIs(t, err, ErrBusy)

	require.Eventually(t, func() bool { return h.clock.Waiters() == 1 }, time.Second, time.Millisecond)
	h.clock.Advance(time.Second)
	waitStatus(t, first, jobs.StatusCompleted)
	require.False(t, h.service.Busy())

	_, err = h.service.StartDownload(1, EEPROM, PageSize)
	require.NoError(t, err)
}

func TestServiceValidation(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, 0)

	_, err := h.service.StartDownload(0, Flash, 0)
	require.ErrorIs(t, err, ErrReservedNode)

	_, err = h.service.StartDownload(1, Flash, MaxFlashSize+1)
	require.ErrorIs(t, err, ErrSizeExceeded)

	_, err = h.service.StartDownload(1, Flash, 100)
	require.ErrorIs(t, err, ErrUnaligned)

	img := &intelhex.Image{}
	img.Add(MaxEEPROMSize, []byte{1})
	_, err = h.service.StartUpload(1, EEPROM, img)
	require.ErrorIs(t, err, ErrSizeExceeded)
	require.False(t, h.service.Busy())
	require.Zero(t, h.registry.Len())
}

func TestServiceRejectsBlockAtTopOfAddressSpace(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, 0)

	const content = ":02000004FFFFFC\n" +
		":10FFF000000102030405060708090A0B0C0D0E0F89\n" +
		":00000001FF\n"
	img, err := intelhex.Decode(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, uint32(0xFFFFFFF0), img.Blocks[0].Address)
	require.Equal(t, uint64(1)<<32, img.Blocks[0].End())

	_, err = h.service.StartUpload(1, Flash, img)
	require.ErrorIs(t, err, ErrSizeExceeded)
	require.False(t, h.service.Busy())
	require.Zero(t, h.registry.Len())
}

func TestServiceNodeCommands(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, time.Second)
	ctx := context.Background()

	require.NoError(t, h.service.Ping(ctx, 1))
	require.NoError(t, h.service.Reboot(ctx, 1))
	require.ErrorIs(t, h.service.Ping(ctx, 7), ErrNoAck)

	job, err := h.service.StartDownload(1, EEPROM, PageSize)
	require.NoError(t, err)
	require.ErrorIs(t, h.service.Reboot(ctx, 1), ErrBusy)
	require.NoError(t, h.service.Ping(ctx, 1))

	require.Eventually(t, func() bool { return h.clock.Waiters() == 1 }, time.Second, time.Millisecond)
	h.clock.Advance(time.Second)
	waitStatus(t, job, jobs.StatusCompleted)
	require.NoError(t, h.service.Reboot(ctx, 1))
}

func TestServiceFailsJobForAbsentNode(t *testing.T) {
	t.Parallel()

	h := newServiceHarness(t, 0)

	job, err := h.service.StartDownload(42, Flash, PageSize)
	require.NoError(t, err)
	waitStatus(t, job, jobs.StatusFailed)
	require.ErrorIs(t, job.Failure(), ErrNoAck)
	require.False(t, h.service.Busy())
}

type panickingProgrammer struct {
	*MemoryProgrammer
}

func (panickingProgrammer) Write(context.Context, uint8, MemoryType, *intelhex.Image, ProgressFunc) error {
	panic("page out of range")
}

func TestServiceReleasesSlotWhenTransferPanics(t *testing.T) {
	t.Parallel()

	clk := fake.New(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	registry := jobs.NewRegistry(clk, time.Minute, zap.NewNop())
	t.Cleanup(func() {
		cancel()
		registry.Wait()
	})
	programmer := panickingProgrammer{NewMemoryProgrammer(clk, 0, zap.NewNop())}
	service := NewService(ctx, programmer, registry, zap.NewNop())

	job, err := service.StartUpload(1, EEPROM, imageOf(8))
	require.NoError(t, err)
	waitStatus(t, job, jobs.StatusFailed)
	require.ErrorContains(t, job.Failure(), "page out of range")
	require.False(t, service.Busy())
}
