package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/api"
	"github.com/omzlo/nocan-node-manager/internal/clock/fake"
	"github.com/omzlo/nocan-node-manager/internal/config"
	"github.com/omzlo/nocan-node-manager/internal/display"
	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/firmware/intelhex"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
	"github.com/omzlo/nocan-node-manager/internal/nodes"
	"github.com/omzlo/nocan-node-manager/internal/poller"
	"github.com/omzlo/nocan-node-manager/internal/transport"
)

const testNodes = `
"01:02:03:04:05:06:07:08":
  node: 1
  attributes:
    name: relay
"0a:0a:0a:0a:0a:0a:0a:0a":
  node: 4
`

// newManager starts a node manager with node 1 attached to the simulated
// bus. Node 4 is known but never answers.
func newManager(t *testing.T) *Client {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	clk := fake.New(time.Unix(0, 0))

	registry := nodes.NewRegistry(zap.NewNop())
	require.NoError(t, registry.Load(strings.NewReader(testNodes)))
	programmer := firmware.NewMemoryProgrammer(clk, 0, zap.NewNop())
	programmer.OnContact(registry.Touch)
	programmer.Attach(1)
	jobRegistry := jobs.NewRegistry(clk, time.Minute, zap.NewNop())
	service := firmware.NewService(ctx, programmer, jobRegistry, zap.NewNop())

	srv := httptest.NewServer(api.NewServer(registry, service, jobRegistry, config.AuthConfig{}, zap.NewNop()).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		jobRegistry.Wait()
	})

	tc, err := transport.New(transport.Config{BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	require.NoError(t, err)
	return New(tc, Options{Interval: 5 * time.Millisecond})
}

func TestClientListNodes(t *testing.T) {
	t.Parallel()

	c := newManager(t)
	list, err := c.ListNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, uint8(1), list[0].ID)
	require.Equal(t, "relay", list[0].Attributes["name"])
	require.Equal(t, "0a:0a:0a:0a:0a:0a:0a:0a", list[1].UDID.String())
}

func TestClientUploadThenDownload(t *testing.T) {
	t.Parallel()

	c := newManager(t)
	ctx := context.Background()

	img := &intelhex.Image{}
	img.Add(0, []byte("hello node"))
	var hexFile bytes.Buffer
	require.NoError(t, intelhex.Encode(&hexFile, img))

	upDisplay := &display.Element{}
	var uploadResult bytes.Buffer
	out, err := c.Upload(ctx, "1", firmware.Flash, "app.hex", &hexFile, upDisplay, &uploadResult)
	require.NoError(t, err)
	require.Equal(t, poller.StateDone, out.State)
	require.NoError(t, out.Err)
	require.Equal(t, "done", upDisplay.Text())
	require.Equal(t, firmware.UploadResult, uploadResult.String())

	downDisplay := &display.Element{}
	var saved bytes.Buffer
	out, err = c.Download(ctx, "01:02:03:04:05:06:07:08", firmware.Flash, 2*firmware.PageSize, downDisplay, &saved)
	require.NoError(t, err)
	require.True(t, out.Succeeded())
	require.True(t, strings.HasSuffix(out.Location, "/api/jobs/1/result"))
	require.Equal(t, "done", downDisplay.Text())

	read, err := intelhex.Decode(&saved)
	require.NoError(t, err)
	require.Equal(t, 2*firmware.PageSize, read.Size())
	require.Equal(t, []byte("hello node"), read.Blocks[0].Data[:10])
}

func TestClientErrorStatuses(t *testing.T) {
	t.Parallel()

	c := newManager(t)
	ctx := context.Background()

	el := &display.Element{}
	out, err := c.Download(ctx, "9", firmware.Flash, 0, el, nil)
	require.NoError(t, err)
	require.Equal(t, poller.StateError, out.State)
	require.Equal(t, "Error 404", el.Text())
	require.Zero(t, out.Ticks)

	el = &display.Element{}
	out, err = c.Download(ctx, "4", firmware.EEPROM, 0, el, nil)
	require.NoError(t, err)
	require.Equal(t, poller.StateError, out.State)
	require.Equal(t, "Error 503", el.Text())
	require.Positive(t, out.Ticks)
}

func TestClientNodeCommands(t *testing.T) {
	t.Parallel()

	c := newManager(t)
	ctx := context.Background()

	require.NoError(t, c.Command(ctx, "1", "ping"))
	require.NoError(t, c.Command(ctx, "01:02:03:04:05:06:07:08", "reboot"))

	list, err := c.ListNodes(ctx)
	require.NoError(t, err)
	require.False(t, list[0].LastSeen.IsZero())
	require.True(t, list[1].LastSeen.IsZero())

	err = c.Command(ctx, "4", "ping")
	require.True(t, transport.IsStatus(err, http.StatusServiceUnavailable))

	err = c.Command(ctx, "1", "selfdestruct")
	require.True(t, transport.IsStatus(err, http.StatusBadRequest))
}

func TestResultSaverRejectsErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	tc, err := transport.New(transport.Config{BaseURL: srv.URL}, srv.Client(), zap.NewNop())
	require.NoError(t, err)

	var out bytes.Buffer
	saver := &ResultSaver{Transport: tc, Out: &out}
	err = saver.Navigate(context.Background(), "/api/jobs/0/result")
	require.True(t, transport.IsStatus(err, http.StatusGone))
	require.Zero(t, out.Len())
}
