// Package client drives the node manager's HTTP API: it lists nodes and runs
// firmware transfers as poll sessions that end by saving the job result.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/omzlo/nocan-node-manager/internal/clock"
	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/nodes"
	"github.com/omzlo/nocan-node-manager/internal/poller"
	"github.com/omzlo/nocan-node-manager/internal/progress"
	"github.com/omzlo/nocan-node-manager/internal/transport"
)

// Options tune a Client. Zero values select defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.Clock
	Emitter  progress.Emitter
	Logger   *zap.Logger
}

// Client issues node-manager requests through a transport.Client.
type Client struct {
	transport *transport.Client
	opts      Options
	logger    *zap.Logger
}

// New returns a Client using t for every request.
func New(t *transport.Client, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{transport: t, opts: opts, logger: logger}
}

// ListNodes fetches the node table.
func (c *Client) ListNodes(ctx context.Context) ([]nodes.Node, error) {
	var ids []int
	if err := c.transport.GetJSON(ctx, "/api/nodes", &ids); err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	out := make([]nodes.Node, 0, len(ids))
	for _, id := range ids {
		var n nodes.Node
		if err := c.transport.GetJSON(ctx, "/api/nodes/"+strconv.Itoa(id), &n); err != nil {
			// The node may have been unregistered between the two requests.
			if transport.IsStatus(err, http.StatusNotFound) {
				continue
			}
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Command sends a system command ("ping" or "reboot") to node.
func (c *Client) Command(ctx context.Context, node, command string) error {
	form := url.Values{"c": []string{command}}
	resp, err := c.transport.Do(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         "/api/nodes/" + url.PathEscape(node),
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return fmt.Errorf("%s node %s: %w", command, node, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s node %s: %w", command, node, &transport.StatusError{StatusCode: resp.StatusCode, Body: resp.Text()})
	}
	return nil
}

// Download reads a node memory. size 0 reads the whole memory. The Intel HEX
// result is written to out once the job is done.
func (c *Client) Download(
	ctx context.Context,
	node string,
	mem firmware.MemoryType,
	size uint32,
	display poller.Display,
	out io.Writer,
) (poller.Outcome, error) {
	target := firmwarePath(node, mem)
	if size > 0 {
		target += "?size=" + strconv.FormatUint(uint64(size), 10)
	}
	return c.run(ctx, transport.NewGet(target), display, out)
}

// Upload writes an Intel HEX file to a node memory. The server's short result
// message is written to out when the job is done.
func (c *Client) Upload(
	ctx context.Context,
	node string,
	mem firmware.MemoryType,
	filename string,
	content io.Reader,
	display poller.Display,
	out io.Writer,
) (poller.Outcome, error) {
	req, err := transport.NewMultipartUpload(firmwarePath(node, mem), "firmware", filename, content)
	if err != nil {
		return poller.Outcome{}, err
	}
	return c.run(ctx, req, display, out)
}

func (c *Client) run(ctx context.Context, req transport.Request, display poller.Display, out io.Writer) (poller.Outcome, error) {
	session, err := poller.New(poller.Config{Interval: c.opts.Interval}, poller.Deps{
		Transport: c.transport,
		Display:   display,
		Navigator: &ResultSaver{Transport: c.transport, Out: out},
		Clock:     c.opts.Clock,
		Emitter:   c.opts.Emitter,
		Logger:    c.logger,
	})
	if err != nil {
		return poller.Outcome{}, err
	}
	return session.Run(ctx, req)
}

func firmwarePath(node string, mem firmware.MemoryType) string {
	return "/api/nodes/" + url.PathEscape(node) + "/firmware/" + mem.String()
}
