package client

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/omzlo/nocan-node-manager/internal/poller"
	"github.com/omzlo/nocan-node-manager/internal/transport"
)

// ResultSaver is a poller.Navigator that fetches the finished job's result
// and copies it to Out. A nil Out discards the result but still fetches it,
// which lets the server release the job.
type ResultSaver struct {
	Transport poller.Transport
	Out       io.Writer
}

var _ poller.Navigator = (*ResultSaver)(nil)

// Navigate implements poller.Navigator.
func (r *ResultSaver) Navigate(ctx context.Context, location string) error {
	resp, err := r.Transport.Do(ctx, transport.NewGet(location))
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &transport.StatusError{StatusCode: resp.StatusCode, Body: resp.Text()}
	}
	if r.Out == nil {
		return nil
	}
	if _, err := io.WriteString(r.Out, resp.Body); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
