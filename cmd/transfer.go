package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omzlo/nocan-node-manager/internal/display"
	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/poller"
)

// errTransferFailed is returned when the job ended in an error state. The
// display has already shown the status.
var errTransferFailed = errors.New("transfer failed")

func newDownloadCmd() *cobra.Command {
	var (
		memory string
		size   uint32
		output string
	)
	cmd := &cobra.Command{
		Use:   "download <node>",
		Short: "Read a node memory into an Intel HEX file",
		Long: `Submits a firmware download job for <node> (a node id or UDID), shows its
progress and writes the resulting Intel HEX file to --output, or stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := firmware.ParseMemoryType(memory)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Client()
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				out = f
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			label := fmt.Sprintf("download %s %s", args[0], mem)
			outcome, err := c.Download(ctx, args[0], mem, size, progressDisplay(cmd, label), out)
			return transferResult(outcome, err)
		},
	}
	cmd.Flags().StringVarP(&memory, "memory", "m", "flash", "memory to read: flash or eeprom")
	cmd.Flags().Uint32Var(&size, "size", 0, "bytes to read (default: whole memory)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}

func newUploadCmd() *cobra.Command {
	var memory string
	cmd := &cobra.Command{
		Use:   "upload <node> <file.hex>",
		Short: "Write an Intel HEX file to a node memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem, err := firmware.ParseMemoryType(memory)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			c, err := appInstance.Client()
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open firmware: %w", err)
			}
			defer f.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			label := fmt.Sprintf("upload %s %s", args[0], mem)
			outcome, err := c.Upload(ctx, args[0], mem, filepath.Base(args[1]), f, progressDisplay(cmd, label), io.Discard)
			return transferResult(outcome, err)
		},
	}
	cmd.Flags().StringVarP(&memory, "memory", "m", "flash", "memory to write: flash or eeprom")
	return cmd
}

// progressDisplay renders session text on stderr, in place when it is a
// terminal.
func progressDisplay(cmd *cobra.Command, label string) poller.Display {
	w := cmd.ErrOrStderr()
	inPlace := false
	if f, ok := w.(*os.File); ok {
		if info, err := f.Stat(); err == nil {
			inPlace = info.Mode()&os.ModeCharDevice != 0
		}
	}
	return display.NewTerminal(w, label, inPlace)
}

func transferResult(outcome poller.Outcome, err error) error {
	if err != nil {
		return err
	}
	if !outcome.Succeeded() {
		if outcome.Err != nil {
			return fmt.Errorf("%w: %v", errTransferFailed, outcome.Err)
		}
		return errTransferFailed
	}
	if outcome.Err != nil {
		return fmt.Errorf("fetch result: %w", outcome.Err)
	}
	return nil
}
