// Package cmd defines the CLI commands of the nocan executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/omzlo/nocan-node-manager/internal/app"
	"github.com/omzlo/nocan-node-manager/internal/config"
	"github.com/omzlo/nocan-node-manager/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// closeTimeout bounds how long the progress hub may take to drain on exit.
const closeTimeout = 5 * time.Second

// runner owns the App of one CLI invocation and closes it after the command
// returns, including when the command fails.
type runner struct {
	registerer prometheus.Registerer
	app        *app.App
}

// rootCmd creates the root command and its subcommands.
func (r *runner) rootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "nocan",
		Short: "Node manager for NoCAN networks and its command-line client.",
		Long: `nocan serves the node manager HTTP API (nodes, firmware memories and
firmware jobs) and talks to a running manager: firmware uploads and downloads
are submitted as jobs and followed until they finish.`,
		SilenceUsage: true,

		// Runs after flags are parsed but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return err
			}
			appInstance, err := app.New(cfg, logger, r.registerer)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			r.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the NOCAN_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newNodesCmd())
	cmd.AddCommand(newNodeCommandCmd("ping", "Check that a node answers on the bus"))
	cmd.AddCommand(newNodeCommandCmd("reboot", "Reboot a node"))
	cmd.AddCommand(newDownloadCmd())
	cmd.AddCommand(newUploadCmd())
	return cmd
}

// execute runs cmd and then drains the App it created.
func (r *runner) execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, r.close())
}

func (r *runner) close() error {
	if r.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := r.app.Close(ctx)
	r.app = nil
	return err
}

// Execute is the main entry point.
func Execute() {
	r := &runner{}
	if err := r.execute(context.Background(), r.rootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
