package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omzlo/nocan-node-manager/internal/api"
	"github.com/omzlo/nocan-node-manager/internal/firmware"
	"github.com/omzlo/nocan-node-manager/internal/jobs"
	"github.com/omzlo/nocan-node-manager/internal/logging"
	"github.com/omzlo/nocan-node-manager/internal/nodes"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node manager HTTP API",
		Long: `Serves the node table, firmware memories and firmware jobs. Nodes listed
in the node file or in nodes.simulated are attached to the simulated bus so
their memories can be read and written. Simulated nodes that are not yet in
the node file are registered and saved to it.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := nodes.NewRegistry(logging.Component(logger, "nodes"))
	if cfg.Nodes.File != "" {
		if err := registry.LoadFile(cfg.Nodes.File); err != nil {
			logger.Warn("could not load node information", zap.Error(err))
		}
	}

	programmer := firmware.NewMemoryProgrammer(appInstance.Clock(), cfg.PageDelay(), logging.Component(logger, "programmer"))
	if err := attachBus(registry, programmer, cfg.Nodes.Simulated); err != nil {
		return err
	}
	jobRegistry := jobs.NewRegistry(appInstance.Clock(), cfg.JobRetention(), logging.Component(logger, "jobs"))
	service := firmware.NewService(ctx, programmer, jobRegistry, logging.Component(logger, "firmware"))
	apiServer := api.NewServer(registry, service, jobRegistry, cfg.Auth, logging.Component(logger, "api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port), zap.Int("nodes", len(registry.List())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	stop()
	jobRegistry.Wait()
	logger.Info("shutdown complete")
	return err
}

// attachBus registers the simulated nodes and attaches every registered node
// to the programmer. Each answer from a node refreshes its last seen time.
func attachBus(registry *nodes.Registry, programmer *firmware.MemoryProgrammer, simulated []string) error {
	programmer.OnContact(registry.Touch)
	for _, raw := range simulated {
		udid, err := nodes.ParseUDID(raw)
		if err != nil {
			return fmt.Errorf("nodes.simulated: %w", err)
		}
		if _, err := registry.Register(udid); err != nil {
			return fmt.Errorf("register simulated node %s: %w", udid, err)
		}
	}
	for _, n := range registry.List() {
		if n.ID != 0 {
			programmer.Attach(n.ID)
		}
	}
	return nil
}
