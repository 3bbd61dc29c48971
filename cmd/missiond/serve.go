package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/outland-robotics/missiond/internal/config"
	"github.com/outland-robotics/missiond/internal/daemon"
	"github.com/outland-robotics/missiond/internal/lease"
	"github.com/outland-robotics/missiond/internal/library"
	"github.com/outland-robotics/missiond/internal/mission"
	"github.com/outland-robotics/missiond/internal/observability"
	"github.com/outland-robotics/missiond/internal/remote"
	"github.com/outland-robotics/missiond/internal/robot"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mission interpreter daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	deps := mission.Dependencies{}
	if len(cfg.Remotes) > 0 {
		deps.Delegate = remote.NewHTTPDelegate(cfg.Remotes)
	}
	if cfg.LeaseService != "" {
		deps.Verifier = lease.NewHTTPVerifier(cfg.LeaseService)
	}
	if cfg.Platform != "" {
		platform := robot.NewHTTPClient(cfg.Platform)
		deps.Commands = platform
		deps.Router = platform
	}

	svc := mission.NewService(deps,
		mission.WithLogger(logger),
		mission.WithTracer(otel.Tracer("missiond")),
		mission.WithHistoryDepth(cfg.HistoryDepth),
		mission.WithTickInterval(cfg.TickInterval),
	)

	srvOpts := []daemon.Option{daemon.WithLogger(logger)}
	if cfg.MissionDir != "" {
		lib, err := library.Open(cfg.MissionDir, library.WithLogger(logger))
		if err != nil {
			return err
		}
		defer lib.Close()
		srvOpts = append(srvOpts, daemon.WithLibrary(lib))
	}

	srv := daemon.New(svc, srvOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Listen)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := svc.Close(shutdownCtx); err != nil {
		logger.Warn("mission teardown", "error", err)
	}
	return <-errCh
}
