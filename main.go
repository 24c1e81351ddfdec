// Command acpbridge runs the local ACP bridge: a single WebSocket endpoint
// that brokers JSON-RPC traffic between a browser controller and a locally
// spawned agent subprocess.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/acpbridge/acpbridge/internal/bridge"
	"github.com/acpbridge/acpbridge/internal/config"
	"github.com/acpbridge/acpbridge/internal/logging"
	"github.com/acpbridge/acpbridge/internal/permission"
	"github.com/acpbridge/acpbridge/internal/server"
)

func main() {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	perms, err := permission.Open(cfg.PolicyStorePath)
	if err != nil {
		slog.Error("failed to open permission store", "error", err)
		os.Exit(1)
	}
	defer perms.Close()

	br := bridge.New(cfg, perms)
	slog.Info("bridge starting", "bridgeId", br.ID(), "projectRoots", cfg.ProjectRoots)

	srv := server.New(cfg, br)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		slog.Warn("error during shutdown", "error", err)
	}

	slog.Info("bridge stopped")
}
