// Package server hosts the bridge's single HTTP endpoint: a WebSocket
// upgrade, gated by the admission checks described in this repository's
// specification (allowed Origin, ACP subprotocol negotiation), and a
// liveness probe. Everything past the upgrade belongs to internal/bridge.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/acpbridge/acpbridge/internal/bridge"
	"github.com/acpbridge/acpbridge/internal/config"
)

// Server is the bridge process's HTTP server.
type Server struct {
	config     *config.Config
	bridge     *bridge.Bridge
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// New creates a Server bound to an already-constructed Bridge.
func New(cfg *config.Config, br *bridge.Bridge) *Server {
	s := &Server{
		config: cfg,
		bridge: br,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WSReadBufferSize,
			WriteBufferSize: cfg.WSWriteBufferSize,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Addr:        cfg.Bind,
		Handler:     mux,
		ReadTimeout: cfg.HTTPReadTimeout,
		// WriteTimeout is intentionally left at zero: the WebSocket
		// connection this server hosts is long-lived, and Go's
		// http.Server.WriteTimeout sets a deadline on the underlying
		// net.Conn before the handler runs, which would kill a hijacked
		// connection after the timeout elapses.
	}

	return s
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /bridge", s.handleBridgeWS)
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.logger.Info("bridge server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
