// Package bridge implements the local protocol bridge described by this
// repository's specification: it brokers ACP (Agent Client Protocol)
// traffic between a browser-based controller speaking JSON-RPC 2.0 over a
// single WebSocket and a locally spawned agent subprocess speaking the same
// protocol over NDJSON stdio. The bridge owns session-addressed routing,
// the client-role filesystem/auth handlers, and the permission policy
// engine that gates every write.
//
// Grounded on the teacher's internal/acp/gateway.go (one Gateway per
// WebSocket connection, bridging gorilla/websocket to an acp-go-sdk
// ClientSideConnection) and internal/acp/session_host.go (independent
// promptCancelMu guarding cancellation of an in-flight Prompt call).
package bridge

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/google/uuid"

	"github.com/acpbridge/acpbridge/internal/acpagent"
	"github.com/acpbridge/acpbridge/internal/config"
	"github.com/acpbridge/acpbridge/internal/permission"
)

// Bridge is process-wide state shared by every controller connection: one
// stable bridgeId (spec.md §3), the configured project roots and agent
// spawn parameters, and a handle to the permission engine.
type Bridge struct {
	id     string
	cfg    *config.Config
	perms  *permission.Store
	logger *slog.Logger
}

// New creates a Bridge with a freshly generated bridgeId, stable for the
// life of this process (spec.md §3 invariant: "bridgeId is stable across
// the lifetime of one bridge process").
func New(cfg *config.Config, perms *permission.Store) *Bridge {
	return &Bridge{
		id:     uuid.NewString(),
		cfg:    cfg,
		perms:  perms,
		logger: slog.Default(),
	}
}

// ID returns this process's stable bridgeId.
func (b *Bridge) ID() string { return b.id }

// Accept takes ownership of an already-upgraded controller WebSocket,
// running its read loop until the socket closes; ctx is handed to each
// frame's handler and does not end the loop. Each call gets its own session
// table and, once it initializes, its own agent subprocess; a bridge process
// may host many concurrent connections.
func (b *Bridge) Accept(ctx context.Context, ws *websocket.Conn) {
	conn := newConnection(b, ws)
	conn.run(ctx)
}

// agentConfig builds the acpagent.Config used to spawn a fresh agent
// subprocess for a new controller connection.
func (b *Bridge) agentConfig() acpagent.Config {
	dir := ""
	if len(b.cfg.ProjectRoots) > 0 {
		dir = b.cfg.ProjectRoots[0]
	}
	return acpagent.Config{
		Command: b.cfg.AgentCommand,
		Args:    b.cfg.AgentArgs,
		Env:     b.cfg.AgentEnv,
		Dir:     dir,
	}
}

// newID returns a fresh opaque identifier for connections and for the tool
// call ids of bridge-synthesized permission prompts.
func newID() string { return uuid.NewString() }
