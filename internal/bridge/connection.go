package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	acpsdk "github.com/coder/acp-go-sdk"
	"github.com/gorilla/websocket"

	"github.com/acpbridge/acpbridge/internal/acpagent"
	"github.com/acpbridge/acpbridge/internal/jsonrpc"
)

// connState is a controller connection's position in the handshake state
// machine (spec.md §3): Handshaking → Initialized → Closed.
type connState int32

const (
	stateHandshaking connState = iota
	stateInitialized
	stateClosed
)

// connection is one controller's WebSocket, the agent subprocess spawned
// for it, and the sessions routed through it. Grounded on the teacher's
// Gateway (internal/acp/gateway.go): one Gateway per browser WebSocket,
// one agent process, one acpsdk.ClientSideConnection.
type connection struct {
	bridge *Bridge
	id     string
	ws     *websocket.Conn
	logger interface {
		Info(string, ...any)
		Warn(string, ...any)
		Error(string, ...any)
	}

	writeMu sync.Mutex

	stateMu sync.Mutex
	state   connState
	process *acpagent.Process
	acpConn *acpsdk.ClientSideConnection

	sessions *sessionTable

	outboundMu      sync.Mutex
	outboundSeq     uint64
	pendingOutbound map[string]chan permissionReply
}

func newConnection(b *Bridge, ws *websocket.Conn) *connection {
	return &connection{
		bridge:          b,
		id:              newID(),
		ws:              ws,
		logger:          b.logger,
		sessions:        newSessionTable(),
		pendingOutbound: make(map[string]chan permissionReply),
	}
}

// run drives the connection's read loop until the socket closes. Dispatch
// of individual frames runs concurrently (spec.md §4.3's ordering
// paragraph: "Dispatch of incoming requests MAY be concurrent").
func (c *connection) run(ctx context.Context) {
	defer c.shutdown()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Info("bridge: connection closed", "connection", c.id, "error", err)
			return
		}
		go c.handleFrame(ctx, data)
	}
}

func (c *connection) shutdown() {
	c.setState(stateClosed)
	c.sessions.cancelAll()
	c.stateMu.Lock()
	process := c.process
	c.stateMu.Unlock()
	if process != nil {
		process.Stop()
	}
}

func (c *connection) getState() connState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *connection) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// --- outbound id bookkeeping (bridge → controller requests) ---

func (c *connection) nextOutboundID() string {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()
	c.outboundSeq++
	return fmt.Sprintf("perm-%d", c.outboundSeq)
}

func (c *connection) registerOutbound(id string, ch chan permissionReply) {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()
	c.pendingOutbound[id] = ch
}

func (c *connection) unregisterOutbound(id string) {
	c.outboundMu.Lock()
	defer c.outboundMu.Unlock()
	delete(c.pendingOutbound, id)
}

func (c *connection) resolveOutbound(id string, reply permissionReply) {
	c.outboundMu.Lock()
	ch, ok := c.pendingOutbound[id]
	c.outboundMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// --- writer (single sink, per spec.md §5) ---

func (c *connection) writeFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func marshalNotification(method string, params interface{}) ([]byte, error) {
	return jsonrpc.EncodeNotification(method, params)
}

func (c *connection) sendResult(id json.RawMessage, result interface{}) {
	data, err := jsonrpc.EncodeResult(id, result)
	if err != nil {
		c.logger.Error("bridge: encode result", "error", err)
		return
	}
	if err := c.writeFrame(data); err != nil {
		c.logger.Warn("bridge: write result", "error", err)
	}
}

func (c *connection) sendError(id json.RawMessage, errObj *jsonrpc.Error) {
	data, err := jsonrpc.EncodeError(id, errObj)
	if err != nil {
		c.logger.Error("bridge: encode error", "error", err)
		return
	}
	if err := c.writeFrame(data); err != nil {
		c.logger.Warn("bridge: write error response", "error", err)
	}
}

// --- dispatch ---

func (c *connection) handleFrame(ctx context.Context, data []byte) {
	env, err := jsonrpc.Decode(data)
	if err != nil {
		c.logger.Warn("bridge: discarding malformed frame", "error", err)
		return
	}

	switch env.Classify() {
	case jsonrpc.KindResponse:
		c.handleResponse(env)
	case jsonrpc.KindRequest:
		c.handleRequest(ctx, env)
	case jsonrpc.KindNotification:
		c.handleNotification(ctx, env)
	default:
		c.logger.Warn("bridge: discarding invalid frame")
	}
}

// handleResponse demultiplexes a controller reply to a bridge-originated
// session/request_permission request (the only kind this bridge sends).
func (c *connection) handleResponse(env *jsonrpc.Envelope) {
	var id string
	if err := json.Unmarshal(env.ID, &id); err != nil {
		c.logger.Warn("bridge: response id not a string", "error", err)
		return
	}
	if env.Error != nil {
		c.resolveOutbound(id, permissionReply{cancelled: true})
		return
	}

	var outcome permissionOutcomeWire
	if err := json.Unmarshal(env.Result, &outcome); err != nil {
		c.logger.Warn("bridge: malformed permission outcome", "error", err)
		c.resolveOutbound(id, permissionReply{cancelled: true})
		return
	}
	if outcome.Outcome != "selected" {
		c.resolveOutbound(id, permissionReply{cancelled: true})
		return
	}
	c.resolveOutbound(id, permissionReply{optionID: outcome.OptionID})
}

// handleRequest dispatches a controller-issued request by method name
// (spec.md §4.3). Every method but initialize requires the connection to
// already be Initialized.
func (c *connection) handleRequest(ctx context.Context, env *jsonrpc.Envelope) {
	method := env.Method
	id := env.ID

	if method != "initialize" && c.getState() != stateInitialized {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found",
			fmt.Sprintf("%q is not available before a successful initialize", method)))
		return
	}

	switch method {
	case "initialize":
		c.handleInitialize(ctx, id, env.Params)
	case "session/new":
		c.handleSessionNew(ctx, id, env.Params)
	case "session/prompt":
		c.handleSessionPrompt(ctx, id, env.Params)
	case "fs/read_text_file":
		c.handleFSRead(id, env.Params)
	case "fs/write_text_file":
		c.handleFSWrite(ctx, id, env.Params)
	case "auth/cli_login":
		c.handleAuthCLILogin(ctx, id, env.Params)
	default:
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found",
			fmt.Sprintf("unknown method %q", method)))
	}
}

func (c *connection) handleNotification(ctx context.Context, env *jsonrpc.Envelope) {
	if env.Method == "session/cancel" {
		c.handleSessionCancel(ctx, env.Params)
		return
	}
	c.logger.Warn("bridge: discarding unknown notification", "method", env.Method)
}

// handleInitialize validates the controller's declared fs capabilities,
// spawns the agent subprocess on first use, forwards the ACP handshake, and
// injects _meta.bridgeId into the echoed result (spec.md §3, §4.3).
func (c *connection) handleInitialize(ctx context.Context, id json.RawMessage, params json.RawMessage) {
	var req struct {
		Capabilities struct {
			Fs struct {
				ReadTextFile  bool `json:"readTextFile"`
				WriteTextFile bool `json:"writeTextFile"`
			} `json:"fs"`
		} `json:"capabilities"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
			return
		}
	}
	if !req.Capabilities.Fs.ReadTextFile || !req.Capabilities.Fs.WriteTextFile {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "missing capability",
			"capabilities.fs.readTextFile and capabilities.fs.writeTextFile must both be true"))
		return
	}

	if err := c.ensureAgent(); err != nil {
		c.sendError(id, rpcErrorFrom(errAgentExited(err.Error())))
		return
	}

	initResp, err := c.acpConn.Initialize(ctx, acpsdk.InitializeRequest{
		ProtocolVersion: acpsdk.ProtocolVersionNumber,
		ClientCapabilities: acpsdk.ClientCapabilities{
			Fs: acpsdk.FileSystemCapability{ReadTextFile: true, WriteTextFile: true},
		},
	})
	if err != nil {
		c.sendError(id, rpcErrorFrom(errAgentExited(err.Error())))
		return
	}

	c.setState(stateInitialized)

	result := map[string]interface{}{}
	if raw, err := json.Marshal(initResp); err == nil {
		_ = json.Unmarshal(raw, &result)
	}
	result["_meta"] = map[string]interface{}{"bridgeId": c.bridge.ID()}
	result["capabilities"] = map[string]interface{}{
		"fs": map[string]interface{}{"readTextFile": true, "writeTextFile": true},
	}
	c.sendResult(id, result)
}

// ensureAgent spawns the agent subprocess and binds it to a fresh
// acpsdk.ClientSideConnection the first time a connection initializes.
func (c *connection) ensureAgent() error {
	c.stateMu.Lock()
	if c.process != nil {
		c.stateMu.Unlock()
		return nil
	}
	c.stateMu.Unlock()

	process, err := acpagent.Start(c.bridge.agentConfig())
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	c.process = process
	c.acpConn = acpsdk.NewClientSideConnection(&bridgeClient{conn: c}, process.Stdin(), process.Stdout())
	c.stateMu.Unlock()

	go c.drainStderr(process)
	return nil
}

// drainStderr logs the agent's stderr at warn level (spec.md §4.4).
func (c *connection) drainStderr(process *acpagent.Process) {
	scanner := bufio.NewScanner(process.Stderr())
	for scanner.Scan() {
		c.logger.Warn("bridge: agent stderr", "line", scanner.Text())
	}
}

func (c *connection) handleSessionNew(ctx context.Context, id json.RawMessage, params json.RawMessage) {
	var req acpsdk.NewSessionRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
			return
		}
	}
	if req.Cwd == "" && len(c.bridge.cfg.ProjectRoots) > 0 {
		req.Cwd = c.bridge.cfg.ProjectRoots[0]
	}
	if req.McpServers == nil {
		req.McpServers = []acpsdk.McpServer{}
	}

	resp, err := c.acpConn.NewSession(ctx, req)
	if err != nil {
		c.sendError(id, rpcErrorFrom(errAgentExited(err.Error())))
		return
	}

	c.sessions.add(newSession(string(resp.SessionId)))
	c.sendResult(id, resp)
}

// handleSessionPrompt forwards a prompt turn to the agent; session/update
// notifications stream to the controller via bridgeClient.SessionUpdate
// for the duration of the blocking acpConn.Prompt call (spec.md §4.3, §9).
func (c *connection) handleSessionPrompt(ctx context.Context, id json.RawMessage, params json.RawMessage) {
	var req acpsdk.PromptRequest
	if err := json.Unmarshal(params, &req); err != nil {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
		return
	}

	sess, ok := c.sessions.get(string(req.SessionId))
	if !ok {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "unknown session", string(req.SessionId)))
		return
	}

	promptCtx, cancel := context.WithCancel(ctx)
	if !sess.beginPrompt(cancel) {
		cancel()
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "prompt already in flight", string(req.SessionId)))
		return
	}

	resp, err := c.acpConn.Prompt(promptCtx, req)
	cancelled := promptCtx.Err() != nil
	sess.endPrompt()
	cancel()

	if err != nil {
		if cancelled {
			c.sendResult(id, acpsdk.PromptResponse{StopReason: acpsdk.StopReason("cancelled")})
			return
		}
		c.sendError(id, rpcErrorFrom(errAgentExited(err.Error())))
		return
	}
	c.sendResult(id, resp)
}

// handleSessionCancel forwards a controller cancellation to the agent over
// the acp-go-sdk stdio connection, cancels the session's in-flight prompt
// context, and resolves its pending permission relays as cancelled (spec.md
// §4.3, §5). If the agent doesn't unwind within the configured grace
// period, the agent process is force-stopped, mirroring the teacher's
// watchdog pattern (session_host.go's triggerPromptForceStopIfStuck).
func (c *connection) handleSessionCancel(ctx context.Context, params json.RawMessage) {
	var req struct {
		SessionId string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		c.logger.Warn("bridge: malformed session/cancel", "error", err)
		return
	}
	sess, ok := c.sessions.get(req.SessionId)
	if !ok {
		return
	}

	c.stateMu.Lock()
	acpConn := c.acpConn
	c.stateMu.Unlock()
	if acpConn != nil {
		if err := acpConn.Cancel(ctx, acpsdk.CancelNotification{SessionId: acpsdk.SessionId(req.SessionId)}); err != nil {
			c.logger.Warn("bridge: forward session/cancel to agent failed", "session", req.SessionId, "error", err)
		}
	}

	sess.cancel()

	grace := c.bridge.cfg.PromptCancelGracePeriod
	if grace <= 0 {
		return
	}
	go func() {
		time.Sleep(grace)
		if sess.active() {
			c.logger.Warn("bridge: prompt cancel grace period elapsed, force-stopping agent", "session", sess.id)
			c.stateMu.Lock()
			process := c.process
			c.stateMu.Unlock()
			if process != nil {
				process.Stop()
			}
		}
	}()
}

func (c *connection) handleFSRead(id json.RawMessage, params json.RawMessage) {
	var req struct {
		Path       string `json:"path"`
		LineOffset int    `json:"lineOffset"`
		LineLimit  int    `json:"lineLimit"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
		return
	}

	content, truncated, err := readTextFile(c.bridge.cfg.ProjectRoots, req.Path, req.LineOffset, req.LineLimit)
	if err != nil {
		c.sendError(id, rpcErrorFrom(err))
		return
	}

	result := map[string]interface{}{"content": content}
	if truncated {
		result["_meta"] = map[string]interface{}{"truncated": true}
	}
	c.sendResult(id, result)
}

func (c *connection) handleFSWrite(ctx context.Context, id json.RawMessage, params json.RawMessage) {
	var req struct {
		Path      string `json:"path"`
		Content   string `json:"content"`
		SessionId string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
		return
	}

	sess, ok := c.sessions.get(req.SessionId)
	if !ok {
		// fs/write_text_file may be called directly, outside any session
		// (spec.md §6's wire table allows it); the permission relay only
		// needs something to key audit entries and cancellation on.
		sess = newSession(req.SessionId)
	}

	if err := c.writeTextFile(ctx, sess, req.Path, req.Content); err != nil {
		c.sendError(id, rpcErrorFrom(err))
		return
	}
	c.sendResult(id, map[string]interface{}{"written": true})
}
