package bridge

import (
	"context"
	"fmt"

	acpsdk "github.com/coder/acp-go-sdk"
)

// bridgeClient implements acpsdk.Client, the set of client-role callbacks
// the agent invokes on the bridge over the same stdio connection. One
// instance is bound to each connection's acpsdk.ClientSideConnection.
// Grounded on the teacher's gatewayClient (internal/acp/gateway.go).
type bridgeClient struct {
	conn *connection
}

// SessionUpdate forwards a session/update notification to the controller
// verbatim (spec.md §4.3), preserving the order the agent emitted it in.
func (c *bridgeClient) SessionUpdate(_ context.Context, params acpsdk.SessionNotification) error {
	frame, err := marshalNotification("session/update", params)
	if err != nil {
		return fmt.Errorf("marshal session update: %w", err)
	}
	return c.conn.writeFrame(frame)
}

// RequestPermission is the agent asking the bridge, in its client role,
// whether a tool call may proceed. The bridge relays the question to the
// controller verbatim and translates the reply back (spec.md §9's resolved
// open question).
func (c *bridgeClient) RequestPermission(ctx context.Context, params acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	sess, ok := c.conn.sessions.get(string(params.SessionId))
	if !ok {
		return acpsdk.RequestPermissionResponse{
			Outcome: acpsdk.NewRequestPermissionOutcomeCancelled(),
		}, nil
	}

	reply, err := c.conn.requestPermission(ctx, sess, params.ToolCall, params.Options)
	if err != nil {
		return acpsdk.RequestPermissionResponse{}, err
	}
	if reply.cancelled {
		return acpsdk.RequestPermissionResponse{
			Outcome: acpsdk.NewRequestPermissionOutcomeCancelled(),
		}, nil
	}
	return acpsdk.RequestPermissionResponse{
		Outcome: acpsdk.NewRequestPermissionOutcomeSelected(reply.optionID),
	}, nil
}

// ReadTextFile is the agent reading a file through the bridge's sandboxed
// filesystem handler (spec.md §4.3, §4.5). Handling is identical to the
// controller-invoked fs/read_text_file method.
func (c *bridgeClient) ReadTextFile(_ context.Context, params acpsdk.ReadTextFileRequest) (acpsdk.ReadTextFileResponse, error) {
	offset, limit := 0, 0
	if params.Line != nil {
		offset = *params.Line
	}
	if params.Limit != nil {
		limit = *params.Limit
	}
	content, _, err := readTextFile(c.conn.bridge.cfg.ProjectRoots, params.Path, offset, limit)
	if err != nil {
		return acpsdk.ReadTextFileResponse{}, err
	}
	return acpsdk.ReadTextFileResponse{Content: content}, nil
}

// WriteTextFile is the agent writing a file through the bridge's permission
// gate (spec.md §4.3, §4.5, §4.6). Handling is identical to the
// controller-invoked fs/write_text_file method.
func (c *bridgeClient) WriteTextFile(ctx context.Context, params acpsdk.WriteTextFileRequest) (acpsdk.WriteTextFileResponse, error) {
	sess, ok := c.conn.sessions.get(string(params.SessionId))
	if !ok {
		sess = newSession(string(params.SessionId))
	}
	if err := c.conn.writeTextFile(ctx, sess, params.Path, params.Content); err != nil {
		return acpsdk.WriteTextFileResponse{}, err
	}
	return acpsdk.WriteTextFileResponse{}, nil
}

// The bridge does not mediate terminal operations (spec.md §1 scope: the
// client-role surface covers filesystem and permission callbacks only).
// Every terminal method is rejected the way the teacher's gatewayClient
// rejects methods its gateway doesn't support.

func (c *bridgeClient) CreateTerminal(_ context.Context, _ acpsdk.CreateTerminalRequest) (acpsdk.CreateTerminalResponse, error) {
	return acpsdk.CreateTerminalResponse{}, fmt.Errorf("CreateTerminal not supported by bridge")
}

func (c *bridgeClient) TerminalOutput(_ context.Context, _ acpsdk.TerminalOutputRequest) (acpsdk.TerminalOutputResponse, error) {
	return acpsdk.TerminalOutputResponse{}, fmt.Errorf("TerminalOutput not supported by bridge")
}

func (c *bridgeClient) ReleaseTerminal(_ context.Context, _ acpsdk.ReleaseTerminalRequest) (acpsdk.ReleaseTerminalResponse, error) {
	return acpsdk.ReleaseTerminalResponse{}, fmt.Errorf("ReleaseTerminal not supported by bridge")
}

func (c *bridgeClient) WaitForTerminalExit(_ context.Context, _ acpsdk.WaitForTerminalExitRequest) (acpsdk.WaitForTerminalExitResponse, error) {
	return acpsdk.WaitForTerminalExitResponse{}, fmt.Errorf("WaitForTerminalExit not supported by bridge")
}

func (c *bridgeClient) KillTerminalCommand(_ context.Context, _ acpsdk.KillTerminalCommandRequest) (acpsdk.KillTerminalCommandResponse, error) {
	return acpsdk.KillTerminalCommandResponse{}, fmt.Errorf("KillTerminalCommand not supported by bridge")
}

func (c *bridgeClient) SendTerminalInput(_ context.Context, _ acpsdk.SendTerminalInputRequest) (acpsdk.SendTerminalInputResponse, error) {
	return acpsdk.SendTerminalInputResponse{}, fmt.Errorf("SendTerminalInput not supported by bridge")
}

func (c *bridgeClient) ResizeTerminal(_ context.Context, _ acpsdk.ResizeTerminalRequest) (acpsdk.ResizeTerminalResponse, error) {
	return acpsdk.ResizeTerminalResponse{}, fmt.Errorf("ResizeTerminal not supported by bridge")
}

func (c *bridgeClient) CloseTerminal(_ context.Context, _ acpsdk.CloseTerminalRequest) (acpsdk.CloseTerminalResponse, error) {
	return acpsdk.CloseTerminalResponse{}, fmt.Errorf("CloseTerminal not supported by bridge")
}

func (c *bridgeClient) ListTextFiles(_ context.Context, _ acpsdk.ListTextFilesRequest) (acpsdk.ListTextFilesResponse, error) {
	return acpsdk.ListTextFilesResponse{}, fmt.Errorf("ListTextFiles not supported by bridge")
}

func (c *bridgeClient) EditTextFile(_ context.Context, _ acpsdk.EditTextFileRequest) (acpsdk.EditTextFileResponse, error) {
	return acpsdk.EditTextFileResponse{}, fmt.Errorf("EditTextFile not supported by bridge")
}

func (c *bridgeClient) CreateDirectory(_ context.Context, _ acpsdk.CreateDirectoryRequest) (acpsdk.CreateDirectoryResponse, error) {
	return acpsdk.CreateDirectoryResponse{}, fmt.Errorf("CreateDirectory not supported by bridge")
}

func (c *bridgeClient) MoveResource(_ context.Context, _ acpsdk.MoveResourceRequest) (acpsdk.MoveResourceResponse, error) {
	return acpsdk.MoveResourceResponse{}, fmt.Errorf("MoveResource not supported by bridge")
}
