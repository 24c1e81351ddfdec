package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/acpbridge/acpbridge/internal/jsonrpc"
)

// permissionReply is what a relayed session/request_permission round trip
// resolves to, however it resolves: a controller reply naming the selected
// option, or a cancellation (controller-originated or forced by
// session/cancel). Grounded on the teacher's acpsdk.RequestPermissionOutcome
// "selected"/"cancelled" tagged union (gateway.go's
// NewRequestPermissionOutcomeSelected/Cancelled usage).
type permissionReply struct {
	cancelled bool
	optionID  string
}

// permissionOutcomeWire is the shape a controller's session/request_permission
// result is decoded from (spec.md §6's {outcome:"selected",optionId} |
// {outcome:"cancelled"}).
type permissionOutcomeWire struct {
	Outcome  string `json:"outcome"`
	OptionID string `json:"optionId,omitempty"`
}

// requestPermission relays a permission question to the controller owning
// sess, as a bridge-originated JSON-RPC request on an id namespace
// independent of the agent-stdio side (spec.md §3). It blocks until the
// controller replies, the session is cancelled, or ctx is done.
//
// This single relay path serves both callers named in spec.md §9's resolved
// open question: the agent invoking session/request_permission on the
// bridge's client-role surface (client.go's RequestPermission), and this
// bridge's own fs/write_text_file handler synthesizing a permission question
// on a cache miss (fs.go).
func (c *connection) requestPermission(ctx context.Context, sess *session, toolCall acpsdk.ToolCallUpdate, options []acpsdk.PermissionOption) (permissionReply, error) {
	reqID := c.nextOutboundID()

	ch := make(chan permissionReply, 1)
	c.registerOutbound(reqID, ch)
	sess.registerPermission(reqID, ch)
	defer func() {
		c.unregisterOutbound(reqID)
		sess.resolvePermission(reqID)
	}()

	params := acpsdk.RequestPermissionRequest{
		SessionId: acpsdk.SessionId(sess.id),
		ToolCall:  toolCall,
		Options:   options,
	}
	idJSON, err := json.Marshal(reqID)
	if err != nil {
		return permissionReply{}, fmt.Errorf("marshal outbound request id: %w", err)
	}
	frame, err := jsonrpc.EncodeRequest(idJSON, "session/request_permission", params)
	if err != nil {
		return permissionReply{}, fmt.Errorf("encode permission request: %w", err)
	}
	if err := c.writeFrame(frame); err != nil {
		return permissionReply{}, fmt.Errorf("send permission request: %w", err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return permissionReply{cancelled: true}, nil
	}
}
