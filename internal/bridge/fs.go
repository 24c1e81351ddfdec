package bridge

import (
	"context"
	"os"
	"strings"
	"unicode/utf8"

	acpsdk "github.com/coder/acp-go-sdk"

	"github.com/acpbridge/acpbridge/internal/permission"
	"github.com/acpbridge/acpbridge/internal/sandbox"
)

// binaryProbeSize bounds how much of a file is inspected for a NUL byte
// before a read is rejected as binary (spec.md §4.5 step 3).
const binaryProbeSize = 8192

// readTextFile implements fs/read_text_file's core semantics, shared by the
// controller-invoked method (connection.go) and the agent's client-role
// ReadTextFile callback (client.go). offset is a 1-based line number, 0
// meaning unset; limit of 0 also means unset.
func readTextFile(roots []string, path string, offset, limit int) (content string, truncated bool, err error) {
	canonical, err := sandbox.Canonicalize(path, roots)
	if err != nil {
		return "", false, err
	}

	data, err := os.ReadFile(canonical)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, &sandbox.ErrNotExist{Path: canonical}
		}
		return "", false, &DomainError{Message: "read failed", Details: err.Error()}
	}

	probe := data
	if len(probe) > binaryProbeSize {
		probe = probe[:binaryProbeSize]
	}
	if strings.IndexByte(string(probe), 0) >= 0 {
		return "", false, errBinaryFile(canonical)
	}
	if !utf8.Valid(data) {
		return "", false, errBinaryFile(canonical)
	}

	if offset == 0 && limit == 0 {
		return string(data), false, nil
	}

	text := strings.TrimSuffix(string(data), "\n")
	lines := strings.Split(text, "\n")

	if offset == 0 {
		offset = 1
	}
	if offset > len(lines) {
		return "", false, nil
	}

	slice := lines[offset-1:]
	if limit > 0 && limit < len(slice) {
		slice = slice[:limit]
		truncated = true
	}
	return strings.Join(slice, "\n"), truncated, nil
}

// writeTextFile implements fs/write_text_file's core semantics: sandbox
// check, permission-cache lookup, a relayed permission prompt on a cache
// miss, an audit trail of the whole sequence, then the actual write
// (spec.md §4.5, §4.6). Shared by the controller-invoked method and the
// agent's client-role WriteTextFile callback.
func (c *connection) writeTextFile(ctx context.Context, sess *session, path, content string) error {
	canonical, err := sandbox.CanonicalizeForWrite(path, c.bridge.cfg.ProjectRoots)
	if err != nil {
		return err
	}

	store := c.bridge.perms
	const tool = "fs/write_text_file"

	var writeErr error
	lockErr := store.WithPathLock(canonical, func() error {
		if d, ok := store.Lookup(canonical); ok {
			_ = store.AuditOutcome(ctx, sess.id, canonical, tool, d, true, "")
			if !d.Allowed() {
				writeErr = errPermissionDenied("cached decision")
				return nil
			}
			if err := os.WriteFile(canonical, []byte(content), 0o644); err != nil {
				writeErr = &DomainError{Message: "write failed", Details: err.Error()}
			}
			return nil
		}

		_ = store.AuditPrompt(ctx, sess.id, canonical, tool)

		toolCall := acpsdk.ToolCallUpdate{
			ToolCallId: acpsdk.ToolCallId(newID()),
			Title:      "Write " + path,
			Locations:  []acpsdk.ToolCallLocation{{Path: canonical}},
		}
		options := permissionOptions()

		reply, relayErr := c.requestPermission(ctx, sess, toolCall, options)
		if relayErr != nil {
			writeErr = relayErr
			return nil
		}

		if reply.cancelled {
			_ = store.AuditOutcome(ctx, sess.id, canonical, tool, "", false, "")
			writeErr = errPermissionDenied("cancelled")
			return nil
		}

		decision := permission.Decision(reply.optionID)
		_ = store.AuditOutcome(ctx, sess.id, canonical, tool, decision, false, reply.optionID)

		if decision.Sticky() {
			if err := store.Record(ctx, canonical, decision); err != nil {
				writeErr = err
				return nil
			}
		}
		if !decision.Allowed() {
			writeErr = errPermissionDenied("denied by controller")
			return nil
		}

		if err := os.WriteFile(canonical, []byte(content), 0o644); err != nil {
			writeErr = &DomainError{Message: "write failed", Details: err.Error()}
		}
		return nil
	})
	if lockErr != nil {
		return lockErr
	}
	return writeErr
}

// permissionOptions builds the four standard permission choices spec.md
// §4.5 and §6 require on every write's permission prompt.
func permissionOptions() []acpsdk.PermissionOption {
	return []acpsdk.PermissionOption{
		{OptionId: string(permission.DecisionAllowOnce), Name: "Allow once", Kind: string(permission.DecisionAllowOnce)},
		{OptionId: string(permission.DecisionAllowAlways), Name: "Allow always", Kind: string(permission.DecisionAllowAlways)},
		{OptionId: string(permission.DecisionRejectOnce), Name: "Reject once", Kind: string(permission.DecisionRejectOnce)},
		{OptionId: string(permission.DecisionRejectAlways), Name: "Reject always", Kind: string(permission.DecisionRejectAlways)},
	}
}
