package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/creack/pty"

	"github.com/acpbridge/acpbridge/internal/jsonrpc"
)

// resolveCLIBinary finds the agent CLI binary auth/cli_login should launch,
// in the order spec.md §4.7 specifies: an explicit override, each project
// root's node_modules/.bin in turn, then the process PATH. name is the
// binary name derived from the request's agent selector (default "claude").
func resolveCLIBinary(cfg interface {
	bin() string
	roots() []string
}, name string) (string, error) {
	if override := cfg.bin(); override != "" {
		return override, nil
	}

	for _, root := range cfg.roots() {
		candidate := filepath.Join(root, "node_modules", ".bin", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", errCLIUnavailable(fmt.Sprintf("%q not found via override, node_modules/.bin, or PATH", name))
}

type authBinaryConfig struct {
	override     string
	projectRoots []string
}

func (a authBinaryConfig) bin() string     { return a.override }
func (a authBinaryConfig) roots() []string { return a.projectRoots }

// handleAuthCLILogin launches the agent CLI's interactive login flow under a
// pseudo-terminal (spec.md §4.7), so prompts the CLI itself renders (device
// codes, confirmation prompts) behave the way they would in a real
// terminal. Output streams to the controller as auth/cli_login/progress
// notifications until the process exits, at which point a single
// auth/cli_login/complete notification reports its outcome. The original
// request is acknowledged immediately; the flow itself runs asynchronously,
// mirroring the teacher's pty.Session.StartOutputReader pattern
// (internal/pty/session.go), repurposed from terminal multiplexing to a
// one-shot login subprocess.
func (c *connection) handleAuthCLILogin(ctx context.Context, id json.RawMessage, params json.RawMessage) {
	var req struct {
		Agent string `json:"agent"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			c.sendError(id, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params", err.Error()))
			return
		}
	}
	if req.Agent == "" {
		req.Agent = "claude"
	}

	bin, err := resolveCLIBinary(authBinaryConfig{
		override:     c.bridge.cfg.ClaudeACPBin,
		projectRoots: c.bridge.cfg.ProjectRoots,
	}, req.Agent+"-code-acp")
	if err != nil {
		c.sendError(id, rpcErrorFrom(err))
		return
	}

	cmd := exec.Command(bin, "/login")
	if len(c.bridge.cfg.ProjectRoots) > 0 {
		cmd.Dir = c.bridge.cfg.ProjectRoots[0]
	}
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.Start(cmd)
	if err != nil {
		c.sendError(id, rpcErrorFrom(errCLIUnavailable(err.Error())))
		return
	}

	c.sendResult(id, map[string]interface{}{"status": "started"})

	go c.streamCLILogin(ptmx, cmd)
}

// streamCLILogin drains the login subprocess's combined pty output line by
// line as progress notifications, then reports completion once the process
// exits. It never returns an error to a caller; failures are reported to
// the controller as the completion notification's outcome.
func (c *connection) streamCLILogin(ptmx *os.File, cmd *exec.Cmd) {
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 4096), 64*1024)
	for scanner.Scan() {
		frame, err := marshalNotification("auth/cli_login/progress", map[string]interface{}{
			"message": scanner.Text(),
		})
		if err != nil {
			c.logger.Warn("bridge: marshal auth progress", "error", err)
			continue
		}
		if err := c.writeFrame(frame); err != nil {
			c.logger.Warn("bridge: write auth progress", "error", err)
			return
		}
	}
	ptmx.Close()

	_ = cmd.Wait()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	frame, err := marshalNotification("auth/cli_login/complete", map[string]interface{}{"exitCode": exitCode})
	if err != nil {
		c.logger.Warn("bridge: marshal auth complete", "error", err)
		return
	}
	if err := c.writeFrame(frame); err != nil {
		c.logger.Warn("bridge: write auth complete", "error", err)
	}
}
