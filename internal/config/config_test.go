package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"BIND", "ORIGIN_ALLOW", "PROJECT_ROOTS", "POLICY_STORE_PATH",
		"AUDIT_LOG_PATH", "AGENT_COMMAND", "AGENT_ARGS", "AGENT_ENV",
		"CLAUDE_ACP_BIN", "HTTP_READ_TIMEOUT", "WS_READ_BUFFER_SIZE",
		"WS_WRITE_BUFFER_SIZE", "PROMPT_CANCEL_GRACE_PERIOD",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bind != "127.0.0.1:8137" {
		t.Errorf("Bind = %q, want 127.0.0.1:8137", cfg.Bind)
	}
	if len(cfg.OriginAllow) != 1 || cfg.OriginAllow[0] != "http://localhost:5173" {
		t.Errorf("OriginAllow = %v, want [http://localhost:5173]", cfg.OriginAllow)
	}
	if len(cfg.ProjectRoots) != 1 {
		t.Fatalf("ProjectRoots = %v, want one entry defaulting to cwd", cfg.ProjectRoots)
	}
	cwd, _ := os.Getwd()
	if cfg.ProjectRoots[0] != cwd {
		t.Errorf("ProjectRoots[0] = %q, want cwd %q", cfg.ProjectRoots[0], cwd)
	}
	if cfg.AgentCommand != "claude-code-acp" {
		t.Errorf("AgentCommand = %q, want claude-code-acp", cfg.AgentCommand)
	}
	if cfg.ClaudeACPBin != "" {
		t.Errorf("ClaudeACPBin = %q, want empty by default", cfg.ClaudeACPBin)
	}
	if cfg.HTTPReadTimeout != 15*time.Second {
		t.Errorf("HTTPReadTimeout = %v, want 15s", cfg.HTTPReadTimeout)
	}
	if cfg.WSReadBufferSize != 4096 || cfg.WSWriteBufferSize != 4096 {
		t.Errorf("WS buffer sizes = %d/%d, want 4096/4096", cfg.WSReadBufferSize, cfg.WSWriteBufferSize)
	}
	if cfg.PromptCancelGracePeriod != 5*time.Second {
		t.Errorf("PromptCancelGracePeriod = %v, want 5s", cfg.PromptCancelGracePeriod)
	}
	if cfg.PolicyStorePath == "" || cfg.AuditLogPath == "" {
		t.Errorf("expected default store/log paths to be derived, got %q / %q", cfg.PolicyStorePath, cfg.AuditLogPath)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t)

	root := t.TempDir()
	store := filepath.Join(t.TempDir(), "policy.db")

	os.Setenv("BIND", "0.0.0.0:9000")
	os.Setenv("ORIGIN_ALLOW", "https://a.example,https://b.example")
	os.Setenv("PROJECT_ROOTS", root)
	os.Setenv("POLICY_STORE_PATH", store)
	os.Setenv("AGENT_COMMAND", "custom-agent")
	os.Setenv("AGENT_ARGS", "--foo,--bar")
	os.Setenv("CLAUDE_ACP_BIN", "/usr/local/bin/claude-code-acp")
	os.Setenv("PROMPT_CANCEL_GRACE_PERIOD", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Bind != "0.0.0.0:9000" {
		t.Errorf("Bind = %q", cfg.Bind)
	}
	if len(cfg.OriginAllow) != 2 {
		t.Errorf("OriginAllow = %v", cfg.OriginAllow)
	}
	wantRoot, _ := filepath.Abs(root)
	if len(cfg.ProjectRoots) != 1 || cfg.ProjectRoots[0] != wantRoot {
		t.Errorf("ProjectRoots = %v, want [%s]", cfg.ProjectRoots, wantRoot)
	}
	if cfg.PolicyStorePath != store {
		t.Errorf("PolicyStorePath = %q, want %q", cfg.PolicyStorePath, store)
	}
	if cfg.AgentCommand != "custom-agent" {
		t.Errorf("AgentCommand = %q", cfg.AgentCommand)
	}
	if len(cfg.AgentArgs) != 2 || cfg.AgentArgs[0] != "--foo" || cfg.AgentArgs[1] != "--bar" {
		t.Errorf("AgentArgs = %v", cfg.AgentArgs)
	}
	if cfg.ClaudeACPBin != "/usr/local/bin/claude-code-acp" {
		t.Errorf("ClaudeACPBin = %q", cfg.ClaudeACPBin)
	}
	if cfg.PromptCancelGracePeriod != 2*time.Second {
		t.Errorf("PromptCancelGracePeriod = %v", cfg.PromptCancelGracePeriod)
	}
}

func TestLoadResolvesProjectRootsToAbsolutePaths(t *testing.T) {
	clearEnv(t)
	os.Setenv("PROJECT_ROOTS", "./testdata-does-not-need-to-exist")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !filepath.IsAbs(cfg.ProjectRoots[0]) {
		t.Fatalf("ProjectRoots[0] = %q, want an absolute path", cfg.ProjectRoots[0])
	}
}
