package exec

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus/internal/infra"
)

// GuardConfig controls which shell commands the Bash tool will run. It
// mirrors the security/ask/allowlist shape infra.ExecApprovals* defines for
// channel bots, but resolved once at startup from internal/config rather than
// loaded from a per-agent JSON file: a coding session has exactly one
// workspace and no second human to approve a miss mid-turn, so "ask" simply
// means "reject and tell the model why" instead of blocking on a prompt.
type GuardConfig struct {
	Security  infra.ExecSecurity
	Allowlist []infra.AllowlistEntry
	SafeBins  []string
}

// CommandGuard decides whether a shell command is allowed to run before the
// manager ever forks /bin/sh, grounded on infra.AnalyzeShellCommand's
// pipeline-aware tokenizer (internal/infra/exec_approvals.go).
type CommandGuard struct {
	security  infra.ExecSecurity
	allowlist []infra.AllowlistEntry
	safeBins  map[string]bool
}

// NewCommandGuard builds a guard from cfg. A zero-value GuardConfig yields a
// guard in ExecSecurityFull mode, which permits everything (the default for
// the teacher's own single-operator deployments).
func NewCommandGuard(cfg GuardConfig) *CommandGuard {
	security := cfg.Security
	if security == "" {
		security = infra.ExecSecurityFull
	}
	safeBins := cfg.SafeBins
	if safeBins == nil {
		safeBins = infra.DefaultSafeBins
	}
	return &CommandGuard{
		security:  security,
		allowlist: cfg.Allowlist,
		safeBins:  infra.NormalizeSafeBins(safeBins),
	}
}

// Check analyzes command and returns a non-nil error describing why it is
// blocked. cwd is the directory the command would run in, used to resolve
// relative executables and allowlist patterns.
func (g *CommandGuard) Check(command, cwd string) error {
	if g == nil || g.security == infra.ExecSecurityFull {
		return nil
	}
	if g.security == infra.ExecSecurityDeny {
		return fmt.Errorf("command execution is disabled for this workspace")
	}

	analysis := infra.AnalyzeShellCommand(command, cwd)
	evaluation := infra.EvaluateExecAllowlist(analysis, g.allowlist, g.safeBins, cwd)
	if infra.RequiresApproval(infra.ExecAskOnMiss, g.security, analysis.OK, evaluation.Satisfied) {
		if !analysis.OK {
			return fmt.Errorf("command rejected: %s", analysis.Reason)
		}
		return fmt.Errorf("command %q is not on the allowlist; add an AllowlistEntry pattern matching its resolved executable path", strings.TrimSpace(command))
	}
	return nil
}
