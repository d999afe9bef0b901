package sandbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// policyFileName is the repo-level allowlist consulted by pre-exec checks.
const policyFileName = ".code/sandbox-policy.json"

// policyLogFileName is the JSONL audit trail of policy violations.
const policyLogFileName = ".code/sandbox-policy.log.jsonl"

// RepoPolicy is the on-disk shape of the optional per-repo command
// allowlist. Levels map a named sandbox level (e.g. "workspace-write") to
// the set of command basenames permitted to run under it.
type RepoPolicy struct {
	ActiveLevel string              `json:"active_level"`
	Levels      map[string][]string `json:"levels"`
}

func loadRepoPolicy(cwd string) (*RepoPolicy, bool) {
	raw, err := os.ReadFile(filepath.Join(cwd, policyFileName))
	if err != nil {
		return nil, false
	}
	var p RepoPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func (p *RepoPolicy) allows(basename string) bool {
	allowed, ok := p.Levels[p.ActiveLevel]
	if !ok {
		return true // unknown level: fail open, this is advisory only
	}
	for _, name := range allowed {
		if name == basename {
			return true
		}
	}
	return false
}

type policyLogEntry struct {
	TSMs    int64  `json:"ts_ms"`
	Command string `json:"command"`
	Level   string `json:"level"`
	Kind    string `json:"kind"` // "not_in_allowlist" | "sandbox_violation"
}

func appendPolicyLog(cwd string, entry policyLogEntry) {
	path := filepath.Join(cwd, policyLogFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = f.Write(append(line, '\n'))
}

// policyWarning is a non-fatal advisory surfaced to stdout and logged when a
// command isn't on the active level's allowlist. Best-effort and
// non-blocking: it never prevents execution (spec §4.7 "pre-exec policy
// checks" #1).
func policyWarning(cwd string, command []string) string {
	if len(command) == 0 {
		return ""
	}
	repoPolicy, ok := loadRepoPolicy(cwd)
	if !ok {
		return ""
	}
	basename := filepath.Base(command[0])
	if repoPolicy.allows(basename) {
		return ""
	}
	appendPolicyLog(cwd, policyLogEntry{
		TSMs:    time.Now().UnixMilli(),
		Command: strings.Join(command, " "),
		Level:   repoPolicy.ActiveLevel,
		Kind:    "not_in_allowlist",
	})
	return "[policy] warning: `" + basename + "` is not in the `" + repoPolicy.ActiveLevel + "` allowlist"
}

// logSandboxViolation records a command that was denied by the sandbox
// (spec §4.7 "pre-exec policy checks" #2, which phrases this as an
// advisory emitted at denial time rather than before exec).
func logSandboxViolation(cwd string, command []string, kind SandboxKind) {
	appendPolicyLog(cwd, policyLogEntry{
		TSMs:    time.Now().UnixMilli(),
		Command: strings.Join(command, " "),
		Level:   string(kind),
		Kind:    "sandbox_violation",
	})
}
