//go:build darwin

package sandbox

// osLevelWrapArgs wraps command with macOS's sandbox-exec using a profile
// derived from policy. sandbox-exec is deprecated but remains the only
// built-in seatbelt entry point available without a private framework.
func osLevelWrapArgs(command []string, policy SandboxPolicy) []string {
	profile := seatbeltProfile(policy)
	args := []string{"sandbox-exec", "-p", profile}
	if wantsPTY() {
		args = append([]string{"script", "-q", "/dev/null"}, args...)
	}
	return append(args, command...)
}

func seatbeltProfile(policy SandboxPolicy) string {
	switch policy.Kind {
	case PolicyDangerFullAccess:
		return "(version 1)(allow default)"
	case PolicyWorkspaceWrite:
		profile := "(version 1)(deny default)(allow process-fork)(allow file-read*)"
		for _, root := range policy.WritableRoots {
			profile += `(allow file-write* (subpath "` + root + `"))`
		}
		if !policy.NetworkAccess {
			profile += "(deny network*)"
		} else {
			profile += "(allow network*)"
		}
		return profile
	default: // PolicyReadOnly
		return "(version 1)(deny default)(allow process-fork)(allow file-read*)(deny network*)"
	}
}
