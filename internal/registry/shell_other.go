//go:build !windows

package registry

import "os"

// shellCommand returns the user's default interactive shell for the
// worktree auxiliary PTY, falling back to bash when $SHELL is unset.
func shellCommand() (string, []string) {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, nil
	}
	return "bash", nil
}
