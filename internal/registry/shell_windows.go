//go:build windows

package registry

// shellCommand returns the worktree auxiliary PTY's shell on Windows:
// PowerShell without the copyright banner, which would otherwise clutter
// the screen the task driver's pattern matching never looks at anyway.
func shellCommand() (string, []string) {
	return "powershell.exe", []string{"-NoLogo"}
}
