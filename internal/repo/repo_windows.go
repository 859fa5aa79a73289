//go:build windows

package repo

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// applyPlatformAttrs suppresses the console window git.exe would otherwise
// briefly flash open on Windows for every subprocess call.
func applyPlatformAttrs(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NO_WINDOW,
	}
}
