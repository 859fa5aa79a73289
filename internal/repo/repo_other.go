//go:build !windows

package repo

import "os/exec"

func applyPlatformAttrs(cmd *exec.Cmd) {}
