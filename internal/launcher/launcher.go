// Package launcher spawns external GUI helpers — an editor, a terminal
// emulator, the OS file browser — rooted at a task's working copy. Every
// launcher tries a list of candidate binaries in order and succeeds on the
// first one actually installed; a missing binary is not an error, only the
// exhaustion of every candidate is.
package launcher

import (
	"errors"
	"os/exec"
	"runtime"

	"github.com/illuc-dev/illuc/internal/illucerr"
)

// candidate is one external command this launcher might try, args already
// including the target path.
type candidate struct {
	bin  string
	args []string
}

// tryCandidates runs each candidate in order, returning nil on the first
// one that actually starts. A "binary not found" error moves on to the next
// candidate; any other spawn error is returned immediately, since it means
// the binary exists but something else is wrong (bad args, permissions).
func tryCandidates(candidates []candidate, notFoundMsg string) error {
	for _, c := range candidates {
		cmd := exec.Command(c.bin, c.args...)
		err := cmd.Start()
		if err == nil {
			go cmd.Wait()
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			continue
		}
		var pathErr *exec.Error
		if errors.As(err, &pathErr) && errors.Is(pathErr.Err, exec.ErrNotFound) {
			continue
		}
		return err
	}
	return illucerr.Message(notFoundMsg)
}

// OpenVSCode opens path in VS Code.
func OpenVSCode(path string) error {
	var names []string
	if runtime.GOOS == "windows" {
		names = []string{"code.cmd", "code.exe", "code"}
	} else {
		names = []string{"code"}
	}
	candidates := make([]candidate, len(names))
	for i, n := range names {
		candidates[i] = candidate{bin: n, args: []string{path}}
	}
	return tryCandidates(candidates, "VS Code is not installed or not on PATH")
}

// OpenTerminal opens a new terminal window rooted at path, trying the
// platform's common terminal emulators in turn.
func OpenTerminal(path string) error {
	if runtime.GOOS == "windows" {
		return tryCandidates([]candidate{
			{bin: "wt", args: []string{"-d", path}},
			{bin: "alacritty", args: []string{"--working-directory", path}},
			{bin: "alacritty.exe", args: []string{"--working-directory", path}},
			{bin: "cmd", args: []string{"/C", "start", "cmd", "/K", `cd /d "` + path + `"`}},
			{bin: "cmd", args: []string{"/C", "start", "powershell", "-NoExit", "-Command", `Set-Location -Path "` + path + `"`}},
		}, "unable to launch a terminal window: install Windows Terminal or ensure cmd.exe is available")
	}

	return tryCandidates([]candidate{
		{bin: "x-terminal-emulator", args: []string{"--working-directory", path}},
		{bin: "gnome-terminal", args: []string{"--working-directory", path}},
		{bin: "konsole", args: []string{"--workdir", path}},
		{bin: "xfce4-terminal", args: []string{"--working-directory", path}},
		{bin: "kitty", args: []string{"--directory", path}},
		{bin: "alacritty", args: []string{"--working-directory", path}},
		{bin: "terminator", args: []string{"--working-directory", path}},
		{bin: "tilix", args: []string{"--working-directory", path}},
	}, "unable to find a supported terminal application: install gnome-terminal, kitty, or another supported terminal")
}

// OpenExplorer opens path in the OS's file browser.
func OpenExplorer(path string) error {
	switch runtime.GOOS {
	case "windows":
		return tryCandidates([]candidate{{bin: "explorer", args: []string{path}}}, "unable to launch the file explorer")
	case "darwin":
		return tryCandidates([]candidate{{bin: "open", args: []string{path}}}, "unable to launch Finder")
	default:
		return tryCandidates([]candidate{{bin: "xdg-open", args: []string{path}}}, "unable to launch a file manager: install xdg-utils")
	}
}
