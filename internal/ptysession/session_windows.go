//go:build windows

package ptysession

import "strings"

// translateCommand rewrites a direct command invocation into one run inside
// WSL via ubuntu.exe: there is no native PTY-friendly codex/copilot build for
// Windows, so every agent process actually runs under the default WSL
// distro. dir is only used to compute the WSL cwd; env vars are exported
// inline since ubuntu.exe run doesn't pass through a parent environment.
func translateCommand(name string, args []string, dir string, env []string) (string, []string) {
	wslPath := toWSLPath(dir)
	var b strings.Builder
	b.WriteString("cd ")
	b.WriteString(bashEscape(wslPath))
	b.WriteString(" && ")
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		b.WriteString("export ")
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(bashEscape(value))
		b.WriteString("; ")
	}
	b.WriteString(name)
	for _, a := range args {
		b.WriteString(" ")
		b.WriteString(bashEscape(a))
	}
	return "ubuntu.exe", []string{"run", "bash", "-lc", b.String()}
}

// toWSLPath maps a Windows path such as C:\Users\me\proj to its WSL mount
// point, /mnt/c/Users/me/proj. Paths that don't start with a drive letter
// fall back to the WSL root.
func toWSLPath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	if len(p) < 2 || p[1] != ':' {
		return "/"
	}
	drive := strings.ToLower(p[:1])
	rest := strings.TrimPrefix(p[2:], "/")
	return "/mnt/" + drive + "/" + rest
}

// bashEscape wraps value in single quotes, escaping any embedded single
// quote the POSIX-shell way: close the quote, emit an escaped quote, reopen.
func bashEscape(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}
