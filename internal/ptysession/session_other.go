//go:build !windows

package ptysession

// translateCommand is a no-op on every platform except Windows, where the
// agent binaries only exist inside WSL.
func translateCommand(name string, args []string, dir string, env []string) (string, []string) {
	return name, args
}
