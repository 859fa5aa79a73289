package agentdriver

// profile declares the fixed, per-kind facts a driver needs: its binary
// name and the argv used for a fresh vs. a resumed session. Keeping this as
// a table, rather than letting each driver hardcode its own strings, means
// adding a third agent kind later is a new row instead of a new type switch
// arm anywhere that dispatches on Kind.
type profile struct {
	binaryName string
	freshArgs  []string
	resumeArgs func(hint string) []string
}

var profiles = map[Kind]profile{
	KindCodex: {
		binaryName: "codex",
		freshArgs:  []string{"resume"},
		resumeArgs: func(hint string) []string {
			if hint == "" {
				return []string{"resume"}
			}
			return []string{"resume", hint}
		},
	},
	KindCopilot: {
		binaryName: "copilot",
		freshArgs:  []string{"--allow-all-tools", "--deny-tool", "shell(git push)"},
		resumeArgs: func(hint string) []string {
			args := []string{"--allow-all-tools", "--deny-tool", "shell(git push)"}
			if hint != "" {
				args = append(args, "--resume", hint)
			}
			return args
		},
	},
}
