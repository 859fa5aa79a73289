package registry

import (
	"regexp"
	"strings"
)

// simpleID returns a short, human-friendly fragment of a UUID for default
// task titles ("Task a1b2c3d4").
func simpleID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

var digitRun = regexp.MustCompile(`\d{3,}`)

// branchTitle derives a human-readable title from a branch name, for tasks
// discovered from an existing worktree rather than created fresh: it takes
// the last "/"-segment, pulls out the first run of 3+ decimal digits as a
// bracketed task id, and title-cases the remaining "-"/"_"-separated words.
func branchTitle(branch string) string {
	segs := strings.Split(branch, "/")
	last := segs[len(segs)-1]

	var idTag string
	if m := digitRun.FindString(last); m != "" {
		idTag = "[" + m + "] "
		last = strings.Replace(last, m, " ", 1)
	}

	words := strings.FieldsFunc(last, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	title := strings.Join(words, " ")
	if title == "" {
		title = "Task"
	}
	return idTag + title
}

// detachedBranchName synthesizes a label for a worktree checked out at a
// detached HEAD rather than a branch.
func detachedBranchName(head string) string {
	n := min(len(head), 7)
	return "detached-" + head[:n]
}
