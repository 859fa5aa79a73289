package repo

import (
	"testing"
)

func TestParseWorktreePorcelain(t *testing.T) {
	out := "worktree /repo\n" +
		"HEAD abc123\n" +
		"branch refs/heads/main\n" +
		"\n" +
		"worktree /repo/.illuc/worktrees/t1\n" +
		"HEAD def456\n" +
		"branch refs/heads/task/t1\n"

	got := parseWorktreePorcelain(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 worktrees, got %d: %+v", len(got), got)
	}
	if got[0].Path != "/repo" || got[0].Branch != "main" || got[0].Head != "abc123" {
		t.Errorf("unexpected first entry: %+v", got[0])
	}
	if got[1].Path != "/repo/.illuc/worktrees/t1" || got[1].Branch != "task/t1" {
		t.Errorf("unexpected second entry: %+v", got[1])
	}
}

func TestParseWorktreePorcelainDetachedHead(t *testing.T) {
	out := "worktree /repo/.illuc/worktrees/t2\n" +
		"HEAD abc123\n" +
		"detached\n"

	got := parseWorktreePorcelain(out)
	if len(got) != 1 {
		t.Fatalf("expected 1 worktree, got %d", len(got))
	}
	if got[0].Branch != "" {
		t.Errorf("expected no branch for detached HEAD, got %q", got[0].Branch)
	}
}

func TestIsTransient(t *testing.T) {
	cases := map[string]bool{
		"fatal: Unable to create '/repo/.git/index.lock': File exists.": true,
		"error: cannot lock ref 'refs/heads/main'":                      true,
		"fatal: pathspec 'foo' did not match any files":                 false,
		"":                                                              false,
	}
	for msg, want := range cases {
		if got := isTransient(msg); got != want {
			t.Errorf("isTransient(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestWorktreeRoot(t *testing.T) {
	got := WorktreeRoot("/home/me/project", "task-42")
	want := "/home/me/project/.illuc/worktrees/task-42"
	if got != want {
		t.Errorf("WorktreeRoot = %q, want %q", got, want)
	}
}
