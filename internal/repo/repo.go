// Package repo wraps the git CLI operations a task needs against its base
// repository and its own worktree: creating and removing worktrees, listing
// branches, committing, pushing, and diffing. Every operation shells out to
// the git binary rather than a Go git implementation — git's own CLI is the
// source of truth for worktree semantics this runtime depends on.
package repo

import (
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/illuc-dev/illuc/internal/illucerr"
)

const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

// transientPatterns are error substrings that indicate a retryable git
// failure — lock contention from a concurrent git process, not a real
// command error.
var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations rooted at Dir — either the base repository or
// one of its worktrees.
type Repo struct {
	Dir string
}

// New creates a Repo for the given directory.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

// sleepFunc is a variable so tests can replace it and avoid real delays.
var sleepFunc = time.Sleep

// run executes `git -C <Dir> args...`, retrying transient lock errors with
// exponential backoff.
func (r *Repo) run(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", append([]string{"-C", r.Dir}, args...)...)
		applyPlatformAttrs(cmd)
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", illucerr.NewCommandError("git -C "+r.Dir+" "+strings.Join(args, " "), errMsg)
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil
}

// ValidateRepo confirms Dir is inside a git working tree.
func (r *Repo) ValidateRepo() error {
	_, err := r.run("rev-parse", "--is-inside-work-tree")
	return err
}

// RepoRoot returns the top-level directory of the repository.
func (r *Repo) RepoRoot() (string, error) {
	return r.run("rev-parse", "--show-toplevel")
}

// ResolveRef resolves ref (a branch, tag, or any git revision expression) to
// its full commit id.
func (r *Repo) ResolveRef(ref string) (string, error) {
	return r.run("rev-parse", ref)
}

// CurrentBranch returns the repository's checked-out branch name.
func (r *Repo) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// ListBranches returns all local branch names, trimming the leading "* "
// git branch puts in front of the currently checked-out one.
func (r *Repo) ListBranches() ([]string, error) {
	out, err := r.run("branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	lines := strings.Split(out, "\n")
	branches := make([]string, len(lines))
	for i, line := range lines {
		branches[i] = strings.TrimPrefix(strings.TrimSpace(line), "* ")
	}
	return branches, nil
}

// Worktree describes one entry from `git worktree list`.
type Worktree struct {
	Path   string
	Branch string
	Head   string
}

// ListWorktrees returns every worktree registered against this repository.
func (r *Repo) ListWorktrees() ([]Worktree, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreePorcelain(out), nil
}

func parseWorktreePorcelain(out string) []Worktree {
	var worktrees []Worktree
	var cur Worktree
	flush := func() {
		if cur.Path != "" {
			worktrees = append(worktrees, cur)
		}
		cur = Worktree{}
	}
	for _, line := range strings.Split(out, "\n") {
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			cur.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return worktrees
}

// AddWorktree creates a new worktree at path on a newly created branch
// named branch, based on from.
func (r *Repo) AddWorktree(path, branch, from string) error {
	_, err := r.run("worktree", "add", "-b", branch, path, from)
	return err
}

// RemoveWorktree removes a worktree. force passes --force, needed when the
// worktree has uncommitted changes that should be discarded anyway.
func (r *Repo) RemoveWorktree(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(args...)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repo) DeleteBranch(branch string) error {
	_, err := r.run("branch", "-D", branch)
	return err
}

// StageAll runs `git add -A`, staging every pending change (including
// deletions and new untracked files) without committing.
func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// HasChanges reports whether the worktree has any uncommitted changes,
// tracked or untracked.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Commit commits the worktree's currently staged state with message,
// staging every pending change first when stageAll is set.
func (r *Repo) Commit(message string, stageAll bool) error {
	if stageAll {
		if _, err := r.run("add", "-A"); err != nil {
			return err
		}
	}
	_, err := r.run("commit", "-m", message)
	return err
}

// Push pushes branch to remote, optionally setting up its upstream tracking
// ref (needed on a branch's first push).
func (r *Repo) Push(remote, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	_, err := r.run(args...)
	return err
}

// diffNoExternalArgs disables any configured external diff tool/pager so
// output is always git's own unified-diff format, regardless of the user's
// global git config.
var diffNoExternalArgs = []string{"-c", "diff.external=", "-c", "pager.diff=false"}

// FileStatus is one line of a `git diff --name-status` listing.
type FileStatus struct {
	Status string
	Path   string
}

// Diff returns the unified diff and the per-file status list between base
// and the worktree's current state (including uncommitted changes).
// ignoreWhitespace adds --ignore-all-space to both invocations.
func (r *Repo) Diff(base string, ignoreWhitespace bool) (diff string, files []FileStatus, err error) {
	diffArgs := append(append([]string{}, diffNoExternalArgs...), "diff")
	nameArgs := append(append([]string{}, diffNoExternalArgs...), "diff", "--name-status")
	if ignoreWhitespace {
		diffArgs = append(diffArgs, "--ignore-all-space")
		nameArgs = append(nameArgs, "--ignore-all-space")
	}
	diffArgs = append(diffArgs, base)
	nameArgs = append(nameArgs, base)

	diff, err = r.run(diffArgs...)
	if err != nil {
		return "", nil, err
	}

	out, err := r.run(nameArgs...)
	if err != nil {
		return "", nil, err
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		files = append(files, FileStatus{Status: fields[0], Path: fields[1]})
	}
	return diff, files, nil
}

// EnsureIdentity sets a local user.name/user.email if neither resolves from
// global config or environment, so commits in a fresh worktree don't fail
// with "Author identity unknown".
func (r *Repo) EnsureIdentity(name, email string) {
	if _, err := r.run("config", "user.name"); err != nil {
		r.run("config", "user.name", name)
	}
	if _, err := r.run("config", "user.email"); err != nil {
		r.run("config", "user.email", email)
	}
}

// WorktreeRoot returns the managed worktree directory for a task under the
// base repository's .illuc/worktrees convention.
func WorktreeRoot(repoDir, taskID string) string {
	return filepath.Join(repoDir, ".illuc", "worktrees", taskID)
}
