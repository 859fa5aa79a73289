// Package registry owns every task in the runtime: creation, starting and
// stopping its PTY session, routing agent output through the status
// classifier, and discarding its worktree. It is the one place that
// coordinates ptysession, agentdriver, vterm, repo, events, and diffwatch
// into a single coherent per-task lifecycle.
package registry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/illuc-dev/illuc/internal/agentdriver"
	"github.com/illuc-dev/illuc/internal/diffwatch"
	"github.com/illuc-dev/illuc/internal/events"
	"github.com/illuc-dev/illuc/internal/illucerr"
	"github.com/illuc-dev/illuc/internal/ptysession"
	"github.com/illuc-dev/illuc/internal/repo"
	"github.com/illuc-dev/illuc/internal/vterm"
)

const (
	defaultScreenRows = 40
	defaultScreenCols = 120
	defaultPTYRows    = 40
	defaultPTYCols    = 80

	idlePollInterval = 250 * time.Millisecond
)

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Registry holds every known task, keyed by ID.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	bus     *events.Bus
	watcher *diffwatch.Watcher
	log     *slog.Logger
}

// New creates an empty Registry wired to bus for event publication and
// watcher for per-task filesystem watches.
func New(bus *events.Bus, watcher *diffwatch.Watcher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tasks:   make(map[string]*Task),
		bus:     bus,
		watcher: watcher,
		log:     log,
	}
}

// CreateParams describes a new task's identity before any process runs.
type CreateParams struct {
	RepoDir   string
	Title     string
	Branch    string
	BaseRef   string
	AgentKind agentdriver.Kind
}

// Create resolves BaseRef to a commit, checks out a new worktree for the
// task off it, and registers the task in StatusStopped. It does not start
// any process — call Start separately.
func (r *Registry) Create(p CreateParams) (*Task, error) {
	base := repo.New(p.RepoDir)
	root, err := base.RepoRoot()
	if err != nil {
		return nil, illucerr.Messagef("base_repo_path is not a git repository: %v", err)
	}

	baseRef := p.BaseRef
	if baseRef == "" {
		baseRef = "HEAD"
	}
	baseCommit, err := base.ResolveRef(baseRef)
	if err != nil {
		return nil, err
	}

	branch := strings.TrimSpace(p.Branch)
	if branch == "" {
		return nil, illucerr.Message("branch_name must not be empty")
	}

	id := uuid.New().String()
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = "Task " + simpleID(id)
	}
	worktree := repo.WorktreeRoot(root, id)

	if err := base.AddWorktree(worktree, branch, baseRef); err != nil {
		return nil, err
	}

	t := newTask(id, title, root, baseRef, baseCommit, branch, worktree, p.AgentKind, r.log)

	r.mu.Lock()
	r.tasks[id] = t
	r.mu.Unlock()

	r.bus.PublishStatusChanged(t.ID, string(t.Status))

	return t, nil
}

// RegisterExisting adopts every worktree under repoDir's managed worktree
// root that isn't already in the registry (e.g. after a daemon restart) as
// a new Stopped task, deriving title and branch from git rather than
// creating anything new. It returns the tasks it newly inserted.
func (r *Registry) RegisterExisting(repoDir string, kind agentdriver.Kind) ([]*Task, error) {
	base := repo.New(repoDir)
	root, err := base.RepoRoot()
	if err != nil {
		return nil, illucerr.Messagef("base_repo_path is not a git repository: %v", err)
	}

	worktrees, err := base.ListWorktrees()
	if err != nil {
		return nil, err
	}

	managedRoot := filepath.Join(root, ".illuc", "worktrees") + string(filepath.Separator)

	r.mu.Lock()
	known := make(map[string]bool, len(r.tasks))
	for _, t := range r.tasks {
		known[t.Worktree] = true
	}
	r.mu.Unlock()

	var inserted []*Task
	for _, wt := range worktrees {
		if wt.Path == root {
			continue
		}
		if !strings.HasPrefix(wt.Path+string(filepath.Separator), managedRoot) {
			continue
		}
		if known[wt.Path] {
			continue
		}

		branch := wt.Branch
		var title string
		if branch == "" {
			branch = detachedBranchName(wt.Head)
			title = branchTitle(branch)
		} else {
			title = branchTitle(branch)
		}

		id := uuid.New().String()
		t := newTask(id, title, root, "HEAD", wt.Head, branch, wt.Path, kind, r.log)

		r.mu.Lock()
		r.tasks[id] = t
		r.mu.Unlock()

		r.bus.PublishStatusChanged(t.ID, string(t.Status))
		inserted = append(inserted, t)
	}

	return inserted, nil
}

// Get returns the task with the given ID.
func (r *Registry) Get(id string) (*Task, error) {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, illucerr.ErrTaskNotFound
	}
	return t, nil
}

// List returns a snapshot of every known task.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Snapshot())
	}
	return out
}

// StartParams describes how to spawn a task's agent session. Rows/Cols
// default to 40x120 for the screen and 40x80 for the PTY itself, matching
// Codex's current terminal geometry; Agent, if set, replaces the task's
// agent kind for this (and future) starts.
type StartParams struct {
	Rows       int
	Cols       int
	Agent      *agentdriver.Kind
	ResumeHint string
}

// Start spawns the agent's PTY session for a Stopped/Completed/Failed
// task, wiring its output into the screen, driver, event bus, and idle
// timer.
func (r *Registry) Start(id string, p StartParams) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.Status.hasRuntime() {
		t.mu.Unlock()
		return illucerr.ErrAlreadyRunning
	}
	if t.Status == StatusDiscarded {
		t.mu.Unlock()
		return illucerr.Message("task has been discarded")
	}
	if p.Agent != nil {
		t.AgentKind = *p.Agent
	}
	kind := t.AgentKind
	t.mu.Unlock()

	screenRows := orDefault(p.Rows, defaultScreenRows)
	screenCols := orDefault(p.Cols, defaultScreenCols)
	ptyRows := orDefault(p.Rows, defaultPTYRows)
	ptyCols := orDefault(p.Cols, defaultPTYCols)

	driver := agentdriver.New(kind)
	screen := vterm.New(screenRows, screenCols)
	name, args := driver.Args(t.Worktree, p.ResumeHint)

	rt := &runtime{screen: screen, driver: driver, idleStop: make(chan struct{})}

	session, err := ptysession.Start(name, args, t.Worktree, nil, ptyRows, ptyCols, ptysession.Callbacks{
		Output: func(chunk []byte) { r.handleOutput(t, rt, chunk) },
		Exit:   func(code int, _ error) { r.handleExit(t, rt, code) },
	})
	if err != nil {
		return err
	}
	rt.session = session

	t.mu.Lock()
	t.rt = rt
	t.Status = StatusIdle
	t.StartedAt = time.Now()
	t.ExitCode = nil
	t.EndedAt = time.Time{}
	t.mu.Unlock()

	r.bus.PublishStatusChanged(t.ID, string(StatusIdle))

	go r.idleLoop(t, rt)

	// The runtime is installed under the task lock and Idle is published
	// above before the reader starts streaming, so status_changed(Idle)
	// is always emitted ahead of any terminal_output for this session.
	session.Begin()

	return nil
}

// handleOutput runs on the PTY reader goroutine: it feeds the screen,
// publishes the raw chunk, and asks the driver which status this output
// implies. A transition is published when that differs from the task's
// current status, which the idle loop may have moved to Idle meanwhile.
func (r *Registry) handleOutput(t *Task, rt *runtime, chunk []byte) {
	rt.screen.Feed(chunk)
	r.bus.PublishOutput(t.ID, events.TerminalAgent, chunk)

	screenText := rt.screen.Snapshot()
	status, _ := rt.driver.Observe(chunk, screenText, rt.session, rt.screen.Snapshot)

	newStatus := fromDriverStatus(status)

	t.mu.Lock()
	if !t.Status.hasRuntime() || t.Status == newStatus {
		t.mu.Unlock()
		return
	}
	t.Status = newStatus
	t.mu.Unlock()

	r.bus.PublishStatusChanged(t.ID, string(newStatus))
}

func fromDriverStatus(s agentdriver.Status) Status {
	switch s {
	case agentdriver.StatusIdle:
		return StatusIdle
	case agentdriver.StatusAwaitingApproval:
		return StatusAwaitingApproval
	default:
		return StatusWorking
	}
}

// resolveExitStatus implements §4.E.6's terminal-status table: a task the
// caller already stopped or discarded stays in that status regardless of
// the child's exit code; any other status resolves to Completed/Failed by
// whether the exit was clean.
func resolveExitStatus(current Status, code int) Status {
	switch current {
	case StatusStopped:
		return StatusStopped
	case StatusDiscarded:
		return StatusDiscarded
	}
	if code == 0 {
		return StatusCompleted
	}
	return StatusFailed
}

// handleExit runs exactly once per session, whether the agent exited on its
// own or was killed by Stop/Discard. It always records exit_code and
// ended_at — the only question is which status the task resolves to.
func (r *Registry) handleExit(t *Task, rt *runtime, code int) {
	t.mu.Lock()
	resolved := resolveExitStatus(t.Status, code)
	codeCopy := code
	t.ExitCode = &codeCopy
	t.EndedAt = time.Now()
	if t.rt == rt {
		t.rt = nil
	}
	t.Status = resolved
	t.mu.Unlock()

	close(rt.idleStop)
	if r.watcher != nil {
		r.watcher.Stop(t.ID)
	}

	r.bus.PublishStatusChanged(t.ID, string(resolved))
	r.bus.PublishExit(t.ID, events.TerminalAgent, code)
}

// idleLoop transitions a Working task to Idle once its session has been
// silent for longer than the driver's idle threshold. It stops as soon as
// the runtime it was spawned for is torn down, whether by exit or Stop.
func (r *Registry) idleLoop(t *Task, rt *runtime) {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.idleStop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.rt != rt {
				t.mu.Unlock()
				return
			}
			idle := rt.session.IdleDuration() >= rt.driver.IdleThreshold()
			shouldTransition := idle && t.Status == StatusWorking
			if shouldTransition {
				t.Status = StatusIdle
			}
			t.mu.Unlock()

			if shouldTransition {
				r.bus.PublishStatusChanged(t.ID, string(StatusIdle))
			}
		}
	}
}

// Stop signals a running task's session to die and immediately marks it
// Stopped, without waiting for the child to actually exit (spec.md's Open
// Question on this is resolved in favor of the source's async behavior).
// The later exit callback will record exit_code/ended_at but must leave the
// status at Stopped rather than resolving it to Completed/Failed.
func (r *Registry) Stop(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if !t.Status.hasRuntime() {
		t.mu.Unlock()
		return illucerr.ErrNotRunning
	}
	rt := t.rt
	t.Status = StatusStopped
	t.mu.Unlock()

	r.bus.PublishStatusChanged(id, string(StatusStopped))

	return rt.session.Kill()
}

// Discard stops a task if running, best-effort removes its worktree and
// branch from git and disk, marks it Discarded, and removes it from the
// registry. Every teardown step after the snapshot is best-effort: a
// partial failure still results in the task being gone from the registry,
// so a caller never gets stuck retrying an undiscardable task.
func (r *Registry) Discard(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	if r.watcher != nil {
		r.watcher.Stop(id)
	}

	t.mu.Lock()
	running := t.Status.hasRuntime()
	rt := t.rt
	t.mu.Unlock()

	if running {
		if err := r.Stop(id); err != nil {
			r.log.Warn("registry: stop on discard failed", "task_id", id, "err", err)
		}
	}
	if rt != nil && rt.worktreeSession != nil {
		if err := rt.worktreeSession.Kill(); err != nil {
			r.log.Warn("registry: kill worktree shell on discard failed", "task_id", id, "err", err)
		}
	}

	base := repo.New(t.RepoDir)
	if err := base.RemoveWorktree(t.Worktree, true); err != nil {
		r.log.Warn("registry: remove worktree failed", "task_id", id, "err", err)
	}
	if err := base.DeleteBranch(t.Branch); err != nil {
		r.log.Warn("registry: delete branch failed", "task_id", id, "err", err)
	}
	if _, statErr := os.Stat(t.Worktree); statErr == nil {
		if err := os.RemoveAll(t.Worktree); err != nil {
			r.log.Warn("registry: remove worktree directory failed", "task_id", id, "err", err)
		}
	}

	t.mu.Lock()
	t.rt = nil
	t.Status = StatusDiscarded
	t.mu.Unlock()

	r.bus.PublishStatusChanged(id, string(StatusDiscarded))

	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()

	return nil
}

// WriteInput forwards raw bytes to a running task's agent session.
func (r *Registry) WriteInput(id string, p []byte) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if !t.Status.hasRuntime() {
		t.mu.Unlock()
		return illucerr.ErrNotRunning
	}
	rt := t.rt
	t.mu.Unlock()

	_, err = rt.session.Write(p)
	return err
}

// Resize resizes a running task's agent PTY.
func (r *Registry) Resize(id string, rows, cols int) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if !t.Status.hasRuntime() {
		t.mu.Unlock()
		return illucerr.ErrNotRunning
	}
	rt := t.rt
	t.mu.Unlock()

	rt.screen.Resize(rows, cols)
	return rt.session.Resize(rows, cols)
}

// Screen returns the current rendered text of a running task's agent
// screen, for clients that poll instead of streaming raw output.
func (r *Registry) Screen(id string) (string, error) {
	t, err := r.Get(id)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	if !t.Status.hasRuntime() {
		t.mu.Unlock()
		return "", illucerr.ErrNotRunning
	}
	rt := t.rt
	t.mu.Unlock()

	return rt.screen.Snapshot(), nil
}

// OpenWorktreeShell lazily starts a second, independent PTY into the task's
// worktree running the user's default shell (see shellCommand), distinct from the agent's own
// session. Calling it again while already open is a no-op.
func (r *Registry) OpenWorktreeShell(id string, rows, cols int) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if !t.Status.hasRuntime() {
		t.mu.Unlock()
		return illucerr.ErrNotRunning
	}
	rt := t.rt
	if rt.worktreeSession != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	screen := vterm.New(rows, cols)
	shellName, shellArgs := shellCommand()
	session, err := ptysession.Start(shellName, shellArgs, t.Worktree, nil, rows, cols, ptysession.Callbacks{
		Output: func(chunk []byte) {
			screen.Feed(chunk)
			r.bus.PublishOutput(t.ID, events.TerminalWorktree, chunk)
		},
		Exit: func(code int, _ error) {
			r.bus.PublishExit(t.ID, events.TerminalWorktree, code)
		},
	})
	if err != nil {
		return err
	}

	t.mu.Lock()
	if rt.worktreeSession != nil {
		t.mu.Unlock()
		session.Kill()
		return nil
	}
	rt.worktreeSession = session
	rt.worktreeScreen = screen
	t.mu.Unlock()

	session.Begin()

	return nil
}

// WriteWorktreeShellInput forwards bytes to the task's worktree shell PTY,
// if open.
func (r *Registry) WriteWorktreeShellInput(id string, p []byte) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	t.mu.Lock()
	var sess *ptysession.Session
	if t.rt != nil {
		sess = t.rt.worktreeSession
	}
	t.mu.Unlock()
	if sess == nil {
		return illucerr.ErrNotRunning
	}
	_, err = sess.Write(p)
	return err
}

// WatchDiff starts a recursive filesystem subscription on a task's worktree,
// publishing DiffChanged events until UnwatchDiff or Discard tears it down.
// Idempotent: calling it again while already watching is a no-op.
func (r *Registry) WatchDiff(id string) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Start(id, t.Worktree, func(taskID string) {
		r.bus.PublishDiffChanged(taskID)
	})
}

// UnwatchDiff stops a task's diff filesystem subscription, if any.
func (r *Registry) UnwatchDiff(id string) error {
	if _, err := r.Get(id); err != nil {
		return err
	}
	if r.watcher != nil {
		r.watcher.Stop(id)
	}
	return nil
}

// DiffMode selects what a task's diff is computed against.
type DiffMode string

const (
	// DiffModeWorktree (the default) diffs against HEAD: what the agent has
	// changed since its last commit in the worktree.
	DiffModeWorktree DiffMode = "worktree"
	// DiffModeBranch diffs against the task's base commit: everything the
	// branch has accumulated since it was created.
	DiffModeBranch DiffMode = "branch"
)

// Diff returns the unified diff and per-file status list for a task,
// against HEAD or its base commit depending on mode. It stages every
// pending change first (best-effort) so new untracked files show up as
// additions rather than being invisible to `git diff`.
func (r *Registry) Diff(id string, ignoreWhitespace bool, mode DiffMode) (diff string, files []repo.FileStatus, err error) {
	t, err := r.Get(id)
	if err != nil {
		return "", nil, err
	}

	wt := repo.New(t.Worktree)
	if err := wt.StageAll(); err != nil {
		r.log.Warn("registry: stage-all before diff failed", "task_id", id, "err", err)
	}

	base := "HEAD"
	if mode == DiffModeBranch {
		base = t.BaseCommit
	}
	return wt.Diff(base, ignoreWhitespace)
}

// Commit commits a task's staged (or, with stageAll, all pending) changes.
func (r *Registry) Commit(id string, message string, stageAll bool) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return illucerr.Message("commit message must not be empty")
	}
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	return repo.New(t.Worktree).Commit(message, stageAll)
}

// Push pushes a task's branch upstream. remote defaults to "origin" and
// branch to the task's own branch when empty.
func (r *Registry) Push(id string, remote, branch string, setUpstream bool) error {
	t, err := r.Get(id)
	if err != nil {
		return err
	}
	if remote == "" {
		remote = "origin"
	}
	if branch == "" {
		branch = t.Branch
	}
	return repo.New(t.Worktree).Push(remote, branch, setUpstream)
}
