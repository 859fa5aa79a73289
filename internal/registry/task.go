package registry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/illuc-dev/illuc/internal/agentdriver"
	"github.com/illuc-dev/illuc/internal/ptysession"
	"github.com/illuc-dev/illuc/internal/vterm"
)

// Status is a task's position in its lifecycle state machine.
type Status string

const (
	StatusStopped          Status = "stopped"
	StatusIdle             Status = "idle"
	StatusWorking          Status = "working"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusDiscarded        Status = "discarded"
)

// hasRuntime reports whether a status implies a live runtime triple
// attached to the task. This is the registry's central invariant: exactly
// these three statuses may have a non-nil runtime, and every other status
// must not.
func (s Status) hasRuntime() bool {
	switch s {
	case StatusIdle, StatusWorking, StatusAwaitingApproval:
		return true
	default:
		return false
	}
}

// runtime is the live process/session triple attached to a running task.
// Its presence is governed entirely by Task.Status — see hasRuntime.
type runtime struct {
	session *ptysession.Session
	screen  *vterm.Screen
	driver  agentdriver.Driver

	// worktreeSession is a second, independent PTY a caller can open into
	// the task's worktree (a plain shell) without disturbing the agent's
	// own session. Lazily created; nil until first requested.
	worktreeSession *ptysession.Session
	worktreeScreen  *vterm.Screen

	idleStop chan struct{}
}

// Task is one isolated unit of agent work: a base repository, a branch and
// worktree checked out from it, an agent kind, and (while running) a live
// runtime triple.
type Task struct {
	mu sync.Mutex

	ID         string
	Title      string
	RepoDir    string
	BaseBranch string
	BaseCommit string
	Branch     string
	Worktree   string
	AgentKind  agentdriver.Kind

	Status    Status
	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time
	ExitCode  *int

	logger *slog.Logger

	rt *runtime
}

func newTask(id, title, repoDir, baseBranch, baseCommit, branch, worktree string, kind agentdriver.Kind, logger *slog.Logger) *Task {
	return &Task{
		ID:         id,
		Title:      title,
		RepoDir:    repoDir,
		BaseBranch: baseBranch,
		BaseCommit: baseCommit,
		Branch:     branch,
		Worktree:   worktree,
		AgentKind:  kind,
		Status:     StatusStopped,
		CreatedAt:  time.Now(),
		logger:     logger,
	}
}

// snapshot is a point-in-time, lock-free copy of a task's externally
// visible fields — what request-surface handlers serialize to JSON.
type Snapshot struct {
	ID         string
	Title      string
	RepoDir    string
	BaseBranch string
	BaseCommit string
	Branch     string
	Worktree   string
	AgentKind  string
	Status     Status
	CreatedAt  time.Time
	StartedAt  time.Time
	EndedAt    time.Time
	ExitCode   *int
}

func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		ID:         t.ID,
		Title:      t.Title,
		RepoDir:    t.RepoDir,
		BaseBranch: t.BaseBranch,
		BaseCommit: t.BaseCommit,
		Branch:     t.Branch,
		Worktree:   t.Worktree,
		AgentKind:  t.AgentKind.String(),
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		EndedAt:    t.EndedAt,
		ExitCode:   t.ExitCode,
	}
}
