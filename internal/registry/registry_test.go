package registry

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/illuc-dev/illuc/internal/agentdriver"
	"github.com/illuc-dev/illuc/internal/diffwatch"
	"github.com/illuc-dev/illuc/internal/events"
	"github.com/illuc-dev/illuc/internal/illucerr"
	"github.com/illuc-dev/illuc/internal/ptysession"
	"github.com/illuc-dev/illuc/internal/vterm"
)

func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	if err := exec.Command("sh", "-c", "echo hi > "+filepath.Join(dir, "README.md")).Run(); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	run("add", "-A")
	run("commit", "-q", "-m", "initial")
	return dir
}

func newTestRegistry() *Registry {
	bus := events.NewBus(nil)
	watcher := diffwatch.New(nil)
	return New(bus, watcher, nil)
}

func TestCreateChecksOutWorktree(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()

	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/one", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Status != StatusStopped {
		t.Errorf("expected new task to be Stopped, got %v", task.Status)
	}
	if _, err := exec.Command("git", "-C", task.Worktree, "rev-parse", "HEAD").Output(); err != nil {
		t.Errorf("expected worktree to be a valid git checkout: %v", err)
	}
}

func TestGetUnknownTaskReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Get("nope"); err != illucerr.ErrTaskNotFound {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestListReturnsAllTasks(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	if _, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/a", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex}); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if _, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/b", BaseRef: "HEAD", AgentKind: agentdriver.KindCopilot}); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if got := len(r.List()); got != 2 {
		t.Errorf("expected 2 tasks, got %d", got)
	}
}

func TestStartWithMissingBinaryLeavesTaskStopped(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/c", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Start(task.ID, StartParams{}); err == nil {
		t.Fatal("expected Start to fail, codex binary is not installed in this environment")
	}

	if task.Status != StatusStopped {
		t.Errorf("expected task to remain Stopped after failed Start, got %v", task.Status)
	}
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/d", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	task.mu.Lock()
	task.Status = StatusWorking
	task.rt = &runtime{}
	task.mu.Unlock()

	if err := r.Start(task.ID, StartParams{}); err != illucerr.ErrAlreadyRunning {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDiscardRemovesWorktreeAndBranch(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/e", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.Discard(task.ID); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if task.Status != StatusDiscarded {
		t.Errorf("expected Discarded, got %v", task.Status)
	}

	out, err := exec.Command("git", "-C", repoDir, "branch", "--list", "task/e").Output()
	if err != nil {
		t.Fatalf("branch --list: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected branch task/e to be deleted, branch --list returned %q", out)
	}
}

func TestWriteInputOnStoppedTaskReturnsNotRunning(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/f", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := r.WriteInput(task.ID, []byte("hi")); err != illucerr.ErrNotRunning {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestIdleLoopTransitionsWorkingToIdle(t *testing.T) {
	repoDir := initGitRepo(t)
	r := newTestRegistry()
	task, err := r.Create(CreateParams{RepoDir: repoDir, Branch: "task/g", BaseRef: "HEAD", AgentKind: agentdriver.KindCodex})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	session, err := ptysession.Start("/bin/cat", nil, "", nil, 24, 80, ptysession.Callbacks{
		Output: func([]byte) {},
		Exit:   func(int, error) {},
	})
	if err != nil {
		t.Fatalf("Start cat: %v", err)
	}
	session.Begin()
	defer session.Kill()

	rt := &runtime{
		session:  session,
		screen:   vterm.New(24, 80),
		driver:   &fastIdleDriver{},
		idleStop: make(chan struct{}),
	}
	task.mu.Lock()
	task.Status = StatusWorking
	task.rt = rt
	task.mu.Unlock()

	ch, unsubscribe := r.bus.Subscribe("idle-watch")
	defer unsubscribe()

	go r.idleLoop(task, rt)
	defer close(rt.idleStop)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindStatusChanged && ev.StatusChanged.Status == string(StatusIdle) {
				return
			}
		case <-deadline:
			t.Fatal("expected task to transition to idle")
		}
	}
}

// fastIdleDriver is a test-only Driver with a near-zero idle threshold so
// idle-loop transitions can be observed without waiting on a real agent's
// (much longer) silence window.
type fastIdleDriver struct{}

func (fastIdleDriver) Args(string, string) (string, []string) { return "", nil }
func (fastIdleDriver) Observe(chunk []byte, screenText string, w agentdriver.Writer, snapshot func() string) (agentdriver.Status, bool) {
	return agentdriver.StatusWorking, false
}
func (fastIdleDriver) IdleThreshold() time.Duration { return 10 * time.Millisecond }
