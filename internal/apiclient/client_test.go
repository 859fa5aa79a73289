package apiclient

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/illuc-dev/illuc/internal/api"
	"github.com/illuc-dev/illuc/internal/diffwatch"
	"github.com/illuc-dev/illuc/internal/events"
	"github.com/illuc-dev/illuc/internal/registry"
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

func startDaemon(t *testing.T) *Client {
	t.Helper()
	bus := events.NewBus(nil)
	watcher := diffwatch.New(nil)
	reg := registry.New(bus, watcher, nil)
	sock := filepath.Join(t.TempDir(), "illucd.sock")
	srv := api.NewServer(reg, bus, sock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.ListenAndServe(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	c := New(sock)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.ListTasks(); err == nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("daemon did not become reachable in time")
	return nil
}

func TestSelectBaseRepoOverSocket(t *testing.T) {
	c := startDaemon(t)
	repoDir := initGitRepo(t)

	r, err := c.SelectBaseRepo(repoDir)
	if err != nil {
		t.Fatalf("SelectBaseRepo: %v", err)
	}
	if r.Head == "" {
		t.Error("expected a non-empty head commit")
	}
}

func TestCreateListAndDiscardTaskOverSocket(t *testing.T) {
	c := startDaemon(t)
	repoDir := initGitRepo(t)

	created, err := c.CreateTask(CreateTaskRequest{BaseRepoPath: repoDir, BranchName: "task/one", Agent: "codex"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.Status != "stopped" {
		t.Errorf("want stopped, got %s", created.Status)
	}

	tasks, err := c.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("want 1 task, got %d", len(tasks))
	}

	if err := c.DiscardTask(created.ID); err != nil {
		t.Fatalf("DiscardTask: %v", err)
	}
	tasks, err = c.ListTasks()
	if err != nil {
		t.Fatalf("ListTasks after discard: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("want 0 tasks after discard, got %d", len(tasks))
	}
}

func TestCreateTaskErrorSurfacesAsPlainMessage(t *testing.T) {
	c := startDaemon(t)
	repoDir := initGitRepo(t)

	_, err := c.CreateTask(CreateTaskRequest{BaseRepoPath: repoDir})
	if err == nil {
		t.Fatal("expected an error for an empty branch name")
	}
}
