package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"path/filepath"
	"testing"

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

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	bus := events.NewBus(nil)
	watcher := diffwatch.New(nil)
	reg := registry.New(bus, watcher, nil)
	s := NewServer(reg, bus, filepath.Join(t.TempDir(), "unused.sock"))

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, initGitRepo(t)
}

func postJSON(t *testing.T, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestSelectBaseRepo(t *testing.T) {
	srv, repoDir := newTestServer(t)

	var resp selectRepoResponse
	code := postJSON(t, srv.URL+"/repo/select", selectRepoRequest{Path: repoDir}, &resp)
	if code != http.StatusOK {
		t.Fatalf("want 200, got %d", code)
	}
	if resp.CurrentBranch == "" {
		t.Error("expected a non-empty current branch")
	}
	if resp.Head == "" {
		t.Error("expected a non-empty head commit")
	}
}

func TestSelectBaseRepoRejectsNonDirectory(t *testing.T) {
	srv, repoDir := newTestServer(t)

	code := postJSON(t, srv.URL+"/repo/select", selectRepoRequest{Path: filepath.Join(repoDir, "README.md")}, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("want 400 for a non-directory path, got %d", code)
	}
}

func TestCreateTaskRejectsEmptyBranch(t *testing.T) {
	srv, repoDir := newTestServer(t)

	var errResp map[string]string
	code := postJSON(t, srv.URL+"/tasks", createTaskRequest{BaseRepoPath: repoDir}, &errResp)
	if code != http.StatusBadRequest {
		t.Fatalf("want 400 for empty branch_name, got %d", code)
	}
	if errResp["error"] == "" {
		t.Error("expected a non-empty error string")
	}
}

func TestCreateTaskThenStopWithoutStart(t *testing.T) {
	srv, repoDir := newTestServer(t)

	var created taskResponse
	code := postJSON(t, srv.URL+"/tasks", createTaskRequest{
		BaseRepoPath: repoDir,
		BranchName:   "task/one",
		Agent:        "codex",
	}, &created)
	if code != http.StatusOK {
		t.Fatalf("create task: want 200, got %d", code)
	}
	if created.Status != "stopped" {
		t.Errorf("want new task stopped, got %s", created.Status)
	}

	var stopResp map[string]string
	code = postJSON(t, srv.URL+"/tasks/"+created.ID+"/stop", nil, &stopResp)
	if code != http.StatusConflict {
		t.Fatalf("stopping a non-running task: want 409, got %d (%v)", code, stopResp)
	}
}

func TestStartUnknownTaskReturnsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	var errResp map[string]string
	code := postJSON(t, srv.URL+"/tasks/does-not-exist/start", startTaskRequest{}, &errResp)
	if code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
}

func TestDiscardUnknownTaskIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	code := postJSON(t, srv.URL+"/tasks/does-not-exist/discard", nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("want 404, got %d", code)
	}
}

func TestListBranches(t *testing.T) {
	srv, repoDir := newTestServer(t)

	resp, err := http.Get(srv.URL + "/repo/branches?path=" + repoDir)
	if err != nil {
		t.Fatalf("get branches: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var branches []string
	if err := json.NewDecoder(resp.Body).Decode(&branches); err != nil {
		t.Fatalf("decode branches: %v", err)
	}
	if len(branches) != 1 {
		t.Fatalf("want 1 branch, got %v", branches)
	}
}

func TestCommitRejectsEmptyMessage(t *testing.T) {
	srv, repoDir := newTestServer(t)

	var created taskResponse
	postJSON(t, srv.URL+"/tasks", createTaskRequest{
		BaseRepoPath: repoDir,
		BranchName:   "task/commit",
		Agent:        "codex",
	}, &created)

	var errResp map[string]string
	code := postJSON(t, srv.URL+"/tasks/"+created.ID+"/commit", commitRequest{}, &errResp)
	if code != http.StatusBadRequest {
		t.Fatalf("want 400 for empty commit message, got %d", code)
	}
}
