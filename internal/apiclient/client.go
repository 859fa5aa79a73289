// Package apiclient is a thin HTTP client over illucd's unix-socket request
// surface, the way wingthing's internal/transport.Client wraps its own
// daemon socket: one method per operation, JSON in, JSON or a plain error
// string out.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// Client talks to illucd over a unix socket.
type Client struct {
	http *http.Client
}

// New creates a Client dialing socketPath for every request.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

// Task mirrors the daemon's task summary JSON shape.
type Task struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	RepoDir    string  `json:"repo_dir"`
	BaseBranch string  `json:"base_branch"`
	BaseCommit string  `json:"base_commit"`
	Branch     string  `json:"branch"`
	Worktree   string  `json:"worktree_path"`
	Agent      string  `json:"agent"`
	Status     string  `json:"status"`
	CreatedAt  string  `json:"created_at"`
	StartedAt  *string `json:"started_at,omitempty"`
	EndedAt    *string `json:"ended_at,omitempty"`
	ExitCode   *int    `json:"exit_code,omitempty"`
}

// SelectedRepo is select_base_repo's response.
type SelectedRepo struct {
	Path          string `json:"path"`
	CanonicalPath string `json:"canonical_path"`
	CurrentBranch string `json:"current_branch"`
	Head          string `json:"head"`
}

// DiffFile is one entry of a diff's per-file status list.
type DiffFile struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Diff is task_git_diff_get's response.
type Diff struct {
	TaskID      string     `json:"task_id"`
	Files       []DiffFile `json:"files"`
	UnifiedDiff string     `json:"unified_diff"`
}

func (c *Client) SelectBaseRepo(path string) (*SelectedRepo, error) {
	var out SelectedRepo
	if err := c.postJSON("/repo/select", map[string]string{"path": path}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListBranches(repoPath string) ([]string, error) {
	var out []string
	if err := c.getJSON("/repo/branches?path="+url.QueryEscape(repoPath), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadExisting(baseRepoPath, agent string) ([]Task, error) {
	var out []Task
	body := map[string]string{"base_repo_path": baseRepoPath, "agent": agent}
	if err := c.postJSON("/repo/load-existing", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListTasks() ([]Task, error) {
	var out []Task
	if err := c.getJSON("/tasks", &out); err != nil {
		return nil, err
	}
	return out, nil
}

type CreateTaskRequest struct {
	BaseRepoPath string `json:"base_repo_path"`
	TaskTitle    string `json:"task_title,omitempty"`
	BaseRef      string `json:"base_ref,omitempty"`
	BranchName   string `json:"branch_name"`
	Agent        string `json:"agent,omitempty"`
}

func (c *Client) CreateTask(req CreateTaskRequest) (*Task, error) {
	var out Task
	if err := c.postJSON("/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type StartTaskRequest struct {
	Rows       int    `json:"rows,omitempty"`
	Cols       int    `json:"cols,omitempty"`
	Agent      string `json:"agent,omitempty"`
	ResumeHint string `json:"resume_hint,omitempty"`
}

func (c *Client) StartTask(id string, req StartTaskRequest) (*Task, error) {
	var out Task
	if err := c.postJSON("/tasks/"+id+"/start", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) StopTask(id string) (*Task, error) {
	var out Task
	if err := c.postJSON("/tasks/"+id+"/stop", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DiscardTask(id string) error {
	return c.postJSON("/tasks/"+id+"/discard", nil, nil)
}

func (c *Client) GetDiff(id string, ignoreWhitespace bool, mode string) (*Diff, error) {
	path := fmt.Sprintf("/tasks/%s/diff?ignore_whitespace=%t", id, ignoreWhitespace)
	if mode != "" {
		path += "&mode=" + url.QueryEscape(mode)
	}
	var out Diff
	if err := c.getJSON(path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WatchDiffStart(id string) error {
	return c.postJSON("/tasks/"+id+"/diff/watch/start", nil, nil)
}

func (c *Client) WatchDiffStop(id string) error {
	return c.postJSON("/tasks/"+id+"/diff/watch/stop", nil, nil)
}

func (c *Client) Commit(id, message string, stageAll bool) error {
	return c.postJSON("/tasks/"+id+"/commit", map[string]any{"message": message, "stage_all": stageAll}, nil)
}

func (c *Client) Push(id, remote, branch string, setUpstream bool) error {
	return c.postJSON("/tasks/"+id+"/push", map[string]any{
		"remote": remote, "branch": branch, "set_upstream": setUpstream,
	}, nil)
}

func (c *Client) OpenVSCode(path string) error    { return c.postJSON("/launch/vscode", map[string]string{"path": path}, nil) }
func (c *Client) OpenTerminal(path string) error   { return c.postJSON("/launch/terminal", map[string]string{"path": path}, nil) }
func (c *Client) OpenExplorer(path string) error   { return c.postJSON("/launch/explorer", map[string]string{"path": path}, nil) }

// HTTP helpers

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.http.Get("http://illuc" + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func (c *Client) postJSON(path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	resp, err := c.http.Post("http://illuc"+path, "application/json", r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decode(resp, out)
}

func decode(resp *http.Response, out any) error {
	if resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return fmt.Errorf("%s", errResp.Error)
		}
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
