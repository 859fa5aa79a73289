// Package api is the task runtime's request surface (spec.md §6): a plain
// HTTP server over a local unix socket that translates one request/response
// pair per operation directly into a Task Registry call, plus a websocket
// endpoint streaming the Event Bus. Every handler either writes its
// declared JSON payload or a single {"error": "..."} string — callers never
// see a raw Go error value.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/illuc-dev/illuc/internal/agentdriver"
	"github.com/illuc-dev/illuc/internal/events"
	"github.com/illuc-dev/illuc/internal/illucerr"
	"github.com/illuc-dev/illuc/internal/launcher"
	"github.com/illuc-dev/illuc/internal/registry"
	"github.com/illuc-dev/illuc/internal/repo"
)

// Server exposes the Registry and Event Bus over HTTP.
type Server struct {
	reg        *registry.Registry
	bus        *events.Bus
	socketPath string
}

// NewServer wires a request surface to reg and bus, listening on socketPath
// once ListenAndServe is called.
func NewServer(reg *registry.Registry, bus *events.Bus, socketPath string) *Server {
	return &Server{reg: reg, bus: bus, socketPath: socketPath}
}

// ListenAndServe serves the request surface on a unix socket until ctx is
// canceled, removing any stale socket file first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen unix %s: %w", s.socketPath, err)
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	srv := &http.Server{Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		os.Remove(s.socketPath)
		return nil
	case err := <-errCh:
		os.Remove(s.socketPath)
		return err
	}
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /repo/select", s.handleSelectBaseRepo)
	mux.HandleFunc("GET /repo/branches", s.handleListBranches)
	mux.HandleFunc("POST /repo/load-existing", s.handleLoadExisting)

	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("POST /tasks", s.handleCreateTask)
	mux.HandleFunc("POST /tasks/{id}/start", s.handleStartTask)
	mux.HandleFunc("POST /tasks/{id}/stop", s.handleStopTask)
	mux.HandleFunc("POST /tasks/{id}/discard", s.handleDiscardTask)

	mux.HandleFunc("POST /tasks/{id}/terminal/start", s.handleTerminalStart)
	mux.HandleFunc("POST /tasks/{id}/terminal/write", s.handleTerminalWrite)
	mux.HandleFunc("POST /tasks/{id}/terminal/resize", s.handleTerminalResize)

	mux.HandleFunc("GET /tasks/{id}/diff", s.handleDiffGet)
	mux.HandleFunc("POST /tasks/{id}/diff/watch/start", s.handleDiffWatchStart)
	mux.HandleFunc("POST /tasks/{id}/diff/watch/stop", s.handleDiffWatchStop)

	mux.HandleFunc("POST /tasks/{id}/commit", s.handleCommit)
	mux.HandleFunc("POST /tasks/{id}/push", s.handlePush)

	mux.HandleFunc("POST /launch/vscode", s.handleOpenVSCode)
	mux.HandleFunc("POST /launch/terminal", s.handleOpenTerminal)
	mux.HandleFunc("POST /launch/explorer", s.handleOpenExplorer)

	mux.HandleFunc("GET /events", s.bus.ServeHTTP)
}

// --- request/response shapes ---

type taskResponse struct {
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

func toTaskResponse(t registry.Snapshot) taskResponse {
	resp := taskResponse{
		ID:         t.ID,
		Title:      t.Title,
		RepoDir:    t.RepoDir,
		BaseBranch: t.BaseBranch,
		BaseCommit: t.BaseCommit,
		Branch:     t.Branch,
		Worktree:   t.Worktree,
		Agent:      t.AgentKind,
		Status:     string(t.Status),
		CreatedAt:  t.CreatedAt.UTC().Format(time.RFC3339),
		ExitCode:   t.ExitCode,
	}
	if !t.StartedAt.IsZero() {
		str := t.StartedAt.UTC().Format(time.RFC3339)
		resp.StartedAt = &str
	}
	if !t.EndedAt.IsZero() {
		str := t.EndedAt.UTC().Format(time.RFC3339)
		resp.EndedAt = &str
	}
	return resp
}

func parseAgentKind(name string) agentdriver.Kind {
	if name == "copilot" {
		return agentdriver.KindCopilot
	}
	return agentdriver.KindCodex
}

// --- repo handlers ---

type selectRepoRequest struct {
	Path string `json:"path"`
}

type selectRepoResponse struct {
	Path          string `json:"path"`
	CanonicalPath string `json:"canonical_path"`
	CurrentBranch string `json:"current_branch"`
	Head          string `json:"head"`
}

func (s *Server) handleSelectBaseRepo(w http.ResponseWriter, r *http.Request) {
	var req selectRepoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	info, err := os.Stat(req.Path)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "path is not a directory")
		return
	}

	g := repo.New(req.Path)
	canonical, err := g.RepoRoot()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	branch, err := g.CurrentBranch()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	head, err := g.ResolveRef("HEAD")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, selectRepoResponse{
		Path:          req.Path,
		CanonicalPath: canonical,
		CurrentBranch: branch,
		Head:          head,
	})
}

func (s *Server) handleListBranches(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	branches, err := repo.New(path).ListBranches()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, branches)
}

type loadExistingRequest struct {
	BaseRepoPath string `json:"base_repo_path"`
	Agent        string `json:"agent"`
}

func (s *Server) handleLoadExisting(w http.ResponseWriter, r *http.Request) {
	var req loadExistingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	tasks, err := s.reg.RegisterExisting(req.BaseRepoPath, parseAgentKind(req.Agent))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

// --- task handlers ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	snaps := s.reg.List()
	out := make([]taskResponse, len(snaps))
	for i, t := range snaps {
		out[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, out)
}

type createTaskRequest struct {
	BaseRepoPath string `json:"base_repo_path"`
	TaskTitle    string `json:"task_title"`
	BaseRef      string `json:"base_ref"`
	BranchName   string `json:"branch_name"`
	Agent        string `json:"agent"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := s.reg.Create(registry.CreateParams{
		RepoDir:   req.BaseRepoPath,
		Title:     req.TaskTitle,
		Branch:    req.BranchName,
		BaseRef:   req.BaseRef,
		AgentKind: parseAgentKind(req.Agent),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t.Snapshot()))
}

type startTaskRequest struct {
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	Agent      string `json:"agent"`
	ResumeHint string `json:"resume_hint"`
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req startTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p := registry.StartParams{Rows: req.Rows, Cols: req.Cols, ResumeHint: req.ResumeHint}
	if req.Agent != "" {
		kind := parseAgentKind(req.Agent)
		p.Agent = &kind
	}

	if err := s.reg.Start(id, p); err != nil {
		writeErrForDomain(w, err)
		return
	}
	t, err := s.reg.Get(id)
	if err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t.Snapshot()))
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.Stop(id); err != nil {
		writeErrForDomain(w, err)
		return
	}
	t, err := s.reg.Get(id)
	if err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t.Snapshot()))
}

func (s *Server) handleDiscardTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.Discard(id); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- terminal handlers ---

type terminalStartRequest struct {
	Kind string `json:"kind"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

func (s *Server) handleTerminalStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req terminalStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Agent is a no-op: its PTY is already running from task_start.
	if req.Kind != "worktree" {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	rows, cols := req.Rows, req.Cols
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	if err := s.reg.OpenWorktreeShell(id, rows, cols); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type terminalWriteRequest struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

func (s *Server) handleTerminalWrite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req terminalWriteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if req.Kind == "worktree" {
		err = s.reg.WriteWorktreeShellInput(id, []byte(req.Data))
	} else {
		err = s.reg.WriteInput(id, []byte(req.Data))
	}
	if err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type terminalResizeRequest struct {
	Kind string `json:"kind"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

func (s *Server) handleTerminalResize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req terminalResizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.reg.Resize(id, req.Rows, req.Cols); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- diff / git handlers ---

type diffFileResponse struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

type diffResponse struct {
	TaskID     string              `json:"task_id"`
	Files      []diffFileResponse  `json:"files"`
	UnifiedDiff string             `json:"unified_diff"`
}

func (s *Server) handleDiffGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ignoreWhitespace := r.URL.Query().Get("ignore_whitespace") == "true"
	mode := registry.DiffModeWorktree
	if r.URL.Query().Get("mode") == "branch" {
		mode = registry.DiffModeBranch
	}

	diff, files, err := s.reg.Diff(id, ignoreWhitespace, mode)
	if err != nil {
		writeErrForDomain(w, err)
		return
	}
	out := make([]diffFileResponse, len(files))
	for i, f := range files {
		out[i] = diffFileResponse{Path: f.Path, Status: f.Status}
	}
	writeJSON(w, http.StatusOK, diffResponse{TaskID: id, Files: out, UnifiedDiff: diff})
}

func (s *Server) handleDiffWatchStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.WatchDiff(id); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDiffWatchStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.reg.UnwatchDiff(id); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type commitRequest struct {
	Message  string `json:"message"`
	StageAll bool   `json:"stage_all"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req commitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.reg.Commit(id, req.Message, req.StageAll); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type pushRequest struct {
	Remote      string `json:"remote"`
	Branch      string `json:"branch"`
	SetUpstream *bool  `json:"set_upstream"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req pushRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	setUpstream := true
	if req.SetUpstream != nil {
		setUpstream = *req.SetUpstream
	}
	if err := s.reg.Push(id, req.Remote, req.Branch, setUpstream); err != nil {
		writeErrForDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- launcher handlers ---

type launchRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleOpenVSCode(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := launcher.OpenVSCode(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOpenTerminal(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := launcher.OpenTerminal(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOpenExplorer(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := launcher.OpenExplorer(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeErrForDomain maps the runtime's closed error taxonomy to HTTP status
// codes (validation messages are a 400); anything else is a 500 with its
// message surfaced verbatim.
func writeErrForDomain(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, illucerr.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, illucerr.ErrAlreadyRunning), errors.Is(err, illucerr.ErrNotRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, new(illucerr.Message)):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
