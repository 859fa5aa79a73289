package agentdriver

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	copilotSessionDir       = ".copilot/session-state"
	copilotLegacySessionDir = ".copilot/history-session-state"
)

// copilotDriver has no startup dialog to automate — Copilot CLI drops
// straight into its REPL — so it only tracks Working/Idle, never
// AwaitingApproval (Copilot's own approval prompts aren't pattern-matched
// the way Codex's are; --allow-all-tools keeps it from blocking on them).
type copilotDriver struct {
	mu         sync.Mutex
	lastStatus Status
}

func newCopilotDriver() *copilotDriver {
	return &copilotDriver{lastStatus: StatusIdle}
}

func (d *copilotDriver) Args(worktreeDir string, resumeHint string) (string, []string) {
	if resumeHint == "" {
		resumeHint = findLatestSessionID(worktreeDir)
	}
	p := profiles[KindCopilot]
	return p.binaryName, p.resumeArgs(resumeHint)
}

func (d *copilotDriver) IdleThreshold() time.Duration {
	return time.Second
}

func (d *copilotDriver) Observe(chunk []byte, screenText string, w Writer, snapshot func() string) (Status, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	changed := StatusWorking != d.lastStatus
	d.lastStatus = StatusWorking
	return StatusWorking, changed
}

// sessionCandidate is one line-delimited-JSON session-state file's best
// guess at its session id and most recent event timestamp.
type sessionCandidate struct {
	sessionID string
	timestamp time.Time
	hasTS     bool
}

// findLatestSessionID scans Copilot's session-state directories (primary,
// then the legacy history directory) for the session file whose contents
// mention worktreeDir (made absolute) and whose events carry the latest
// timestamp, returning "" if no file mentions it.
func findLatestSessionID(worktreeDir string) string {
	resolved, err := filepath.Abs(worktreeDir)
	if err != nil {
		resolved = worktreeDir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if id := findLatestSessionInDir(filepath.Join(home, copilotSessionDir), resolved); id != "" {
		return id
	}
	return findLatestSessionInDir(filepath.Join(home, copilotLegacySessionDir), resolved)
}

func findLatestSessionInDir(dir, desiredCWD string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	var best sessionCandidate
	haveBest := false

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		candidate, ok := parseSessionFile(filepath.Join(dir, entry.Name()), desiredCWD)
		if !ok {
			continue
		}
		if !haveBest {
			best, haveBest = candidate, true
			continue
		}
		switch {
		case candidate.hasTS && best.hasTS:
			if candidate.timestamp.After(best.timestamp) {
				best = candidate
			}
		case candidate.hasTS && !best.hasTS:
			best = candidate
		}
	}

	if !haveBest {
		return ""
	}
	return best.sessionID
}

type copilotSessionEvent struct {
	Type string `json:"type"`
	Data struct {
		SessionID string `json:"sessionId"`
	} `json:"data"`
	Timestamp string `json:"timestamp"`
}

// parseSessionFile reads a line-delimited-JSON session-state file and
// extracts a session id (from its session.start event, falling back to the
// file's base name) and the latest timestamp seen across all lines. It
// returns ok=false if the file's contents never mention desiredCWD at all.
func parseSessionFile(path, desiredCWD string) (sessionCandidate, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sessionCandidate{}, false
	}
	if !strings.Contains(string(data), desiredCWD) {
		return sessionCandidate{}, false
	}

	var sessionID string
	var latest time.Time
	haveLatest := false

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var ev copilotSessionEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			continue
		}
		if sessionID == "" && ev.Type == "session.start" && ev.Data.SessionID != "" {
			sessionID = ev.Data.SessionID
		}
		if ts, ok := parseSessionTimestamp(ev.Timestamp); ok {
			if !haveLatest || ts.After(latest) {
				latest, haveLatest = ts, true
			}
		}
	}

	if sessionID == "" {
		sessionID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if sessionID == "" {
		return sessionCandidate{}, false
	}

	return sessionCandidate{sessionID: sessionID, timestamp: latest, hasTS: haveLatest}, true
}

func parseSessionTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
