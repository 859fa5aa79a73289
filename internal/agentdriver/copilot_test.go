package agentdriver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopilotObserveAlwaysWorking(t *testing.T) {
	d := newCopilotDriver()
	w := &fakeWriter{}

	status, changed := d.Observe([]byte("hello"), "hello", w, nil)
	if status != StatusWorking || !changed {
		t.Fatalf("expected working+changed on first observe, got %v %v", status, changed)
	}

	status, changed = d.Observe([]byte("more"), "more", w, nil)
	if status != StatusWorking || changed {
		t.Fatalf("expected working+unchanged thereafter, got %v %v", status, changed)
	}
	if w.String() != "" {
		t.Fatalf("copilot driver should never write automated keystrokes, got %q", w.String())
	}
}

func TestFindLatestSessionInDirMatchesCWDAndPicksNewest(t *testing.T) {
	dir := t.TempDir()
	cwd := filepath.Join(dir, "project")

	older := `{"type":"session.start","data":{"sessionId":"old-session"},"timestamp":"2024-01-01T00:00:00Z"}
{"timestamp":"2024-01-01T00:00:01Z","cwd":"` + cwd + `"}`
	newer := `{"type":"session.start","data":{"sessionId":"new-session"},"timestamp":"2024-06-01T00:00:00Z"}
{"timestamp":"2024-06-01T00:00:01Z","cwd":"` + cwd + `"}`
	unrelated := `{"type":"session.start","data":{"sessionId":"other-session"},"timestamp":"2024-12-01T00:00:00Z"}
{"cwd":"/somewhere/else"}`

	writeFile(t, filepath.Join(dir, "a.jsonl"), older)
	writeFile(t, filepath.Join(dir, "b.jsonl"), newer)
	writeFile(t, filepath.Join(dir, "c.jsonl"), unrelated)

	got := findLatestSessionInDir(dir, cwd)
	if got != "new-session" {
		t.Fatalf("expected new-session, got %q", got)
	}
}

func TestFindLatestSessionInDirNoMatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jsonl"), `{"cwd":"/nope"}`)

	if got := findLatestSessionInDir(dir, "/somewhere"); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func TestFindLatestSessionInDirMissingDir(t *testing.T) {
	if got := findLatestSessionInDir(filepath.Join(t.TempDir(), "missing"), "/x"); got != "" {
		t.Fatalf("expected empty result for missing dir, got %q", got)
	}
}

func TestParseSessionFileFallsBackToFileName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fallback-id.jsonl")
	writeFile(t, path, `{"cwd":"/proj"}`)

	candidate, ok := parseSessionFile(path, "/proj")
	if !ok {
		t.Fatal("expected match")
	}
	if candidate.sessionID != "fallback-id" {
		t.Fatalf("expected fallback to file stem, got %q", candidate.sessionID)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
