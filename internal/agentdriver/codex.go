package agentdriver

import (
	"strings"
	"sync"
	"time"
)

const approvalPrompt = "would you like to run the following command"

// codexDriver automates the Codex CLI's resume-picker startup dialog and
// watches the screen for an approval prompt. The one-shot latches below
// mirror the Rust implementation's sent_resume_enter/sent_no_sessions_escape
// state machine: Codex always shows a "resume a previous session?" picker
// on launch, which either lists sessions (press Enter to pick the first) or
// says "no sessions yet" (press Escape to fall through to a fresh session).
type codexDriver struct {
	mu sync.Mutex

	lastStatus Status

	sentResumeEnter      bool
	sentNoSessionsEscape bool
	pendingCheck         bool
}

func newCodexDriver() *codexDriver {
	return &codexDriver{lastStatus: StatusIdle}
}

func (d *codexDriver) Args(worktreeDir string, resumeHint string) (string, []string) {
	p := profiles[KindCodex]
	return p.binaryName, p.resumeArgs(resumeHint)
}

func (d *codexDriver) IdleThreshold() time.Duration {
	return time.Second
}

func (d *codexDriver) Observe(chunk []byte, screenText string, w Writer, snapshot func() string) (Status, bool) {
	lower := strings.ToLower(screenText)

	status := StatusWorking
	if strings.Contains(lower, approvalPrompt) {
		status = StatusAwaitingApproval
	}

	d.mu.Lock()
	changed := status != d.lastStatus
	if changed {
		d.lastStatus = status
	}
	d.mu.Unlock()

	d.handleStartupSequence(lower, w, snapshot)

	return status, changed
}

// handleStartupSequence dismisses the resume picker exactly once: an Enter
// if sessions are listed, or a delayed Escape if the picker still reads "no
// sessions yet" a second later (it can take a moment to populate, so an
// immediate Escape would abandon a real resumable session).
func (d *codexDriver) handleStartupSequence(lower string, w Writer, snapshot func() string) {
	resumePrompt := strings.Contains(lower, "resume a previous session")
	noSessions := strings.Contains(lower, "no sessions yet")

	d.mu.Lock()
	sendEnter := resumePrompt && !noSessions && !d.sentResumeEnter && !d.sentNoSessionsEscape
	if sendEnter {
		d.sentResumeEnter = true
	}
	scheduleCheck := !sendEnter && resumePrompt && noSessions && !d.sentNoSessionsEscape && !d.pendingCheck
	if scheduleCheck {
		d.pendingCheck = true
	}
	d.mu.Unlock()

	switch {
	case sendEnter:
		w.Write([]byte("\r"))
	case scheduleCheck:
		go d.checkNoSessionsAfterDelay(w, snapshot)
	}
}

func (d *codexDriver) checkNoSessionsAfterDelay(w Writer, snapshot func() string) {
	time.Sleep(time.Second)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingCheck = false

	if snapshot == nil || !strings.Contains(strings.ToLower(snapshot()), "no sessions yet") {
		return
	}

	d.sentNoSessionsEscape = true
	d.sentResumeEnter = true
	w.Write([]byte{0x1b})
}
