// Package ptysession owns a single child process attached to a pseudo
// terminal: spawning it, feeding it input, and streaming its output and exit
// status out through callbacks. One Session corresponds to one task's
// runtime triple.
package ptysession

import (
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// ErrWriteTimeout is returned by Write when the child is not draining its
// stdin within the given deadline — the kernel PTY buffer is full and a
// blocking write would hang the caller indefinitely.
var ErrWriteTimeout = errors.New("pty write timed out")

const (
	readChunkSize    = 8 * 1024
	defaultWriteWait = 2 * time.Second
	exitPollInterval = 200 * time.Millisecond
)

// Callbacks receives a session's output and exit notifications. Output and
// Exit are invoked from the session's internal goroutines — callers must not
// block in them for long, since each session only has one reader goroutine.
type Callbacks struct {
	Output func(chunk []byte)
	Exit   func(code int, err error)
}

// Session wraps a single *exec.Cmd started under a PTY. All exported methods
// are safe for concurrent use.
type Session struct {
	cmd  *exec.Cmd
	ptmx *os.File

	writeMu sync.Mutex

	mu         sync.Mutex
	lastInput  time.Time
	lastOutput time.Time
	exited     bool
	exitCode   int
	exitErr    error

	cb Callbacks
}

// Start spawns name with args in dir under a PTY of the given size. The
// child is running when Start returns, but nothing is read from or waited
// on yet — callers that need the ordering guarantee of spec.md §5 (a task's
// runtime installed and its status published before any output streams)
// must call Begin once they've done so. Until Begin is called, output
// accumulates in the kernel's PTY buffer exactly as it would for any reader
// that hasn't started reading yet.
func Start(name string, args []string, dir string, env []string, rows, cols int, cb Callbacks) (*Session, error) {
	name, args = translateCommand(name, args, dir, env)

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if env != nil {
		cmd.Env = env
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		cmd:        cmd,
		ptmx:       ptmx,
		lastInput:  now,
		lastOutput: now,
		cb:         cb,
	}

	return s, nil
}

// Begin launches the reader and exit-waiter goroutines, starting the flow of
// cb.Output/cb.Exit callbacks. Callers must not call it more than once.
func (s *Session) Begin() {
	go s.readLoop()
	go s.waitLoop()
}

// readLoop copies PTY output to cb.Output in fixed-size chunks until the PTY
// closes (child exit or explicit Kill).
func (s *Session) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.lastOutput = time.Now()
			s.mu.Unlock()
			if s.cb.Output != nil {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				s.cb.Output(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// waitLoop blocks on cmd.Wait in its own goroutine until the child exits;
// it does not poll the child's status. cmd.Wait reaps the process, and Kill
// can race it safely since Kill only signals. A wait error that is not an
// exit status reports code 1.
func (s *Session) waitLoop() {
	err := s.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}

	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	s.exitErr = err
	s.mu.Unlock()

	s.ptmx.Close()

	if s.cb.Exit != nil {
		s.cb.Exit(code, err)
	}
}

// Write sends bytes to the child's stdin, giving up after defaultWriteWait
// if the child isn't reading (a wedged agent, or a full kernel PTY buffer).
// A timeout returns ErrWriteTimeout with n=0; no partial write is silently
// dropped without being reported.
func (s *Session) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := s.ptmx.Write(p)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(defaultWriteWait)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.n > 0 {
			s.mu.Lock()
			s.lastInput = time.Now()
			s.mu.Unlock()
		}
		return r.n, r.err
	case <-timer.C:
		return 0, ErrWriteTimeout
	}
}

// Resize updates the PTY window size.
func (s *Session) Resize(rows, cols int) error {
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Kill terminates the child process. Safe to call once the child has
// already exited and been reaped; it then returns os.ErrProcessDone.
func (s *Session) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Pid returns the child process id.
func (s *Session) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited reports whether the child has exited, and its exit code if so.
func (s *Session) Exited() (exited bool, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited, s.exitCode
}

// IdleDuration reports how long it has been since the more recent of the
// last input write or last output read. A session that has never produced
// output and never received input reports time since process start via
// lastOutput/lastInput both being initialized to the start time.
func (s *Session) IdleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastOutput
	if s.lastInput.After(last) {
		last = s.lastInput
	}
	return time.Since(last)
}
