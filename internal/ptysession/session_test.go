package ptysession

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStartEchoOutput(t *testing.T) {
	var mu sync.Mutex
	var out strings.Builder
	done := make(chan struct{})

	s, err := Start("/bin/sh", []string{"-c", "echo hello"}, "", nil, 24, 80, Callbacks{
		Output: func(chunk []byte) {
			mu.Lock()
			out.Write(chunk)
			mu.Unlock()
		},
		Exit: func(code int, err error) {
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Begin()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit in time")
	}

	mu.Lock()
	got := out.String()
	mu.Unlock()
	if !strings.Contains(got, "hello") {
		t.Errorf("expected output to contain hello, got %q", got)
	}

	exited, code := s.Exited()
	if !exited || code != 0 {
		t.Errorf("expected clean exit, got exited=%v code=%d", exited, code)
	}
}

func TestWriteDeliversInput(t *testing.T) {
	var mu sync.Mutex
	var out strings.Builder
	done := make(chan struct{})

	s, err := Start("/bin/cat", nil, "", nil, 24, 80, Callbacks{
		Output: func(chunk []byte) {
			mu.Lock()
			out.Write(chunk)
			mu.Unlock()
		},
		Exit: func(code int, err error) {
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Begin()

	if _, err := s.Write([]byte("ping\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		got := out.String()
		mu.Unlock()
		if strings.Contains(got, "ping") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("did not observe echoed input")
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.Kill()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit after kill")
	}
}

func TestIdleDurationTracksMostRecentIO(t *testing.T) {
	s := &Session{
		lastInput:  time.Now().Add(-10 * time.Second),
		lastOutput: time.Now().Add(-1 * time.Second),
	}
	idle := s.IdleDuration()
	if idle > 2*time.Second {
		t.Errorf("expected idle close to 1s (most recent I/O), got %s", idle)
	}
}

func TestIdleDurationNoOutputUsesInput(t *testing.T) {
	s := &Session{
		lastInput:  time.Now().Add(-3 * time.Second),
		lastOutput: time.Now().Add(-30 * time.Second),
	}
	idle := s.IdleDuration()
	if idle > 5*time.Second {
		t.Errorf("expected idle close to 3s (more recent input), got %s", idle)
	}
}

func TestPidNonZeroWhileRunning(t *testing.T) {
	done := make(chan struct{})
	s, err := Start("/bin/sleep", []string{"1"}, "", nil, 24, 80, Callbacks{
		Exit: func(code int, err error) { close(done) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Begin()
	if s.Pid() == 0 {
		t.Error("expected non-zero pid while process is running")
	}
	<-done
}
