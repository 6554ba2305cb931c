package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ProcessInfo is a snapshot of the engine process handle.
type ProcessInfo struct {
	PID      int
	Owned    bool // spawned by this transport
	Running  bool
	ExitCode int // valid once Running is false
}

// lineWriter splits a byte stream into lines, forwards each non-blank line
// to sink, and remembers the last one.
type lineWriter struct {
	mu   sync.Mutex
	buf  []byte
	last string
	sink func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf = append(w.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.buf[:i])); line != "" {
			w.last = line
			lines = append(lines, line)
		}
		w.buf = w.buf[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		w.sink(line)
	}
	return len(p), nil
}

// flush emits a trailing line that had no newline.
func (w *lineWriter) flush() {
	w.mu.Lock()
	line := strings.TrimSpace(string(w.buf))
	w.buf = nil
	if line != "" {
		w.last = line
	}
	w.mu.Unlock()
	if line != "" {
		w.sink(line)
	}
}

func (w *lineWriter) lastLine() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// tailPoll is how often a followed output file is checked for new bytes.
const tailPoll = 100 * time.Millisecond

// fileTail follows an output file of the engine and feeds it to a lineWriter.
type fileTail struct {
	f    *os.File
	w    *lineWriter
	buf  []byte
	stop chan struct{}
	done chan struct{}
}

func openTail(path string, w *lineWriter) (*fileTail, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileTail{
		f:    f,
		w:    w,
		buf:  make([]byte, 4096),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

func (t *fileTail) run() {
	defer close(t.done)
	defer t.f.Close()

	ticker := time.NewTicker(tailPoll)
	defer ticker.Stop()
	for {
		t.drain()
		select {
		case <-t.stop:
			t.drain()
			t.w.flush()
			return
		case <-ticker.C:
		}
	}
}

func (t *fileTail) drain() {
	for {
		n, err := t.f.Read(t.buf)
		if n > 0 {
			t.w.Write(t.buf[:n])
		}
		if n == 0 || err != nil {
			return
		}
	}
}

// finish forwards the remaining bytes and stops following.
func (t *fileTail) finish() {
	close(t.stop)
	<-t.done
}

// engineProcess is a spawned engine and the goroutine waiting on it.
type engineProcess struct {
	cmd    *exec.Cmd
	pid    int
	stdout *lineWriter
	stderr *lineWriter

	done     chan struct{}
	exitCode int
}

// EngineLogPaths returns the files a spawned engine writes its standard
// output and error to.
func EngineLogPaths(dir, sessionID string) (stdout, stderr string) {
	base := filepath.Join(dir, "engine-"+sessionID)
	return base + ".out.log", base + ".err.log"
}

// spawnEngine starts the engine in its own session with --session-id,
// working directory set to the executable's directory. Its output goes to
// log files under logDir rather than pipes, so the engine outlives this
// process; the files are followed and forwarded to logLine.
func spawnEngine(path, sessionID, logDir string, logLine func(string)) (*engineProcess, error) {
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return nil, fmt.Errorf("create engine log dir: %w", err)
	}
	outPath, errPath := EngineLogPaths(logDir, sessionID)

	outFile, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open engine log: %w", err)
	}
	defer outFile.Close()
	errFile, err := os.OpenFile(errPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("open engine log: %w", err)
	}
	defer errFile.Close()

	p := &engineProcess{
		stdout: &lineWriter{sink: logLine},
		stderr: &lineWriter{sink: logLine},
		done:   make(chan struct{}),
	}
	outTail, err := openTail(outPath, p.stdout)
	if err != nil {
		return nil, fmt.Errorf("follow engine log: %w", err)
	}
	errTail, err := openTail(errPath, p.stderr)
	if err != nil {
		outTail.f.Close()
		return nil, fmt.Errorf("follow engine log: %w", err)
	}

	cmd := exec.Command(path, "--session-id", sessionID)
	cmd.Dir = filepath.Dir(path)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	p.cmd = cmd

	if err := cmd.Start(); err != nil {
		outTail.f.Close()
		errTail.f.Close()
		return nil, fmt.Errorf("start engine %s: %w", path, err)
	}
	p.pid = cmd.Process.Pid

	go outTail.run()
	go errTail.run()
	go func() {
		err := cmd.Wait()
		outTail.finish()
		errTail.finish()
		p.exitCode = exitCodeOf(cmd, err)
		close(p.done)
	}()
	return p, nil
}

func exitCodeOf(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (p *engineProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// exitError describes the exit. Only valid after done is closed.
func (p *engineProcess) exitError(early bool) *ProcessError {
	return &ProcessError{
		ExitCode:   p.exitCode,
		LastStdout: p.stdout.lastLine(),
		LastStderr: p.stderr.lastLine(),
		Early:      early,
	}
}

func (p *engineProcess) info(owned bool) ProcessInfo {
	info := ProcessInfo{PID: p.pid, Owned: owned, Running: !p.exited()}
	if !info.Running {
		info.ExitCode = p.exitCode
	}
	return info
}

// terminate asks the process group to stop, waits up to grace, then kills
// the whole group. It returns once the process has been reaped or the
// kill could not be confirmed.
func (p *engineProcess) terminate(grace time.Duration) error {
	if p.exited() {
		return nil
	}
	if err := unix.Kill(-p.pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal engine group %d: %w", p.pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := unix.Kill(-p.pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill engine group %d: %w", p.pid, err)
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("engine %d did not exit after SIGKILL", p.pid)
	}
}
