package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/yllada/datagate-shell/common"
)

// staleCleaner terminates leftover engine processes whose executable is
// exactly the engine we are about to spawn.
type staleCleaner struct {
	procRoot string
	wait     time.Duration
	kill     func(pid int) error
	self     int
}

func newStaleCleaner() *staleCleaner {
	return &staleCleaner{
		procRoot: "/proc",
		wait:     common.StaleEngineWait,
		kill:     killProcessTree,
		self:     os.Getpid(),
	}
}

// killProcessTree kills pid, and its whole group when it leads one.
func killProcessTree(pid int) error {
	if pgid, err := unix.Getpgid(pid); err == nil && pgid == pid {
		if err := unix.Kill(-pid, unix.SIGKILL); err == nil {
			return nil
		}
	}
	return unix.Kill(pid, unix.SIGKILL)
}

// Run returns the pids that were killed. Failures are logged and ignored.
func (c *staleCleaner) Run(enginePath string) []int {
	target, err := filepath.EvalSymlinks(enginePath)
	if err != nil {
		target = filepath.Clean(enginePath)
	}

	entries, err := os.ReadDir(c.procRoot)
	if err != nil {
		common.LogWarn("Stale engine scan failed (ignored): %v", err)
		return nil
	}

	var killed []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == c.self {
			continue
		}
		exe, err := os.Readlink(filepath.Join(c.procRoot, entry.Name(), "exe"))
		if err != nil {
			// Permission denied or already gone.
			continue
		}
		if filepath.Clean(exe) != target {
			continue
		}

		common.LogInfo("Killing stale engine process pid=%d path=%s", pid, exe)
		if err := c.kill(pid); err != nil && !errors.Is(err, unix.ESRCH) {
			common.LogWarn("Failed to kill stale engine %d (ignored): %v", pid, err)
			continue
		}
		killed = append(killed, pid)
	}

	for _, pid := range killed {
		c.waitGone(pid)
	}
	return killed
}

func (c *staleCleaner) waitGone(pid int) {
	dir := filepath.Join(c.procRoot, strconv.Itoa(pid))
	deadline := time.Now().Add(c.wait)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	common.LogWarn("Stale engine %d still present after %v", pid, c.wait)
}
