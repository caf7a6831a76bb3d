//go:build unix

package task

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/kingrea/flowgraph/internal/unit"
)

// Start launches the generated command in the background. The child runs
// in its own process group and outlives the scheduler.
func (t *Task) Start() error {
	if t.sentinel {
		return fmt.Errorf("task: %s is a sentinel", t.name)
	}
	if t.shellCmd == "" {
		return fmt.Errorf("%w: %s", ErrNoCommand, t.name)
	}
	if t.status != StatusWaiting {
		return fmt.Errorf("%w: %s is %s", ErrNotWaiting, t.name, t.status)
	}
	for _, dir := range []string{t.outputDir, t.successDir, t.stdxxxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("task: %s: ensure %s: %w", t.name, dir, err)
		}
	}
	stdout, err := t.openStream(unit.PortStdout)
	if err != nil {
		return err
	}
	defer stdout.Close()
	stderr, err := t.openStream(unit.PortStderr)
	if err != nil {
		return err
	}
	defer stderr.Close()

	cmd := exec.Command("/bin/sh", "-c", t.shellCmd)
	cmd.Dir = t.outputDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("task: %s: start: %w", t.name, err)
	}
	t.pid = cmd.Process.Pid
	// The process is reaped by RefreshStatus.
	_ = cmd.Process.Release()
	t.status = StatusRunning
	t.displayStatus = StatusRunning
	t.log.Info("task started", zap.String("task", t.name), zap.Int("pid", t.pid))
	return nil
}

func (t *Task) openStream(port string) (*os.File, error) {
	suffix := ".stdout"
	if port == unit.PortStderr {
		suffix = ".stderr"
	}
	path := filepath.Join(t.stdxxxDir, t.name+suffix)
	if values := t.outputs[port]; len(values) == 1 && filepath.IsAbs(values[0]) {
		path = values[0]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("task: %s: ensure %s dir: %w", t.name, port, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("task: %s: open %s: %w", t.name, port, err)
	}
	return f, nil
}

// RefreshStatus derives the status from the success marker and the
// process table. Terminal statuses are never revisited.
func (t *Task) RefreshStatus() Status {
	if t.sentinel || t.status.Terminal() {
		return t.status
	}
	switch {
	case fileExists(t.marker):
		t.status = StatusSuccess
	case t.pid == 0:
		t.status = StatusWaiting
	case processAlive(t.pid):
		t.status = StatusRunning
	default:
		t.status = StatusFailed
	}
	t.displayStatus = t.status
	return t.status
}

// processAlive probes pid with signal 0 and reaps it if it is a zombie
// child. A reaped process still counts as alive for this round.
func processAlive(pid int) bool {
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	var ws unix.WaitStatus
	_, _ = unix.Wait4(pid, &ws, unix.WNOHANG, nil)
	return true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
