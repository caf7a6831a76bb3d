//go:build unix

package task

import (
	"errors"
	"testing"
	"time"

	"github.com/kingrea/flowgraph/internal/unit"
)

func waitTerminal(t *testing.T, tk *Task) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if status := tk.RefreshStatus(); status.Terminal() {
			return status
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s did not finish", tk.Name())
	return ""
}

func TestStartAndRefreshStatus(t *testing.T) {
	cases := map[string]Status{"true": StatusSuccess, "false": StatusFailed}
	for exe, want := range cases {
		t.Run(exe, func(t *testing.T) {
			u := mustUnit(t, unit.Definition{Name: exe, Executor: exe})
			tk, err := New(Config{Name: "probe", Unit: u, WorkingDir: t.TempDir()})
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if status := tk.RefreshStatus(); status != StatusWaiting {
				t.Fatalf("status before start = %s", status)
			}
			if err := tk.Start(); !errors.Is(err, ErrNoCommand) {
				t.Fatalf("start without command err = %v", err)
			}
			if _, err := tk.GenCommand(arena{tk}, true); err != nil {
				t.Fatalf("gen: %v", err)
			}
			if err := tk.Start(); err != nil {
				t.Fatalf("start: %v", err)
			}
			if tk.PID() == 0 || tk.Status() != StatusRunning {
				t.Fatalf("after start pid=%d status=%s", tk.PID(), tk.Status())
			}
			if got := waitTerminal(t, tk); got != want {
				t.Fatalf("status = %s, want %s", got, want)
			}
			if got := tk.RefreshStatus(); got != want {
				t.Fatalf("terminal status changed to %s", got)
			}
		})
	}
}

func TestResetKeepsDisplayStatus(t *testing.T) {
	u := mustUnit(t, unit.Definition{Name: "true", Executor: "true"})
	tk, err := New(Config{Name: "probe", Unit: u, WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	tk.Restore(StatusFailed)
	tk.Reset(StatusFailed)
	if tk.Status() != StatusWaiting || tk.DisplayStatus() != StatusFailed || tk.PID() != 0 {
		t.Fatalf("after reset status=%s display=%s pid=%d", tk.Status(), tk.DisplayStatus(), tk.PID())
	}
}
