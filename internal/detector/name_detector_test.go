package detector

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// startRenamedSleep copies the sleep binary under a unique name so that
// the test never matches unrelated processes.
func startRenamedSleep(t *testing.T, name string) *exec.Cmd {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like sleep")
	}
	src, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not found")
	}
	b, err := os.ReadFile(src)
	if err != nil {
		t.Skipf("cannot read sleep: %v", err)
	}
	bin := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(bin, b, 0o755); err != nil {
		t.Fatalf("write bin: %v", err)
	}
	cmd := exec.Command(bin, "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("renamed sleep does not run: %v", err)
	}
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd
}

func TestNameDetector_FindAndKillAll(t *testing.T) {
	cmd := startRenamedSleep(t, "mcmdettest")
	d := NameDetector{Name: "MCMDETTEST"}
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	var pids []int
	for time.Now().Before(deadline) {
		var err error
		pids, err = d.PIDs(ctx)
		if err != nil {
			t.Fatalf("PIDs: %v", err)
		}
		if len(pids) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(pids) != 1 || pids[0] != cmd.Process.Pid {
		t.Fatalf("expected pid %d, got %v", cmd.Process.Pid, pids)
	}
	if ok, err := Running(ctx, d); err != nil || !ok {
		t.Fatalf("Running=%v err=%v", ok, err)
	}

	n, err := d.KillAll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("KillAll n=%d err=%v", n, err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := Running(ctx, d); !ok {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process still detected after KillAll")
}

func TestNameDetector_NoMatch(t *testing.T) {
	d := NameDetector{Name: "no-such-binary-mcm"}
	ok, err := Running(context.Background(), d)
	if err != nil || ok {
		t.Fatalf("Running=%v err=%v", ok, err)
	}
	if d.Describe() != "name:no-such-binary-mcm" {
		t.Fatalf("describe=%q", d.Describe())
	}
	if _, err := (NameDetector{}).Find(context.Background()); err == nil {
		t.Fatalf("expected error for empty name")
	}
}
