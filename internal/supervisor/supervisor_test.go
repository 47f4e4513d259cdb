package supervisor

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/mcmanager/internal/registry"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func newTestSupervisor(t *testing.T, opts Options) *Supervisor {
	t.Helper()
	if opts.Console == nil {
		opts.Console = io.Discard
	}
	if opts.ConsoleErr == nil {
		opts.ConsoleErr = io.Discard
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 20 * time.Millisecond
	}
	s := New(registry.New(), opts, nil, nil)
	t.Cleanup(func() {
		s.StopAll(200 * time.Millisecond)
		s.Close()
	})
	return s
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

const readLoop = `sh -c 'while read l; do if [ "$l" = stop ]; then echo bye; exit 0; fi; echo "got $l"; done'`

func TestStart_CapturesOutputAndSelfHeals(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("hello", "", "echo Hello"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ok := waitFor(t, 3*time.Second, func() bool {
		return !s.IsAlive("hello") && len(s.Logs("hello")) == 1
	})
	if !ok {
		t.Fatalf("expected exit and one line, alive=%v logs=%v", s.IsAlive("hello"), s.Logs("hello"))
	}
	if got := s.Logs("hello"); got[0] != "Hello" {
		t.Fatalf("logs=%v", got)
	}
	if _, ok := s.Registry().Lookup("hello"); ok {
		t.Fatalf("exited process should not stay registered")
	}
}

func TestStart_StderrTaggedAndMirrored(t *testing.T) {
	requireUnix(t)
	out := &syncBuffer{}
	errOut := &syncBuffer{}
	var mu sync.Mutex
	var seen []string
	s := newTestSupervisor(t, Options{
		Console:    out,
		ConsoleErr: errOut,
		OnLine: func(name, line string) {
			mu.Lock()
			seen = append(seen, name+":"+line)
			mu.Unlock()
		},
	})
	if err := s.Start("mixed", "", "sh -c 'echo to-out; echo to-err 1>&2'"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return len(s.Logs("mixed")) == 2 }) {
		t.Fatalf("logs=%v", s.Logs("mixed"))
	}
	logs := strings.Join(s.Logs("mixed"), "\n")
	if !strings.Contains(logs, "to-out") || !strings.Contains(logs, ErrorPrefix+"to-err") {
		t.Fatalf("unexpected logs %q", logs)
	}
	if !strings.Contains(out.String(), "[mixed] to-out") || !strings.Contains(errOut.String(), "[mixed] to-err") {
		t.Fatalf("console mirror missing: out=%q err=%q", out.String(), errOut.String())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("OnLine calls=%v", seen)
	}
}

func TestStart_AlreadyRunning(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("dup", "", "sleep 30"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start("dup", "", "sleep 30"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStart_LaunchFailed(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	err := s.Start("bad", "", "/no/such/binary")
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
	if s.IsAlive("bad") {
		t.Fatalf("failed launch must not register")
	}
}

func TestSendCommand_NotRunning(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	done := make(chan error, 1)
	go func() { done <- s.SendCommand("ghost", "list") }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrNotRunning) {
			t.Fatalf("expected ErrNotRunning, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("SendCommand blocked")
	}
}

func TestSendCommand_EchoesAndStopsGracefully(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("loop", "", readLoop); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.SendCommand("loop", "list"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool {
		return strings.Contains(strings.Join(s.Logs("loop"), "\n"), "got list")
	}) {
		t.Fatalf("logs=%v", s.Logs("loop"))
	}
	if logs := s.Logs("loop"); logs[0] != CommandPrefix+"list" {
		t.Fatalf("command echo should precede its output: %v", logs)
	}

	start := time.Now()
	if err := s.Stop("loop", 5*time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("graceful stop took too long")
	}
	if err := s.Stop("loop", time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second stop: expected ErrNotFound, got %v", err)
	}
	if s.DetectCrash("loop") {
		t.Fatalf("clean shutdown flagged as crash: %v", s.Logs("loop"))
	}
}

func TestStop_ForcesAfterGrace(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("stubborn", "", "sh -c 'trap \"\" TERM; sleep 30'"); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	if err := s.Stop("stubborn", 300*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d := time.Since(start); d < 300*time.Millisecond {
		t.Fatalf("stop returned before grace elapsed: %v", d)
	}
	if s.IsAlive("stubborn") {
		t.Fatalf("process survived forced stop")
	}
	if _, ok := s.Registry().Lookup("stubborn"); ok {
		t.Fatalf("entry should be removed after forced stop")
	}
}

func TestStop_ConcurrentSingleWinner(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("race", "", readLoop); err != nil {
		t.Fatalf("start: %v", err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Stop("race", 2*time.Second)
		}(i)
	}
	wg.Wait()
	ok, notFound := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrNotFound):
			notFound++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || notFound != 3 {
		t.Fatalf("ok=%d notFound=%d", ok, notFound)
	}
}

func TestStop_UnknownName(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	if err := s.Stop("nobody", time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStartStop_NeverTwoLive(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _ = s.Start("one", "", readLoop) }()
		go func() { defer wg.Done(); _ = s.Stop("one", time.Second) }()
	}
	wg.Wait()
	if n := len(s.Running()); n > 1 {
		t.Fatalf("more than one live process: %d", n)
	}
}

func TestCrash_CountsAndRestartsUntilLimit(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{
		Restart: RestartPolicy{MaxCrashes: 2, Window: time.Minute, Delay: 20 * time.Millisecond},
	})
	s.SetAutoRestart("crashy", true)
	if err := s.Start("crashy", "", "sh -c 'echo Server crashed; exit 1'"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return s.CrashCount("crashy") == 2 }) {
		t.Fatalf("crash count=%d", s.CrashCount("crashy"))
	}
	time.Sleep(200 * time.Millisecond)
	if n := s.CrashCount("crashy"); n != 2 {
		t.Fatalf("restart should be suspended at the limit, crashes=%d", n)
	}
	if !s.DetectCrash("crashy") {
		t.Fatalf("expected crash signal in scrollback")
	}
	s.ResetCrashes("crashy")
	if s.CrashCount("crashy") != 0 {
		t.Fatalf("reset failed")
	}
}

func TestCrash_NoRestartWhenDisabled(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{
		Restart: RestartPolicy{MaxCrashes: 5, Window: time.Minute, Delay: 10 * time.Millisecond},
	})
	if err := s.Start("once", "", "sh -c 'echo Fatal boom; exit 1'"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return s.CrashCount("once") == 1 }) {
		t.Fatalf("crash not recorded")
	}
	time.Sleep(100 * time.Millisecond)
	if s.CrashCount("once") != 1 || s.IsAlive("once") {
		t.Fatalf("unexpected restart")
	}
}

func TestShutdown_NoRestartWhileStopping(t *testing.T) {
	requireUnix(t)
	s := New(registry.New(), Options{
		Console:      io.Discard,
		ConsoleErr:   io.Discard,
		PollInterval: 20 * time.Millisecond,
		Restart:      RestartPolicy{MaxCrashes: 5, Window: time.Minute, Delay: 150 * time.Millisecond},
	}, nil, nil)
	if err := s.Start("stubborn", "", "sh -c 'trap \"\" TERM; sleep 30'"); err != nil {
		t.Fatalf("start stubborn: %v", err)
	}
	s.SetAutoRestart("crashy", true)
	if err := s.Start("crashy", "", "sh -c 'echo Server crashed; exit 1'"); err != nil {
		t.Fatalf("start crashy: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return s.CrashCount("crashy") == 1 }) {
		t.Fatalf("crash not recorded")
	}

	// the stubborn stop outlasts the restart delay
	s.Shutdown(500 * time.Millisecond)
	if n := s.CrashCount("crashy"); n != 1 {
		t.Fatalf("restarted during shutdown, crashes=%d", n)
	}
	if s.IsAlive("crashy") || s.IsAlive("stubborn") {
		t.Fatalf("process alive after shutdown")
	}
}

func TestClearLogs(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("c", "", "echo x"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 3*time.Second, func() bool { return len(s.Logs("c")) == 1 })
	s.ClearLogs("c")
	if s.Logs("c") != nil {
		t.Fatalf("expected logs cleared")
	}
}

func TestStats_NotRunning(t *testing.T) {
	s := newTestSupervisor(t, Options{})
	if _, err := s.Stats(t.Context(), "idle"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStats_Live(t *testing.T) {
	requireUnix(t)
	s := newTestSupervisor(t, Options{})
	if err := s.Start("busy", "", "sleep 30"); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := s.Stats(t.Context(), "busy")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.PID <= 0 || st.TotalMemory == 0 {
		t.Fatalf("unexpected sample %+v", st)
	}
}
