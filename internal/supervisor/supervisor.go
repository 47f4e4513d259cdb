// Package supervisor starts, feeds and stops managed server processes and
// captures their output into per-name scrollback.
package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/logger"
	"github.com/loykin/mcmanager/internal/metrics"
	"github.com/loykin/mcmanager/internal/process"
	"github.com/loykin/mcmanager/internal/registry"
)

// Defaults applied by New.
const (
	DefaultStopGrace    = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultStopCommand  = "stop"
	// ErrorPrefix tags stderr lines in the shared buffer.
	ErrorPrefix = "[ERROR] "
	// CommandPrefix tags echoed console commands.
	CommandPrefix = "> "
)

// RestartPolicy decides whether a crashed process is started again. A
// restart happens only while auto-restart is enabled for the name and
// fewer than MaxCrashes crashes were recorded within Window.
type RestartPolicy struct {
	MaxCrashes int           `mapstructure:"max_crashes"`
	Window     time.Duration `mapstructure:"window"`
	Delay      time.Duration `mapstructure:"delay"`
}

// DefaultRestartPolicy is used when Options.Restart is zero.
var DefaultRestartPolicy = RestartPolicy{MaxCrashes: 3, Window: 10 * time.Minute, Delay: 5 * time.Second}

// Options configures a Supervisor. Zero values select defaults.
type Options struct {
	LogCapacity  int
	StopGrace    time.Duration
	PollInterval time.Duration
	StopCommand  string
	// Console receives "[name] line" for stdout lines, ConsoleErr for
	// stderr lines. Use io.Discard to silence.
	Console    io.Writer
	ConsoleErr io.Writer
	// Capture optionally mirrors output into rotating files.
	Capture logger.Config
	Restart RestartPolicy
	// OnLine is called from the capture goroutines for every raw line.
	// It must not block.
	OnLine func(name, line string)
}

// Supervisor owns process lifecycles on top of a Registry.
type Supervisor struct {
	reg  *registry.Registry
	opts Options
	log  *slog.Logger
	hist *history.Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// draining suppresses auto-restart while Shutdown stops everything.
	draining atomic.Bool
}

func New(reg *registry.Registry, opts Options, log *slog.Logger, hist *history.Recorder) *Supervisor {
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = logbuf.DefaultCapacity
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StopCommand == "" {
		opts.StopCommand = DefaultStopCommand
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.ConsoleErr == nil {
		opts.ConsoleErr = os.Stderr
	}
	if opts.Restart == (RestartPolicy{}) {
		opts.Restart = DefaultRestartPolicy
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{reg: reg, opts: opts, log: log, hist: hist, ctx: ctx, cancel: cancel}
}

// Registry exposes the underlying registry.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Start launches command in workDir under name.
func (s *Supervisor) Start(name, workDir, command string) error {
	return s.StartSpec(process.Spec{Name: name, WorkDir: workDir, Command: command})
}

// StartSpec launches spec. It fails with ErrAlreadyRunning when the name
// holds a live process and with *LaunchError when spawning fails.
func (s *Supervisor) StartSpec(spec process.Spec) error {
	name := spec.Name
	if s.reg.IsAlive(name) {
		return ErrAlreadyRunning
	}
	if err := spec.Validate(); err != nil {
		return &LaunchError{Name: name, Cause: err}
	}
	proc, pipes, err := process.Start(spec)
	if err != nil {
		return &LaunchError{Name: name, Cause: err}
	}
	entry, err := s.reg.Register(name, spec, proc)
	if err != nil {
		// lost a race with another Start
		_ = proc.Kill()
		_ = pipes.Stdout.Close()
		_ = pipes.Stderr.Close()
		return err
	}
	buf := s.reg.ResetLog(name, s.opts.LogCapacity)

	outFile, errFile, ferr := s.opts.Capture.ProcessWriters(name)
	if ferr != nil {
		s.log.Warn("capture files unavailable", "name", name, "error", ferr)
	}

	var captures sync.WaitGroup
	captures.Add(2)
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer captures.Done()
		s.capture(name, pipes.Stdout, buf, "", s.opts.Console, outFile)
	}()
	go func() {
		defer s.wg.Done()
		defer captures.Done()
		s.capture(name, pipes.Stderr, buf, ErrorPrefix, s.opts.ConsoleErr, errFile)
	}()
	go func() {
		defer s.wg.Done()
		s.watch(entry, buf, &captures)
	}()

	metrics.IncStart(name)
	s.hist.Record(s.ctx, history.Event{Type: history.EventStart, Server: name, PID: proc.PID()})
	s.log.Info("server started", "name", name, "pid", proc.PID(), "dir", spec.WorkDir)
	return nil
}

// SendCommand writes text and a newline to the process input and echoes
// "> text" into its scrollback.
func (s *Supervisor) SendCommand(name, text string) error {
	if !s.reg.IsAlive(name) {
		return ErrNotRunning
	}
	e, ok := s.reg.Lookup(name)
	if !ok {
		return ErrNotRunning
	}
	if err := e.Process.WriteLine(text); err != nil {
		if errors.Is(err, process.ErrNoInput) {
			return ErrNoInputChannel
		}
		return &IOError{Op: "write stdin", Cause: err}
	}
	if buf, ok := s.reg.Log(name); ok {
		buf.Append(CommandPrefix + text)
	}
	metrics.IncCommand(name)
	return nil
}

// Stop asks the process to exit with the stop command, polls for exit for
// up to grace (DefaultStopGrace when <= 0), then kills it. The registry
// entry is removed on every return path. A concurrent or repeated Stop for
// the same name gets ErrNotFound.
func (s *Supervisor) Stop(name string, grace time.Duration) error {
	e, ok := s.reg.BeginStop(name)
	if !ok {
		return ErrNotFound
	}
	defer s.reg.RemoveIf(name, e)
	if grace <= 0 {
		grace = s.opts.StopGrace
	}

	if err := e.Process.WriteLine(s.opts.StopCommand); err != nil {
		s.log.Debug("graceful stop line not delivered", "name", name, "error", err)
	}

	exited := s.poll(e.Process, grace)
	forced := false
	var result error
	if !exited {
		forced = true
		s.log.Warn("server did not stop in time; killing", "name", name, "grace", grace)
		if err := e.Process.Kill(); err != nil {
			s.log.Warn("kill failed", "name", name, "error", err)
		}
		if !e.Process.WaitTimeout(5 * time.Second) {
			result = ErrTimeout
		}
	}

	metrics.IncStop(name, forced)
	detail := "graceful"
	if forced {
		detail = "forced"
	}
	s.hist.Record(s.ctx, history.Event{Type: history.EventStop, Server: name, PID: e.Process.PID(), Detail: detail})
	s.log.Info("server stopped", "name", name, "forced", forced)
	return result
}

func (s *Supervisor) poll(p *process.Process, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		if !p.Alive() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		<-ticker.C
	}
}

// IsAlive reports liveness, removing exited entries.
func (s *Supervisor) IsAlive(name string) bool { return s.reg.IsAlive(name) }

// Status returns the registered process status.
func (s *Supervisor) Status(name string) (process.Status, bool) {
	if !s.reg.IsAlive(name) {
		return process.Status{Name: name}, false
	}
	e, ok := s.reg.Lookup(name)
	if !ok {
		return process.Status{Name: name}, false
	}
	return e.Process.Snapshot(), true
}

// Running returns name to pid for every live process.
func (s *Supervisor) Running() map[string]int32 {
	out := make(map[string]int32)
	for _, n := range s.reg.Names() {
		if e, ok := s.reg.Lookup(n); ok && e.Alive() {
			out[n] = int32(e.Process.PID())
		}
	}
	return out
}

// StopAll stops every registered process concurrently.
func (s *Supervisor) StopAll(grace time.Duration) {
	var wg sync.WaitGroup
	for _, n := range s.reg.Names() {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := s.Stop(n, grace); err != nil && !errors.Is(err, ErrNotFound) {
				s.log.Warn("stop during shutdown failed", "name", n, "error", err)
			}
		}(n)
	}
	wg.Wait()
}

// Shutdown stops every registered process with no auto-restart racing it,
// then closes the supervisor.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.draining.Store(true)
	s.StopAll(grace)
	s.Close()
}

// Close cancels pending restarts and waits for every capture and watch
// goroutine. Live processes keep it blocked, so call StopAll first.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}
