// Package playit supervises the playit.gg tunnel agent and keeps the public
// tunnel address it announces.
package playit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loykin/mcmanager/internal/detector"
	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/metrics"
	"github.com/loykin/mcmanager/internal/process"
	"github.com/loykin/mcmanager/internal/registry"
	"github.com/loykin/mcmanager/internal/supervisor"
	"github.com/loykin/mcmanager/internal/tunnel"
)

// Name is the registry key of the agent process.
const Name = "playit"

// Status values reported by Status.
const (
	StateStopped      = "stopped"
	StateRunning      = "running"
	StateTunnelActive = "tunnel_active"
)

var ErrNotInstalled = errors.New("playit agent is not installed")

// Config locates the agent binary and tunes address detection. Dir is
// also the directory searched for agent config and recent files.
type Config struct {
	Binary       string        `mapstructure:"binary"`
	Dir          string        `mapstructure:"dir"`
	LogCapacity  int           `mapstructure:"log_capacity"`
	ConfigFiles  []string      `mapstructure:"config_files"`
	RecentWindow time.Duration `mapstructure:"recent_window"`
	MaxFileSize  int64         `mapstructure:"max_file_size"`
	// Console mirrors agent output; nil discards it.
	Console io.Writer `mapstructure:"-"`
}

// TunnelConfig is the detector configuration for the agent directory.
func (c Config) TunnelConfig() tunnel.Config {
	return tunnel.Config{
		Dir:          c.Dir,
		ConfigFiles:  c.ConfigFiles,
		RecentWindow: c.RecentWindow,
		MaxFileSize:  c.MaxFileSize,
	}
}

// DefaultBinary is the agent executable name for the running platform.
func DefaultBinary() string {
	if runtime.GOOS == "windows" {
		return "playit.exe"
	}
	return "playit"
}

// State is the agent status snapshot.
type State struct {
	Running   bool   `json:"running"`
	PID       int    `json:"pid,omitempty"`
	TunnelURL string `json:"tunnel_url,omitempty"`
	Status    string `json:"status"`
}

// Supervisor runs a single agent process on a dedicated process
// supervisor and feeds every output line to the tunnel detector.
type Supervisor struct {
	cfg  Config
	sup  *supervisor.Supervisor
	det  *tunnel.Detector
	host detector.Scanner
	log  *slog.Logger
	hist *history.Recorder
	sf   singleflight.Group

	// gate orders live-log detection against Stop: once stopping is set
	// under the write lock, no in-flight line can reach the detector.
	gate     sync.RWMutex
	stopping bool
	pending  sync.WaitGroup
}

func New(cfg Config, log *slog.Logger, hist *history.Recorder) *Supervisor {
	if cfg.Binary == "" {
		cfg.Binary = DefaultBinary()
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = logbuf.TunnelCapacity
	}
	if cfg.Console == nil {
		cfg.Console = io.Discard
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Supervisor{
		cfg:  cfg,
		det:  tunnel.NewDetector(cfg.TunnelConfig(), log.With("component", "tunnel")),
		host: detector.NameDetector{Name: filepath.Base(cfg.Binary)},
		log:  log,
		hist: hist,
	}
	p.sup = supervisor.New(registry.New(), supervisor.Options{
		LogCapacity: cfg.LogCapacity,
		Console:     cfg.Console,
		ConsoleErr:  cfg.Console,
		OnLine:      p.observe,
	}, log.With("component", "playit"), hist)
	return p
}

func (p *Supervisor) observe(_ string, line string) {
	p.gate.RLock()
	if p.stopping {
		p.gate.RUnlock()
		return
	}
	addr, ok := p.det.Observe(line)
	p.gate.RUnlock()
	if !ok {
		return
	}
	p.announce(addr, tunnel.SourceLiveLog)
}

func (p *Supervisor) setStopping(v bool) {
	p.gate.Lock()
	p.stopping = v
	p.gate.Unlock()
}

// announce runs on the capture goroutine, so sink delivery happens in the
// background.
func (p *Supervisor) announce(addr string, src tunnel.Source) {
	metrics.IncTunnelDetection(string(src))
	p.log.Info("tunnel address detected", "address", addr, "source", src)
	if p.hist == nil {
		return
	}
	e := history.Event{
		Type:       history.EventTunnel,
		OccurredAt: time.Now(),
		Server:     Name,
		Detail:     addr,
	}
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		p.hist.Record(context.Background(), e)
	}()
}

// Binary resolves the agent executable: Dir/Binary first, then Binary as
// a path, then a PATH lookup.
func (p *Supervisor) Binary() (string, error) {
	if p.cfg.Dir != "" {
		candidate := filepath.Join(p.cfg.Dir, p.cfg.Binary)
		if isFile(candidate) {
			return candidate, nil
		}
	}
	if strings.ContainsRune(p.cfg.Binary, filepath.Separator) || strings.Contains(p.cfg.Binary, "/") {
		if isFile(p.cfg.Binary) {
			return p.cfg.Binary, nil
		}
		return "", ErrNotInstalled
	}
	path, err := exec.LookPath(p.cfg.Binary)
	if err != nil {
		return "", ErrNotInstalled
	}
	return path, nil
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// Installed reports whether the agent binary can be resolved.
func (p *Supervisor) Installed() bool {
	_, err := p.Binary()
	return err == nil
}

// Start launches the agent. It fails with ErrNotInstalled when the binary
// is missing and with supervisor.ErrAlreadyRunning when an agent process
// is already running anywhere on the host.
func (p *Supervisor) Start(ctx context.Context) error {
	bin, err := p.Binary()
	if err != nil {
		return err
	}
	if p.sup.IsAlive(Name) {
		return supervisor.ErrAlreadyRunning
	}
	if running, err := detector.Running(ctx, p.host); err != nil {
		p.log.Warn("process enumeration failed", "scanner", p.host.Describe(), "error", err)
	} else if running {
		return supervisor.ErrAlreadyRunning
	}

	command := bin
	if strings.ContainsAny(bin, " \t") {
		command = "'" + bin + "'"
	}
	p.setStopping(false)
	return p.sup.StartSpec(process.Spec{Name: Name, Command: command, WorkDir: filepath.Dir(bin)})
}

// Stop kills the agent started here and every other process carrying the
// agent's executable name, then clears the cached address and scrollback.
func (p *Supervisor) Stop(ctx context.Context) error {
	p.setStopping(true)
	reg := p.sup.Registry()
	if e, ok := reg.BeginStop(Name); ok {
		if err := e.Process.Kill(); err != nil {
			p.log.Debug("kill agent", "error", err)
		}
		e.Process.WaitTimeout(5 * time.Second)
		reg.RemoveIf(Name, e)
		metrics.IncStop(Name, true)
	}
	n, err := p.host.KillAll(ctx)
	if n > 0 {
		p.log.Info("killed agent processes", "count", n)
	}
	p.det.Clear()
	p.sup.ClearLogs(Name)
	return err
}

// Running reports whether an agent process exists on the host.
func (p *Supervisor) Running(ctx context.Context) bool {
	if p.sup.IsAlive(Name) {
		return true
	}
	running, err := detector.Running(ctx, p.host)
	return err == nil && running
}

// Address returns the cached tunnel address.
func (p *Supervisor) Address() (string, bool) { return p.det.Cached() }

// SetAddress overrides the cached address; empty clears it.
func (p *Supervisor) SetAddress(addr string) { p.det.Set(addr) }

// Detect runs the full tiered search. Concurrent callers share one search.
func (p *Supervisor) Detect() (string, tunnel.Source, bool) {
	type result struct {
		addr string
		src  tunnel.Source
	}
	v, _, _ := p.sf.Do("detect", func() (any, error) {
		addr, src, ok := p.det.Detect(p.sup.Logs(Name))
		if ok && src != tunnel.SourceCache {
			p.announce(addr, src)
		}
		return result{addr: addr, src: src}, nil
	})
	r := v.(result)
	return r.addr, r.src, r.addr != ""
}

// Status reports liveness, pid and the cached address. A known address on
// a live agent reports StateTunnelActive.
func (p *Supervisor) Status(ctx context.Context) State {
	st := State{Status: StateStopped}
	if s, ok := p.sup.Status(Name); ok {
		st.Running, st.PID = true, s.PID
	} else if pids, err := p.host.PIDs(ctx); err == nil && len(pids) > 0 {
		st.Running, st.PID = true, pids[0]
	}
	if !st.Running {
		return st
	}
	st.Status = StateRunning
	if addr, ok := p.det.Cached(); ok {
		st.TunnelURL = addr
		st.Status = StateTunnelActive
	}
	return st
}

// Logs returns the agent scrollback.
func (p *Supervisor) Logs() []string { return p.sup.Logs(Name) }

// Close releases capture goroutines and waits for pending history
// deliveries. Stop the agent first.
func (p *Supervisor) Close() {
	p.sup.Close()
	p.pending.Wait()
}
