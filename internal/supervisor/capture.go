package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loykin/mcmanager/internal/history"
	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/metrics"
	"github.com/loykin/mcmanager/internal/registry"
)

// captureDrain bounds how long the exit watcher waits for the readers to
// hit EOF. Descendants that inherited the pipes can hold them open.
const captureDrain = 2 * time.Second

// capture reads r line by line until EOF. Each line goes to the buffer
// (with prefix), the console as "[name] line", the optional capture file
// and the OnLine hook.
func (s *Supervisor) capture(name string, r io.ReadCloser, buf *logbuf.Buffer, prefix string, console io.Writer, file io.WriteCloser) {
	defer func() { _ = r.Close() }()
	if file != nil {
		defer func() { _ = file.Close() }()
	}
	br := bufio.NewReader(r)
	for {
		raw, err := br.ReadString('\n')
		if raw != "" {
			line := strings.TrimRight(raw, "\r\n")
			buf.Append(prefix + line)
			_, _ = fmt.Fprintf(console, "[%s] %s\n", name, line)
			if file != nil {
				if _, werr := io.WriteString(file, line+"\n"); werr != nil {
					s.log.Debug("capture file write failed", "name", name, "error", werr)
				}
			}
			if s.opts.OnLine != nil {
				s.opts.OnLine(name, line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.log.Debug("capture stream ended", "name", name, "error", err)
			}
			return
		}
	}
}

// watch waits for the process to exit. Exits claimed by Stop are left to
// Stop; any other exit removes the entry, runs crash detection and applies
// the restart policy.
func (s *Supervisor) watch(e *registry.Entry, buf *logbuf.Buffer, captures *sync.WaitGroup) {
	<-e.Process.Done()
	drained := make(chan struct{})
	go func() { captures.Wait(); close(drained) }()
	select {
	case <-drained:
	case <-time.After(captureDrain):
	}

	if s.reg.Stopping(e) {
		return
	}
	s.reg.RemoveIf(e.Name, e)
	metrics.SetExited(e.Name)

	var detail string
	if err := e.Process.ExitErr(); err != nil {
		detail = err.Error()
	}
	if !logbuf.DetectCrash(buf.Snapshot()) {
		s.hist.Record(s.ctx, history.Event{Type: history.EventExit, Server: e.Name, PID: e.Process.PID(), Detail: detail})
		s.log.Info("server exited", "name", e.Name, "exit", detail)
		return
	}

	total := s.reg.RecordCrash(e.Name, time.Now())
	metrics.IncCrash(e.Name)
	s.hist.Record(s.ctx, history.Event{Type: history.EventCrash, Server: e.Name, PID: e.Process.PID(), Detail: detail})
	s.log.Warn("server crashed", "name", e.Name, "crashes", total, "exit", detail)
	s.maybeRestart(e)
}

func (s *Supervisor) maybeRestart(e *registry.Entry) {
	name := e.Name
	if s.draining.Load() || !s.reg.AutoRestart(name) {
		return
	}
	p := s.opts.Restart
	if p.MaxCrashes > 0 {
		recent := s.reg.CrashesSince(name, time.Now().Add(-p.Window))
		if recent >= p.MaxCrashes {
			s.log.Error("crash limit reached; auto-restart suspended", "name", name, "crashes", recent, "window", p.Window)
			return
		}
	}
	t := time.NewTimer(p.Delay)
	select {
	case <-t.C:
	case <-s.ctx.Done():
		t.Stop()
		return
	}
	// re-check: the flag may have been cleared or the name restarted by hand
	if s.ctx.Err() != nil || s.draining.Load() || !s.reg.AutoRestart(name) || s.reg.IsAlive(name) {
		return
	}
	if err := s.StartSpec(e.Spec); err != nil {
		s.log.Error("auto-restart failed", "name", name, "error", err)
		return
	}
	metrics.IncRestart(name)
	s.hist.Record(s.ctx, history.Event{Type: history.EventRestart, Server: name})
	s.log.Info("server auto-restarted", "name", name)
}
