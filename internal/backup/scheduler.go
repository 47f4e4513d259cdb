package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultParallel bounds concurrent archive jobs in one scheduled run.
const DefaultParallel = 2

// Source enumerates the servers to archive on each scheduled run.
type Source interface {
	ListServers() ([]string, error)
	ServerDir(name string) (string, error)
}

// Status reports the scheduler state.
type Status struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	NextRun  time.Time     `json:"next_run,omitempty"`
	LastErrs int           `json:"last_errors"`
}

// RunResult summarizes one scheduled pass.
type RunResult struct {
	Created []Info
	Failed  map[string]error
	Pruned  []string
}

// Scheduler archives every server at a fixed interval. At most one loop
// runs at a time: Enable stops and joins the previous loop first.
type Scheduler struct {
	arch     *Archiver
	src      Source
	log      *slog.Logger
	keep     int
	parallel int

	ctl      sync.Mutex // serializes Enable and Disable
	mu       sync.Mutex
	enabled  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	lastRun  time.Time
	nextRun  time.Time
	lastErrs int
}

func NewScheduler(arch *Archiver, src Source, keep, parallel int, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	return &Scheduler{arch: arch, src: src, keep: keep, parallel: parallel, log: log}
}

// Enable (re)starts the periodic loop. The first run happens one interval
// after the call.
func (s *Scheduler) Enable(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.ctl.Lock()
	defer s.ctl.Unlock()
	s.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.enabled = true
	s.interval = interval
	s.cancel = cancel
	s.done = done
	s.nextRun = time.Now().Add(interval)
	s.mu.Unlock()
	go s.loop(ctx, interval, done)
	s.log.Info("backup scheduler enabled", "interval", interval)
}

// Disable stops the loop and waits for an in-flight run to finish.
func (s *Scheduler) Disable() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.stop() {
		s.log.Info("backup scheduler disabled")
	}
}

// stop cancels and joins the current loop. Callers hold ctl.
func (s *Scheduler) stop() bool {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.enabled = false
	s.nextRun = time.Time{}
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return true
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Enabled:  s.enabled,
		Interval: s.interval,
		LastRun:  s.lastRun,
		NextRun:  s.nextRun,
		LastErrs: s.lastErrs,
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	t := time.NewTimer(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if ctx.Err() != nil {
			return
		}
		res := s.RunOnce(ctx)
		s.mu.Lock()
		s.lastRun = time.Now()
		s.lastErrs = len(res.Failed)
		if s.done == done {
			s.nextRun = s.lastRun.Add(interval)
		}
		s.mu.Unlock()
		t.Reset(interval)
	}
}

// RunOnce archives every server, logging individual failures, then prunes.
func (s *Scheduler) RunOnce(ctx context.Context) RunResult {
	res := RunResult{Failed: map[string]error{}}
	names, err := s.src.ListServers()
	if err != nil {
		s.log.Error("list servers for backup", "error", err)
		return res
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, name := range names {
		g.Go(func() error {
			dir, err := s.src.ServerDir(name)
			if err == nil {
				var info Info
				info, err = s.arch.create(gctx, name, dir, TriggerScheduled)
				if err == nil {
					mu.Lock()
					res.Created = append(res.Created, info)
					mu.Unlock()
					return nil
				}
			}
			s.log.Error("scheduled backup failed", "server", name, "error", err)
			mu.Lock()
			res.Failed[name] = err
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	pruned, err := s.arch.Prune(s.keep)
	if err != nil {
		s.log.Error("prune backups", "error", err)
	}
	res.Pruned = pruned
	return res
}
