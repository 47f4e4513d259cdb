// Package registry maps logical server names to their running process,
// scrollback and restart bookkeeping.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/process"
)

// ErrAlreadyRunning is returned by Register when a live process already
// holds the name.
var ErrAlreadyRunning = errors.New("process already running")

// Entry is one registered process. Its fields are immutable after Register.
type Entry struct {
	Name    string
	Spec    process.Spec
	Process *process.Process

	stopping bool // guarded by Registry.mu
}

// Alive is a non-blocking liveness probe.
func (e *Entry) Alive() bool { return e.Process != nil && e.Process.Alive() }

// Registry holds every managed process. A single mutex guards all maps
// and is only held for map operations.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]*Entry
	logs        map[string]*logbuf.Buffer
	autoRestart map[string]bool
	crashes     map[string]*crashRecord
}

type crashRecord struct {
	total int
	times []time.Time
}

// maxCrashTimes bounds the per-name history kept for windowed policies.
const maxCrashTimes = 64

func New() *Registry {
	return &Registry{
		entries:     make(map[string]*Entry),
		logs:        make(map[string]*logbuf.Buffer),
		autoRestart: make(map[string]bool),
		crashes:     make(map[string]*crashRecord),
	}
}

// Register stores p under name. It fails with ErrAlreadyRunning when the
// current holder is still alive; a dead holder is silently replaced.
func (r *Registry) Register(name string, spec process.Spec, p *process.Process) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[name]; ok && cur.Alive() {
		return nil, ErrAlreadyRunning
	}
	e := &Entry{Name: name, Spec: spec, Process: p}
	r.entries[name] = e
	return e, nil
}

// Lookup returns the entry for name, if any.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return e, ok
}

// Remove deletes name and returns what was there. Calling it again is a no-op.
func (r *Registry) Remove(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	return e, ok
}

// RemoveIf deletes name only while it still maps to e.
func (r *Registry) RemoveIf(name string, e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[name]; ok && cur == e {
		delete(r.entries, name)
		return true
	}
	return false
}

// BeginStop claims the entry for a stop. Only one caller wins; others,
// and callers for unknown names, get false. The entry stays registered so
// Register keeps rejecting the name until the stop finishes.
func (r *Registry) BeginStop(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok || e.stopping {
		return nil, false
	}
	e.stopping = true
	return e, true
}

// Stopping reports whether a stop has been claimed for e.
func (r *Registry) Stopping(e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return e.stopping
}

// IsAlive probes the registered process. An exited process is removed as
// a side effect.
func (r *Registry) IsAlive(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	if e.Alive() {
		return true
	}
	delete(r.entries, name)
	return false
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// ResetLog installs a fresh buffer for name, replacing any prior one.
func (r *Registry) ResetLog(name string, capacity int) *logbuf.Buffer {
	b := logbuf.New(capacity)
	r.mu.Lock()
	r.logs[name] = b
	r.mu.Unlock()
	return b
}

// Log returns the buffer for name. Buffers outlive their process.
func (r *Registry) Log(name string) (*logbuf.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.logs[name]
	return b, ok
}

// ClearLog drops the buffer for name.
func (r *Registry) ClearLog(name string) {
	r.mu.Lock()
	delete(r.logs, name)
	r.mu.Unlock()
}

func (r *Registry) SetAutoRestart(name string, enabled bool) {
	r.mu.Lock()
	if enabled {
		r.autoRestart[name] = true
	} else {
		delete(r.autoRestart, name)
	}
	r.mu.Unlock()
}

func (r *Registry) AutoRestart(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.autoRestart[name]
}

// RecordCrash counts a crash at t and returns the new total.
func (r *Registry) RecordCrash(name string, t time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.crashes[name]
	if !ok {
		rec = &crashRecord{}
		r.crashes[name] = rec
	}
	rec.total++
	rec.times = append(rec.times, t)
	if len(rec.times) > maxCrashTimes {
		rec.times = rec.times[len(rec.times)-maxCrashTimes:]
	}
	return rec.total
}

func (r *Registry) CrashCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.crashes[name]; ok {
		return rec.total
	}
	return 0
}

// CrashesSince counts crashes recorded at or after t.
func (r *Registry) CrashesSince(name string, t time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.crashes[name]
	if !ok {
		return 0
	}
	n := 0
	for _, ct := range rec.times {
		if !ct.Before(t) {
			n++
		}
	}
	return n
}

func (r *Registry) ResetCrashes(name string) {
	r.mu.Lock()
	delete(r.crashes, name)
	r.mu.Unlock()
}
