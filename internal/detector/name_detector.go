package detector

import (
	"context"
	"errors"
	"os"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// NameDetector finds processes by executable name across the whole OS,
// independent of who started them. Matching is case-insensitive and
// ignores a trailing ".exe".
type NameDetector struct {
	Name string
}

func normalizeName(s string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".exe")
}

// Find returns every matching process other than the current one.
func (d NameDetector) Find(ctx context.Context) ([]*gopsproc.Process, error) {
	want := normalizeName(d.Name)
	if want == "" {
		return nil, errors.New("detector: empty process name")
	}
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var out []*gopsproc.Process
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			// exited while enumerating or not visible to us
			continue
		}
		if normalizeName(name) == want {
			out = append(out, p)
		}
	}
	return out, nil
}

// PIDs returns the process ids of every match.
func (d NameDetector) PIDs(ctx context.Context) ([]int, error) {
	procs, err := d.Find(ctx)
	if err != nil {
		return nil, err
	}
	pids := make([]int, 0, len(procs))
	for _, p := range procs {
		pids = append(pids, int(p.Pid))
	}
	return pids, nil
}

// KillAll forcibly terminates every match and returns how many were
// signalled. Processes that vanish mid-way are not errors.
func (d NameDetector) KillAll(ctx context.Context) (int, error) {
	procs, err := d.Find(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, p := range procs {
		if err := p.KillWithContext(ctx); err != nil {
			if running, rerr := p.IsRunningWithContext(ctx); rerr == nil && !running {
				continue
			}
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (d NameDetector) Describe() string { return "name:" + d.Name }
