// Package detector locates and terminates processes that were not
// necessarily started by this daemon.
package detector

import "context"

// Scanner looks processes up host-wide. Implementations must be safe for
// concurrent use.
type Scanner interface {
	// PIDs lists the matching processes; an empty result means none run.
	PIDs(ctx context.Context) ([]int, error)
	// KillAll terminates every match and reports how many were signalled.
	KillAll(ctx context.Context) (int, error)
	Describe() string
}

var _ Scanner = NameDetector{}

// Running reports whether s finds at least one process.
func Running(ctx context.Context, s Scanner) (bool, error) {
	pids, err := s.PIDs(ctx)
	if err != nil {
		return false, err
	}
	return len(pids) > 0, nil
}
