package supervisor

import (
	"context"

	"github.com/loykin/mcmanager/internal/metrics"
)

// Stats samples CPU, memory and uptime for a live process.
func (s *Supervisor) Stats(ctx context.Context, name string) (metrics.ProcessSample, error) {
	st, ok := s.Status(name)
	if !ok {
		return metrics.ProcessSample{}, ErrNotRunning
	}
	sample, err := metrics.Sample(ctx, name, int32(st.PID))
	if err != nil {
		return metrics.ProcessSample{}, &IOError{Op: "sample process", Cause: err}
	}
	return sample, nil
}
