package history

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventExit    EventType = "exit"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
	EventBackup  EventType = "backup"
	EventTunnel  EventType = "tunnel"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Server     string    `json:"server"`
	PID        int       `json:"pid,omitempty"`
	// Detail carries the event payload: an exit error, archive name or
	// tunnel address.
	Detail string `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	Recent(ctx context.Context, server string, limit int) ([]Event, error)
}

// DefaultSendTimeout bounds each sink call made by a Recorder.
const DefaultSendTimeout = 5 * time.Second

// Recorder fans events out to every sink. Sink failures are logged and
// never returned. A nil *Recorder discards events.
type Recorder struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, timeout: DefaultSendTimeout}
}

// Record stamps e when OccurredAt is zero and delivers it.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range r.sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		if err := s.Send(sctx, e); err != nil {
			r.log.Warn("history sink send failed", "type", e.Type, "server", e.Server, "error", err)
		}
		cancel()
	}
}

// Recent queries the first sink that implements Reader.
func (r *Recorder) Recent(ctx context.Context, server string, limit int) ([]Event, error) {
	if r != nil {
		for _, s := range r.sinks {
			if rd, ok := s.(Reader); ok {
				return rd.Recent(ctx, server, limit)
			}
		}
	}
	return nil, ErrNoReader
}

// ErrNoReader is returned by Recent when no sink can be queried.
var ErrNoReader = errors.New("no queryable history sink configured")

// Close closes every sink that supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
