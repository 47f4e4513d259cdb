package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serverStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "starts_total",
			Help:      "Number of successful server process starts.",
		}, []string{"name"},
	)
	serverStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "stops_total",
			Help:      "Number of completed stops by outcome (graceful or forced).",
		}, []string{"name", "mode"},
	)
	serverCrashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "crashes_total",
			Help:      "Number of unexpected exits flagged as crashes.",
		}, []string{"name"},
	)
	serverRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after a crash.",
		}, []string{"name"},
	)
	serverCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "commands_total",
			Help:      "Number of console commands written to server stdin.",
		}, []string{"name"},
	)
	serverRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mcmanager",
			Subsystem: "server",
			Name:      "running",
			Help:      "1 while the server process is live, 0 otherwise.",
		}, []string{"name"},
	)
	backupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "backup",
			Name:      "archives_total",
			Help:      "Number of archive attempts by trigger and result.",
		}, []string{"trigger", "result"},
	)
	backupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mcmanager",
			Subsystem: "backup",
			Name:      "duration_seconds",
			Help:      "Time spent writing one archive.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	backupsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "backup",
			Name:      "pruned_total",
			Help:      "Number of archives deleted by retention.",
		},
	)
	tunnelDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mcmanager",
			Subsystem: "tunnel",
			Name:      "detections_total",
			Help:      "Number of tunnel addresses found, by source tier.",
		}, []string{"source"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serverStarts, serverStops, serverCrashes, serverRestarts, serverCommands, serverRunning,
		backupsTotal, backupDuration, backupsPruned, tunnelDetections,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		serverStarts.WithLabelValues(name).Inc()
		serverRunning.WithLabelValues(name).Set(1)
	}
}

// IncStop records a completed stop. forced is true when the grace period
// ran out and the process was killed.
func IncStop(name string, forced bool) {
	if regOK.Load() {
		mode := "graceful"
		if forced {
			mode = "forced"
		}
		serverStops.WithLabelValues(name, mode).Inc()
		serverRunning.WithLabelValues(name).Set(0)
	}
}

// SetExited marks a server as no longer running without counting a stop.
func SetExited(name string) {
	if regOK.Load() {
		serverRunning.WithLabelValues(name).Set(0)
	}
}

func IncCrash(name string) {
	if regOK.Load() {
		serverCrashes.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		serverRestarts.WithLabelValues(name).Inc()
	}
}

func IncCommand(name string) {
	if regOK.Load() {
		serverCommands.WithLabelValues(name).Inc()
	}
}

// ObserveBackup records one archive attempt.
func ObserveBackup(trigger string, seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	backupsTotal.WithLabelValues(trigger, result).Inc()
	if err == nil {
		backupDuration.Observe(seconds)
	}
}

func AddPruned(n int) {
	if regOK.Load() && n > 0 {
		backupsPruned.Add(float64(n))
	}
}

func IncTunnelDetection(source string) {
	if regOK.Load() {
		tunnelDetections.WithLabelValues(source).Inc()
	}
}
