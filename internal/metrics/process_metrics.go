package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSample is a point-in-time resource reading for one process.
type ProcessSample struct {
	PID           int32     `json:"pid"`
	Name          string    `json:"name"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss"`
	MemoryMB      float64   `json:"memory_mb"`
	TotalMemory   uint64    `json:"total_memory"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	NumThreads    int32     `json:"num_threads"`
	Timestamp     time.Time `json:"timestamp"`
}

// Sample reads CPU, memory and uptime for pid. CPU percent is averaged over
// the process lifetime, so no prior reading is needed.
func Sample(ctx context.Context, name string, pid int32) (ProcessSample, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	now := time.Now()
	s := ProcessSample{PID: pid, Name: name, Timestamp: now}

	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		s.CPUPercent = cpu
	} else {
		slog.Debug("Failed to get CPU percent", "name", name, "pid", pid, "error", err)
	}
	memInfo, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	s.MemoryRSS = memInfo.RSS
	s.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
	if n, err := proc.NumThreadsWithContext(ctx); err == nil {
		s.NumThreads = n
	}
	if ms, err := proc.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		s.UptimeSeconds = int64(now.Sub(time.UnixMilli(ms)).Seconds())
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.TotalMemory = vm.Total
	}
	return s, nil
}

// ProcessCollector periodically samples managed processes into gauges.
type ProcessCollector struct {
	interval time.Duration
	log      *slog.Logger

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec

	mu     sync.Mutex
	latest map[string]ProcessSample

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewProcessCollector(interval time.Duration, log *slog.Logger) *ProcessCollector {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ProcessCollector{
		interval: interval,
		log:      log,
		latest:   make(map[string]ProcessSample),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mcmanager",
				Subsystem: "server",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage for managed server processes.",
			}, []string{"name"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "mcmanager",
				Subsystem: "server",
				Name:      "memory_mb",
				Help:      "Resident memory in MB for managed server processes.",
			}, []string{"name"},
		),
	}
}

// Register registers the gauges, ignoring already-registered errors.
func (c *ProcessCollector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryMB} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples getPIDs() every interval until ctx ends or Stop is called.
func (c *ProcessCollector) Start(ctx context.Context, getPIDs func() map[string]int32) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(ctx, getPIDs())
			}
		}
	}()
}

func (c *ProcessCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect samples every pid once and drops gauges for names not present.
func (c *ProcessCollector) Collect(ctx context.Context, pids map[string]int32) {
	fresh := make(map[string]ProcessSample, len(pids))
	for name, pid := range pids {
		if pid <= 0 {
			continue
		}
		s, err := Sample(ctx, name, pid)
		if err != nil {
			c.log.Debug("Failed to collect metrics for process", "name", name, "pid", pid, "error", err)
			continue
		}
		fresh[name] = s
		c.cpuPercent.WithLabelValues(name).Set(s.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(s.MemoryMB)
	}
	c.mu.Lock()
	for name := range c.latest {
		if _, ok := fresh[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
		}
	}
	c.latest = fresh
	c.mu.Unlock()
}

// Latest returns the last sample for name.
func (c *ProcessCollector) Latest(name string) (ProcessSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.latest[name]
	return s, ok
}
