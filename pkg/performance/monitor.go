// Package performance monitors the resource usage of a running extraction:
// process CPU, resident memory, goroutine count and open file descriptors,
// sampled on an interval and published as gauges.
package performance

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/hubble/pkg/errors"
	"github.com/ajitpratap0/hubble/pkg/metrics"
)

const defaultSampleInterval = 15 * time.Second

// Snapshot is one sample of process and system resource usage.
type Snapshot struct {
	CPUPercent            float64
	MemoryRSS             uint64
	SystemMemoryPercent   float64
	SystemMemoryAvailable uint64
	GoroutineCount        int
	ThreadCount           int32
	OpenFDs               int32
	SampledAt             time.Time
}

// Monitor samples resource usage for the current process.
type Monitor struct {
	proc      *process.Process
	interval  time.Duration
	logger    *zap.Logger
	collector *metrics.Collector

	mu   sync.RWMutex
	last Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor for the current process. A zero interval
// uses the default.
func NewMonitor(interval time.Duration, logger *zap.Logger) (*Monitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open process handle")
	}
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Monitor{
		proc:      proc,
		interval:  interval,
		logger:    logger,
		collector: metrics.NewCollector("runtime"),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Start begins periodic sampling until Stop is called or the context is
// cancelled. An initial sample is taken immediately.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)

		m.sample()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the sampler to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

// Last returns the most recent snapshot.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) sample() {
	snap := Snapshot{
		GoroutineCount: runtime.NumGoroutine(),
		SampledAt:      time.Now(),
	}

	if cpuPercent, err := m.proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpuPercent
	}
	if memInfo, err := m.proc.MemoryInfo(); err == nil {
		snap.MemoryRSS = memInfo.RSS
	}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		snap.SystemMemoryPercent = vmStat.UsedPercent
		snap.SystemMemoryAvailable = vmStat.Available
	}
	snap.ThreadCount, _ = m.proc.NumThreads()
	snap.OpenFDs, _ = m.proc.NumFDs()

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()

	m.collector.RecordGauge("cpu_percent", snap.CPUPercent)
	m.collector.RecordGauge("memory_rss_bytes", float64(snap.MemoryRSS))
	m.collector.RecordGauge("goroutines", float64(snap.GoroutineCount))
	m.collector.RecordGauge("open_fds", float64(snap.OpenFDs))

	m.logger.Debug("resource sample",
		zap.Float64("cpu_percent", snap.CPUPercent),
		zap.Uint64("memory_rss", snap.MemoryRSS),
		zap.Int("goroutines", snap.GoroutineCount),
		zap.Int32("open_fds", snap.OpenFDs))
}
