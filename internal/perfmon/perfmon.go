// Package perfmon periodically reports process and acquisition health:
// CPU and memory usage, observed sampling rate and jitter, and event
// counters. It only reads shared state and never affects detection.
package perfmon

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/twinspect/twinspect/internal/state"
)

// Prometheus Metrics Definition
var (
	cpuPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_process_cpu_percent",
			Help: "Process CPU usage percentage.",
		},
	)
	memoryRSS = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_process_memory_rss_bytes",
			Help: "Process resident memory in bytes.",
		},
	)
	measuredRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_sampling_rate_hz",
			Help: "Observed sampling rate derived from inter-sample periods.",
		},
	)
	samplingJitter = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "twinspect_sampling_jitter_ms",
			Help: "Standard deviation of inter-sample periods in milliseconds.",
		},
	)
)

// Monitor polls the system partition and the process itself on a fixed
// interval.
type Monitor struct {
	interval   time.Duration
	targetRate float64
	store      *state.Store
	proc       *process.Process
	logger     *zap.Logger
}

// New creates a Monitor. The process handle is resolved once; if it cannot
// be resolved, CPU/memory readings are skipped but rate/jitter reporting
// still runs.
func New(interval time.Duration, targetRate float64, store *state.Store, logger *zap.Logger) *Monitor {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("Could not resolve own process handle, resource stats disabled", zap.Error(err))
		proc = nil
	}
	return &Monitor{
		interval:   interval,
		targetRate: targetRate,
		store:      store,
		proc:       proc,
		logger:     logger,
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	sugar := m.logger.Sugar()
	sugar.Info("Starting performance monitor loop...", "interval", m.interval)
	defer sugar.Info("Performance monitor loop stopped.")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.report()

		case <-ctx.Done():
			sugar.Info("Context cancelled, stopping performance monitor.")
			return ctx.Err()
		}
	}
}

func (m *Monitor) report() {
	sys := m.store.System()
	event := m.store.Event()

	measuredRate.Set(sys.MeasuredRate)
	samplingJitter.Set(sys.JitterMillis)

	fields := []zap.Field{
		zap.Float64("measured_rate_hz", sys.MeasuredRate),
		zap.Float64("target_rate_hz", m.targetRate),
		zap.Float64("jitter_ms", sys.JitterMillis),
		zap.Int("queue_depth", sys.QueueDepth),
		zap.Int("pending_saves", sys.PendingSaves),
		zap.Uint64("samples_processed", sys.SamplesProcessed),
		zap.Uint64("samples_dropped", sys.SamplesDropped),
		zap.Uint64("event_count", event.EventCount),
		zap.Bool("recording", event.Recording),
		zap.Duration("uptime", time.Since(sys.StartTime).Round(time.Second)),
	}

	if m.proc != nil {
		if cpu, err := m.proc.CPUPercent(); err == nil {
			cpuPercent.Set(cpu)
			fields = append(fields, zap.Float64("cpu_percent", cpu))
		}
		if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
			memoryRSS.Set(float64(mem.RSS))
			fields = append(fields, zap.Uint64("memory_rss", mem.RSS))
		}
	}

	if event.Recording {
		fields = append(fields, zap.Uint64("current_event_id", event.CurrentEventID),
			zap.Duration("recording_for", time.Since(event.LastTriggerTime).Round(time.Second)))
	}

	m.logger.Info("System status", fields...)
}
