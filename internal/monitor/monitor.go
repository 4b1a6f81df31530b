package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/config"
	"mt5-trade-bot-go/internal/health"
)

// Alerter delivers operator alerts. Implementations may drop alerts when no
// delivery channel is configured.
type Alerter interface {
	Alert(ctx context.Context, text string)
}

// Monitor periodically logs host resource usage and raises an alert when
// usage crosses the configured limits. It shares the health gate's limits so
// the operator warning fires for the same conditions that park strategies.
type Monitor struct {
	sampler health.Sampler
	alerter Alerter
	logger  *zap.Logger

	interval     time.Duration
	errorBackoff time.Duration
	cpuLimit     float64
	memoryLimit  float64
}

// NewMonitor creates a resource monitor. alerter may be nil, in which case
// threshold breaches are only logged.
func NewMonitor(cfg *config.Monitor, limits *config.Health, sampler health.Sampler, alerter Alerter, logger *zap.Logger) *Monitor {
	return &Monitor{
		sampler:      sampler,
		alerter:      alerter,
		logger:       logger.Named("monitor"),
		interval:     cfg.Interval,
		errorBackoff: cfg.ErrorBackoff,
		cpuLimit:     limits.CPULimit,
		memoryLimit:  limits.MemoryLimit,
	}
}

// Run samples in a loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("System monitor started", zap.Duration("interval", m.interval))
	for {
		wait := m.tick(ctx)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			m.logger.Info("System monitor stopped")
			return
		}
	}
}

// tick takes one sample and returns how long to wait before the next one.
func (m *Monitor) tick(ctx context.Context) time.Duration {
	res, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Error("System monitor error", zap.Error(err))
		return m.errorBackoff
	}

	m.logger.Info("System status",
		zap.Float64("cpu_percent", res.CPUPercent),
		zap.Float64("memory_percent", res.MemoryPercent),
		zap.Float64("disk_percent", res.DiskPercent))

	if res.CPUPercent > m.cpuLimit || res.MemoryPercent > m.memoryLimit {
		m.logger.Warn("High resource usage",
			zap.Float64("cpu_percent", res.CPUPercent),
			zap.Float64("memory_percent", res.MemoryPercent))
		if m.alerter != nil {
			m.alerter.Alert(ctx, fmt.Sprintf(
				"⚠️ <b>High Resource Usage</b>\nCPU: %.1f%%\nMemory: %.1f%%\nPlease check server load.",
				res.CPUPercent, res.MemoryPercent))
		}
	}
	return m.interval
}
