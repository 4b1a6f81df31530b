package health

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mt5-trade-bot-go/internal/config"
)

// Reason classifies why the gate refused an execution slot.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonConnection Reason = "connection_unavailable"
	ReasonResources  Reason = "resource_exhausted"
	ReasonNetwork    Reason = "network_degraded"
)

// Connection is the slice of the connection manager the gate needs.
type Connection interface {
	EnsureConnection(ctx context.Context) bool
	IsConnected() bool
}

// Snapshot is a full picture of system health for the status surfaces.
type Snapshot struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	LatencyMS     float64
	Connected     bool
}

// Gate decides whether conditions allow strategy decision logic to run. Every
// Check measures fresh: nothing is cached between calls, and the CPU sample
// alone blocks for its sampling window. The gate is advisory; it never forces
// reconnects beyond the EnsureConnection consultation and callers decide what
// a refusal means.
type Gate struct {
	conn    Connection
	sampler Sampler
	prober  Prober
	logger  *zap.Logger

	cpuLimit       float64
	memLimit       float64
	latencyLimitMS float64
}

// NewGate creates a health gate with the configured thresholds.
func NewGate(conn Connection, sampler Sampler, prober Prober, cfg *config.Health, logger *zap.Logger) *Gate {
	g := &Gate{
		conn:           conn,
		sampler:        sampler,
		prober:         prober,
		logger:         logger.Named("health"),
		cpuLimit:       cfg.CPULimit,
		memLimit:       cfg.MemoryLimit,
		latencyLimitMS: float64(cfg.LatencyLimit) / float64(time.Millisecond),
	}
	if g.cpuLimit <= 0 {
		g.cpuLimit = 90
	}
	if g.memLimit <= 0 {
		g.memLimit = 90
	}
	if g.latencyLimitMS <= 0 {
		g.latencyLimitMS = 100
	}
	return g
}

// Check verifies connection, system resources and network latency in that
// order, stopping at the first failure.
func (g *Gate) Check(ctx context.Context) (bool, Reason) {
	if !g.conn.EnsureConnection(ctx) {
		g.logger.Warn("Health check failed: terminal connection unavailable")
		return false, ReasonConnection
	}

	res, err := g.sampler.Sample(ctx)
	if err != nil {
		// Resources that cannot be verified count as exhausted.
		g.logger.Warn("Health check failed: resource sampling error", zap.Error(err))
		return false, ReasonResources
	}
	if res.CPUPercent > g.cpuLimit || res.MemoryPercent > g.memLimit {
		g.logger.Warn("Health check failed: system resources critical",
			zap.Float64("cpu_percent", res.CPUPercent),
			zap.Float64("memory_percent", res.MemoryPercent),
		)
		return false, ReasonResources
	}

	latency := g.prober.Latency(ctx)
	if latency > g.latencyLimitMS {
		g.logger.Warn("Health check failed: network latency too high",
			zap.Float64("latency_ms", latency),
			zap.Float64("limit_ms", g.latencyLimitMS),
		)
		return false, ReasonNetwork
	}

	return true, ReasonNone
}

// CurrentSnapshot measures everything once for status reporting. Unlike
// Check, it only reads the connection state and never triggers a connect.
func (g *Gate) CurrentSnapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Connected: g.conn.IsConnected()}

	res, err := g.sampler.Sample(ctx)
	if err != nil {
		g.logger.Warn("Resource sampling failed", zap.Error(err))
	} else {
		snap.CPUPercent = res.CPUPercent
		snap.MemoryPercent = res.MemoryPercent
		snap.DiskPercent = res.DiskPercent
	}

	snap.LatencyMS = g.prober.Latency(ctx)
	return snap
}
