package health

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"mt5-trade-bot-go/internal/config"
)

// Resources is one system usage sample, all values in percent.
type Resources struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
}

// Sampler provides fresh system resource samples.
type Sampler interface {
	Sample(ctx context.Context) (Resources, error)
}

// Prober measures the network round trip to a reference host in milliseconds.
type Prober interface {
	Latency(ctx context.Context) float64
}

// SystemSampler reads CPU, memory and disk usage from the host. CPU usage is
// measured over a sampling window, so Sample blocks for that long.
type SystemSampler struct {
	cpuInterval time.Duration
	diskPath    string
}

// NewSystemSampler creates a sampler from the health configuration.
func NewSystemSampler(cfg *config.Health) *SystemSampler {
	s := &SystemSampler{
		cpuInterval: cfg.CPUSampleInterval,
		diskPath:    cfg.DiskPath,
	}
	if s.cpuInterval <= 0 {
		s.cpuInterval = time.Second
	}
	if s.diskPath == "" {
		s.diskPath = "/"
	}
	return s
}

var _ Sampler = (*SystemSampler)(nil)

// Sample takes one blocking usage measurement.
func (s *SystemSampler) Sample(ctx context.Context) (Resources, error) {
	cpuPercents, err := cpu.PercentWithContext(ctx, s.cpuInterval, false)
	if err != nil {
		return Resources{}, fmt.Errorf("cpu sample: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("memory sample: %w", err)
	}

	du, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return Resources{}, fmt.Errorf("disk sample: %w", err)
	}

	res := Resources{
		MemoryPercent: vm.UsedPercent,
		DiskPercent:   du.UsedPercent,
	}
	if len(cpuPercents) > 0 {
		res.CPUPercent = cpuPercents[0]
	}
	return res, nil
}

// TCPProber measures latency as the time to open a TCP connection to a
// well-known host.
type TCPProber struct {
	host    string
	timeout time.Duration
}

// NewTCPProber creates a prober for the given "host:port" address.
func NewTCPProber(host string, timeout time.Duration) *TCPProber {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &TCPProber{host: host, timeout: timeout}
}

var _ Prober = (*TCPProber)(nil)

// Latency returns the dial round trip in milliseconds. Hosts that cannot be
// reached within the timeout count as infinitely slow.
func (p *TCPProber) Latency(ctx context.Context) float64 {
	d := net.Dialer{Timeout: p.timeout}

	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", p.host)
	if err != nil {
		return math.Inf(1)
	}
	elapsed := time.Since(start)
	_ = conn.Close()

	return float64(elapsed) / float64(time.Millisecond)
}
