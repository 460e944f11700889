package transport

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"

	"github.com/adred-codev/pubsub-broker/internal/metrics"
)

// resourceMonitor periodically samples host-wide CPU utilization (all CPUs
// combined, not just this process) and exports it as a smoothed gauge.
//
// This is read-only observability: it does not gate accept or delivery.
// There is no CPU-based admission control here, only per-session write
// queueing — see DESIGN.md.
type resourceMonitor struct {
	logger     *zap.Logger
	metrics    *metrics.Registry
	interval   time.Duration
	cpuPercent float64
}

func newResourceMonitor(logger *zap.Logger, reg *metrics.Registry, interval time.Duration) *resourceMonitor {
	return &resourceMonitor{logger: logger, metrics: reg, interval: interval}
}

func (m *resourceMonitor) run(ctx context.Context) {
	if m.interval <= 0 {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *resourceMonitor) sample() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		m.logger.Debug("cpu sample failed", zap.Error(err))
		return
	}

	current := percents[0]
	const alpha = 0.3
	if m.cpuPercent == 0 {
		m.cpuPercent = current
	} else {
		m.cpuPercent = alpha*current + (1-alpha)*m.cpuPercent
	}

	if m.metrics != nil {
		m.metrics.CPUPercent.Set(m.cpuPercent)
	}
}
