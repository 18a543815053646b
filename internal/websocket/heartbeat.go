package websocket

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// HeartbeatMonitor pings every connection on a fixed interval and evicts the
// ones that have not been heard from within the timeout.
type HeartbeatMonitor struct {
	registry *Registry
	evict    func(*Connection, string) bool
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

func newHeartbeatMonitor(r *Registry, evict func(*Connection, string) bool, clk clock.Clock, interval, timeout time.Duration, logger *zap.Logger) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		registry: r,
		evict:    evict,
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "heartbeat")),
	}
}

func (m *HeartbeatMonitor) Run(ctx context.Context) {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("heartbeat sweep evicted connections", zap.Int("evicted", n))
			}
		}
	}
}

// Sweep runs one liveness pass and returns how many connections it evicted.
func (m *HeartbeatMonitor) Sweep() int {
	now := m.clock.Now()
	evicted := 0
	for _, c := range m.registry.Snapshot() {
		if idle := now.Sub(c.LastSeen()); idle > m.timeout {
			m.logger.Debug("connection timed out",
				zap.String("conn_id", c.id), zap.String("user_id", c.userID), zap.Duration("idle", idle))
			if m.evict(c, reasonTimeout) {
				evicted++
			}
			continue
		}
		if err := c.ping(); err != nil {
			if m.evict(c, reasonSendFailure) {
				evicted++
			}
		}
	}
	return evicted
}
