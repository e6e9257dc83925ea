package database

import (
	"context"
	"time"
)

// PoolStats is a snapshot of the sql connection pool, exposed on the
// health endpoint so operators can spot pool exhaustion before workers
// start timing out on claims.
type PoolStats struct {
	Open         int   `json:"open"`
	InUse        int   `json:"in_use"`
	Idle         int   `json:"idle"`
	MaxOpen      int   `json:"max_open"`
	WaitCount    int64 `json:"wait_count"`
	WaitMillis   int64 `json:"wait_ms"`
	ClosedByIdle int64 `json:"closed_idle"`
}

// HealthStatus reports connectivity plus pool statistics.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latency_ms"`
	Pool      PoolStats `json:"pool"`
}

// Health pings the database and snapshots the pool. The status is
// populated even on error so callers can report partial detail.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	err := c.PingContext(ctx)

	stats := c.Stats()
	hs := &HealthStatus{
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
		Pool: PoolStats{
			Open:         stats.OpenConnections,
			InUse:        stats.InUse,
			Idle:         stats.Idle,
			MaxOpen:      stats.MaxOpenConnections,
			WaitCount:    stats.WaitCount,
			WaitMillis:   stats.WaitDuration.Milliseconds(),
			ClosedByIdle: stats.MaxIdleClosed,
		},
	}
	return hs, err
}
