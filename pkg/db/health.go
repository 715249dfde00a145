package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pinger is anything that can verify database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Latency       time.Duration `json:"latency_ns"`
	TotalConns    int32         `json:"total_conns,omitempty"`
	IdleConns     int32         `json:"idle_conns,omitempty"`
	AcquiredConns int32         `json:"acquired_conns,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Check pings the database and, for a real pool, reports connection stats.
func Check(ctx context.Context, p Pinger) *HealthStatus {
	status := &HealthStatus{}
	if p == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := p.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}
	status.Healthy = true

	if pool, ok := p.(*pgxpool.Pool); ok {
		stats := pool.Stat()
		status.TotalConns = stats.TotalConns()
		status.IdleConns = stats.IdleConns()
		status.AcquiredConns = stats.AcquiredConns()
	}
	return status
}
