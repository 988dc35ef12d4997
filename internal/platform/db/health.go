package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthPingTimeout = 5 * time.Second

// PoolStats is the pool snapshot reported by the readiness endpoint.
type PoolStats struct {
	ConnsTotal       int32  `json:"conns_total"`
	ConnsIdle        int32  `json:"conns_idle"`
	ConnsInUse       int32  `json:"conns_in_use"`
	ConnsMax         int32  `json:"conns_max"`
	AcquireCount     int64  `json:"acquire_count"`
	AcquireWaitTotal string `json:"acquire_wait_total"`
}

// Saturated reports whether every pool slot is checked out. A saturated
// pool means triage requests are queueing on the database.
func (s PoolStats) Saturated() bool {
	return s.ConnsMax > 0 && s.ConnsInUse >= s.ConnsMax
}

// SnapshotPool captures current pool statistics.
func SnapshotPool(pool *pgxpool.Pool) PoolStats {
	stat := pool.Stat()
	return PoolStats{
		ConnsTotal:       stat.TotalConns(),
		ConnsIdle:        stat.IdleConns(),
		ConnsInUse:       stat.AcquiredConns(),
		ConnsMax:         stat.MaxConns(),
		AcquireCount:     stat.AcquireCount(),
		AcquireWaitTotal: stat.AcquireDuration().String(),
	}
}

// HealthHandler serves the database readiness probe. The response
// carries a pool snapshot so saturation shows up before timeouts do.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()

		stats := SnapshotPool(pool)
		if err := pool.Ping(ctx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{
				"status": "unreachable",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		status := "ok"
		if stats.Saturated() {
			status = "saturated"
		}
		return c.JSON(http.StatusOK, echo.Map{
			"status": status,
			"pool":   stats,
		})
	}
}
