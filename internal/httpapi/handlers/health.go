package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"framepipe/internal/httpkit"
	"framepipe/internal/ports"
)

const healthCheckTimeout = 5 * time.Second

// Health reports liveness. With ?deep=true it also checks postgres, redis
// and the frame store, and reports worker pool counters.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]any{
		"status":  "ok",
		"service": "framepipe",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks
		for name, check := range checks {
			if check["status"] == "error" {
				health["status"] = "degraded"
				h.log.FromContext(ctx).Warn("health check degraded", "check", name, "error", check["error"])
				break
			}
		}
		if h.poolStats != nil {
			health["workers"] = h.poolStats()
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	return map[string]map[string]any{
		"postgres": h.checkPostgres(ctx),
		"redis":    h.checkRedis(ctx),
		"storage":  h.checkStorage(ctx),
	}
}

func (h *Handler) checkPostgres(ctx context.Context) map[string]any {
	if h.pool == nil {
		return map[string]any{"status": "disabled"}
	}
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.pool.Ping(checkCtx); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	} else {
		stats := h.pool.Stat()
		result["total_conns"] = stats.TotalConns()
		result["idle_conns"] = stats.IdleConns()
		result["acquired_conns"] = stats.AcquiredConns()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

func (h *Handler) checkRedis(ctx context.Context) map[string]any {
	if h.rdb == nil {
		return map[string]any{"status": "disabled"}
	}
	start := time.Now()
	result := map[string]any{"status": "ok"}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := h.rdb.Ping(checkCtx).Err(); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}

// checkStorage writes and removes a probe object in the frame store.
func (h *Handler) checkStorage(ctx context.Context) map[string]any {
	if h.frames == nil {
		return map[string]any{"status": "disabled"}
	}
	start := time.Now()
	result := map[string]any{
		"status":   "ok",
		"provider": h.frames.Provider(),
	}

	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	const probe = ".health/probe"
	_, err := h.frames.PutObject(checkCtx, ports.PutObjectInput{
		ObjectKey:   probe,
		ContentType: "text/plain",
		Reader:      strings.NewReader("ok"),
		Size:        2,
	})
	if err == nil {
		err = h.frames.DeleteObject(checkCtx, probe)
	}
	if err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}

	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
