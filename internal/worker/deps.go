package worker

import (
	"time"

	"framepipe/internal/pkg/logger"
	"framepipe/internal/worker/renderer"
)

// Deps configures a Pool.
type Deps struct {
	Renderer renderer.Renderer
	Log      *logger.Logger
	// Concurrency caps simultaneously running workers across all jobs.
	Concurrency int
	// CreationDelay spaces out worker launches.
	CreationDelay time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Queued    int   `json:"queued"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
