package handlers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"framepipe/internal/broadcast"
	"framepipe/internal/ingest"
	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/ports"
	"framepipe/internal/worker"
)

// Ingester stores uploaded frames.
type Ingester interface {
	Receive(ctx context.Context, up ingest.Upload) (ingest.Ack, error)
}

// RenderStarter starts render runs.
type RenderStarter interface {
	RenderScenes(ctx context.Context, reqs []models.RenderRequest) error
}

// RunLister reads the completed run ledger.
type RunLister interface {
	ListRuns(ctx context.Context, scene, format string, limit int) ([]models.Run, error)
}

// Subscriber hands out status subscriptions.
type Subscriber interface {
	Subscribe() *broadcast.Subscription
}

type Deps struct {
	Ingest   Ingester
	Renders  RenderStarter
	Snapshot func() models.StatusSnapshot
	Status   Subscriber
	// Runs is nil when no database is configured.
	Runs      RunLister
	PoolStats func() worker.Stats
	Frames    ports.FrameStore
	// Pool and RDB are optional; they only feed the deep health check.
	Pool *pgxpool.Pool
	RDB  *redis.Client
	Log  *logger.Logger
}

type Handler struct {
	ingest    Ingester
	renders   RenderStarter
	snapshot  func() models.StatusSnapshot
	status    Subscriber
	runs      RunLister
	poolStats func() worker.Stats
	frames    ports.FrameStore
	pool      *pgxpool.Pool
	rdb       *redis.Client
	log       *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		ingest:    d.Ingest,
		renders:   d.Renders,
		snapshot:  d.Snapshot,
		status:    d.Status,
		runs:      d.Runs,
		poolStats: d.PoolStats,
		frames:    d.Frames,
		pool:      d.Pool,
		rdb:       d.RDB,
		log:       log.WithComponent("http"),
	}
}

// Log is the logger handlers report errors through.
func (h *Handler) Log() *logger.Logger { return h.log }
