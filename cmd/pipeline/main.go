package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"framepipe/internal/broadcast"
	"framepipe/internal/config"
	"framepipe/internal/encode"
	"framepipe/internal/events"
	"framepipe/internal/httpapi"
	"framepipe/internal/httpapi/handlers"
	"framepipe/internal/httpkit"
	"framepipe/internal/ingest"
	"framepipe/internal/mirror"
	"framepipe/internal/pipeline"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/pkg/shutdown"
	"framepipe/internal/registry"
	"framepipe/internal/repositories"
	"framepipe/internal/storage"
	"framepipe/internal/worker"
	"framepipe/internal/worker/renderer"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		logger.NewDefault().LogFatal("failed to load .env", err)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "framepipe",
		AddSource:   cfg.Log.Source,
	})
	log.Info("starting framepipe",
		"env", cfg.Server.Env,
		"scenes", len(cfg.Pipeline.Scenes),
		"formats", cfg.Pipeline.Formats,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, cfg.Server.ShutdownTimeout)

	// Status registry and broadcaster
	reg := registry.New(log)
	hub := broadcast.New(reg.Snapshot, log)
	reg.Observe(hub.Notify)
	hubCtx, stopHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)
	if err := hub.StartHeartbeat(cfg.Status.Heartbeat); err != nil {
		log.LogFatal("invalid status heartbeat", err, "spec", cfg.Status.Heartbeat)
	}

	// Optional Redis mirror
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis")
		rdb, err = mirror.NewClient(cfg.Redis.Addr)
		if err != nil {
			log.LogFatal("invalid REDIS_ADDR", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		hub.AddSink(mirror.NewRedisMirror(rdb, cfg.Redis.StatusKey, cfg.Redis.Channel))
		log.Info("Redis status mirror enabled", "key", cfg.Redis.StatusKey, "channel", cfg.Redis.Channel)
	}

	// Optional run ledger
	var (
		pool *pgxpool.Pool
		runs *repositories.RunRepository
	)
	if cfg.Database.URL != "" {
		log.Info("connecting to PostgreSQL")
		pool, err = repositories.Connect(ctx, cfg.Database)
		if err != nil {
			log.LogFatal("failed to connect to PostgreSQL", err)
		}
		if err := repositories.RunMigrations(cfg.Database.URL); err != nil {
			log.LogFatal("failed to apply migrations", err)
		}
		runs = repositories.NewRunRepository(pool)
		log.Info("run ledger enabled")
	}

	// Storage
	frames := storage.NewFrameStore(cfg.Pipeline.OutputRoot)
	delivery, err := storage.NewDeliveryProvider(ctx, cfg.Delivery)
	if err != nil {
		log.LogFatal("failed to initialize delivery provider", err)
	}
	log.Info("storage initialized", "frames", frames.Provider(), "output_root", cfg.Pipeline.OutputRoot)

	// Render workers
	chrome := renderer.NewChrome(renderer.Options{
		BaseURL:      cfg.Render.BaseURL,
		DoneSelector: cfg.Render.DoneSelector,
		Headless:     cfg.Render.Headless,
		WindowWidth:  cfg.Render.WindowWidth,
		WindowHeight: cfg.Render.WindowHeight,
		BrowserPath:  cfg.Render.BrowserPath,
	}, log)
	workers, err := worker.NewPool(worker.Deps{
		Renderer:      chrome,
		Log:           log,
		Concurrency:   cfg.Render.Concurrency,
		CreationDelay: cfg.Render.WorkerDelay,
	})
	if err != nil {
		log.LogFatal("failed to create worker pool", err)
	}
	workers.Start(ctx)

	// Encode pipeline
	encoder, err := encode.New(encode.Deps{
		Jobs:     reg,
		Frames:   frames,
		Runner:   encode.ExecRunner{Path: cfg.Encode.EncoderPath, Log: log},
		Names:    encode.NewNames(cfg.Pipeline.OutputNames, log),
		InputFPS: cfg.Encode.InputFPS,
		Log:      log,
	})
	if err != nil {
		log.LogFatal("failed to create encode pipeline", err)
	}
	if delivery != nil {
		encoder.AddHook(pipeline.NewDelivery(delivery, log).Hook())
		log.Info("delivery enabled", "provider", delivery.Provider())
	}
	if runs != nil {
		encoder.AddHook(pipeline.LedgerHook(runs, uuid.NewString, log))
	}

	// Frame ingest and coordinator
	frameIngest := ingest.New(ingest.Deps{
		Frames:     frames,
		Tracker:    reg,
		OnComplete: encoder.Run,
		Log:        log,
	})
	coord, err := pipeline.NewCoordinator(pipeline.Deps{
		Jobs:         reg,
		Pool:         workers,
		Cleanup:      pipeline.NewCleanup(frames, log),
		Frames:       frameIngest,
		JobsPerScene: cfg.Pipeline.JobsPerScene,
		Log:          log,
	})
	if err != nil {
		log.LogFatal("failed to create coordinator", err)
	}
	if err := coord.Seed(cfg.Pipeline.Pairs()); err != nil {
		log.LogFatal("failed to seed render jobs", err)
	}

	// Transport
	corsOrigins := httpkit.SplitList(cfg.Server.CORSOrigins)
	eventServer := events.NewServer(events.Deps{
		Dispatcher:     coord,
		Hub:            hub,
		Snapshot:       reg.Snapshot,
		OriginPatterns: corsOrigins,
		Log:            log,
	})
	h := handlers.New(handlers.Deps{
		Ingest:    frameIngest,
		Renders:   coord,
		Snapshot:  reg.Snapshot,
		Status:    hub,
		Runs:      runLister(runs),
		PoolStats: workers.Stats,
		Frames:    frames,
		Pool:      pool,
		RDB:       rdb,
		Log:       log,
	})
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       h,
		Events:         eventServer,
		CORSOrigins:    corsOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		Log:            log,
	})

	port := strconv.Itoa(cfg.Server.Port)
	server := &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Handlers run concurrently, so order-dependent teardown lives in one.
	shutdownMgr.Register("pipeline", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		errs := []error{server.Shutdown(ctx)}
		errs = append(errs, eventServer.Shutdown(ctx))
		errs = append(errs, workers.Shutdown(ctx))
		if err := frameIngest.Wait(ctx); err != nil {
			log.Warn("encodes still running at shutdown", "error", err.Error())
		}
		errs = append(errs, hub.Shutdown(ctx))
		stopHub()
		if rdb != nil {
			errs = append(errs, rdb.Close())
		}
		if pool != nil {
			pool.Close()
		}
		return errors.Join(errs...)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr, "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
	if shutdownMgr.Failed() > 0 {
		os.Exit(1)
	}
}

// runLister keeps a nil repository a nil interface.
func runLister(r *repositories.RunRepository) handlers.RunLister {
	if r == nil {
		return nil
	}
	return r
}
