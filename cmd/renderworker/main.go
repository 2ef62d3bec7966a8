// Command renderworker drives render pages in local browsers without the
// pipeline server's pool. It is used to exercise a render page by hand: the
// frame range is split the same way the pipeline splits it and each part is
// rendered in its own browser.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"framepipe/internal/config"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/splitter"
	"framepipe/internal/worker/renderer"
)

func main() {
	_ = config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	scene := flag.String("scene", "sample", "scene to render")
	format := flag.String("format", "HD", "screen format to render")
	frames := flag.Int("frames", 60, "total frames in the scene")
	parts := flag.Int("workers", 1, "number of browsers the range is split across")
	baseURL := flag.String("base-url", cfg.Render.BaseURL, "render page URL")
	headless := flag.Bool("headless", cfg.Render.Headless, "run the browsers headless")
	flag.Parse()

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "framepipe-renderworker",
		AddSource:   cfg.Log.Source,
	})

	jobs, err := splitter.Split(*scene, *format, *frames, *parts)
	if err != nil {
		log.LogFatal("invalid render request", err)
	}

	chrome := renderer.NewChrome(renderer.Options{
		BaseURL:      *baseURL,
		DoneSelector: cfg.Render.DoneSelector,
		Headless:     *headless,
		WindowWidth:  cfg.Render.WindowWidth,
		WindowHeight: cfg.Render.WindowHeight,
		BrowserPath:  cfg.Render.BrowserPath,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Render.Concurrency)
	for i, job := range jobs {
		if i > 0 && cfg.Render.WorkerDelay > 0 {
			time.Sleep(cfg.Render.WorkerDelay)
		}
		g.Go(func() error {
			jl := log.WithRenderJob(job.Scene, job.Format)
			jl.Info("rendering", "start_frame", job.StartFrame, "end_frame", job.EndFrame)
			if err := chrome.Render(gctx, job); err != nil {
				return err
			}
			jl.Info("render finished", "start_frame", job.StartFrame, "end_frame", job.EndFrame)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.LogError(ctx, "render failed", err)
		os.Exit(1)
	}
	log.Info("all ranges rendered", "jobs", len(jobs), "duration_ms", time.Since(start).Milliseconds())
}
