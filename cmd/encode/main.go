// Command encode re-runs the encode for one (scene, format) from the frames
// already on disk. It is the operator path for jobs left in converting after
// a failed encode.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"framepipe/internal/config"
	"framepipe/internal/encode"
	"framepipe/internal/pipeline"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/storage"
)

func main() {
	_ = config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	scene := flag.String("scene", "", "scene to encode (required)")
	format := flag.String("format", "", "screen format to encode (required)")
	frames := flag.Int("frames", 0, "expected frame count; 0 skips the check")
	frameDir := flag.String("frame-dir", "", "frame directory; defaults to the pipeline's frame directory")
	deliver := flag.Bool("deliver", false, "copy the outputs to the configured delivery provider")
	flag.Parse()

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "framepipe-encode",
		AddSource:   cfg.Log.Source,
	})
	if !config.ValidName(*scene) || !config.ValidName(*format) {
		log.Error("-scene and -format are required and may only contain letters, digits, '_' and '-'")
		flag.Usage()
		os.Exit(2)
	}

	frameStore := storage.NewFrameStore(cfg.Pipeline.OutputRoot)
	encoder, err := encode.New(encode.Deps{
		Frames:   frameStore,
		Runner:   encode.ExecRunner{Path: cfg.Encode.EncoderPath, Log: log},
		Names:    encode.NewNames(cfg.Pipeline.OutputNames, log),
		InputFPS: cfg.Encode.InputFPS,
		Log:      log,
	})
	if err != nil {
		log.LogFatal("failed to create encoder", err)
	}

	dir := *frameDir
	if dir == "" {
		dir = encoder.FrameDir(*scene, *format)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log = log.WithRenderJob(*scene, *format)
	start := time.Now()
	outputs, err := encoder.Encode(ctx, *scene, *format, dir, *frames)
	if err != nil {
		log.LogError(ctx, "encode failed", err, "frame_dir", dir)
		os.Exit(1)
	}
	log.Info("encode finished", "outputs", outputs, "duration_ms", time.Since(start).Milliseconds())

	if !*deliver {
		return
	}
	provider, err := storage.NewDeliveryProvider(ctx, cfg.Delivery)
	if err != nil {
		log.LogFatal("failed to initialize delivery provider", err)
	}
	if provider == nil {
		log.Warn("-deliver given but DELIVERY_PROVIDER is not set")
		return
	}
	done := time.Now().UTC()
	res := encode.Result{
		Scene:       *scene,
		Format:      *format,
		TotalFrames: *frames,
		CompletedAt: &done,
		Outputs:     outputs,
	}
	if err := pipeline.NewDelivery(provider, log).Deliver(ctx, res); err != nil {
		os.Exit(1)
	}
}
