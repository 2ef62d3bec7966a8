// Package encode turns a completed frame sequence into the delivery videos
// of its format and finishes the render job.
package encode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"framepipe/internal/ingest"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/ports"
)

// OutputDir is the storage prefix final videos are written under.
const OutputDir = "finalVideos"

// Jobs is the slice of the registry the pipeline needs.
type Jobs interface {
	Get(scene, format string) (models.RenderJob, bool)
	MarkCompleted(scene, format string) error
}

// Result describes one finished encode.
type Result struct {
	Scene       string
	Format      string
	TotalFrames int
	StartedAt   *time.Time
	CompletedAt *time.Time
	// Outputs are the filesystem paths of the written videos.
	Outputs []string
}

// Hook runs after a job is marked completed, e.g. delivery or the run
// ledger. Hooks must not block for long; they run on the encode goroutine.
type Hook func(ctx context.Context, res Result)

type Deps struct {
	Jobs     Jobs
	Frames   ports.FrameStore
	Runner   Runner
	Names    *Names
	InputFPS int
	Hooks    []Hook
	Log      *logger.Logger
}

type Pipeline struct {
	jobs     Jobs
	frames   ports.FrameStore
	runner   Runner
	names    *Names
	inputFPS int
	hooks    []Hook
	log      *logger.Logger
}

func New(d Deps) (*Pipeline, error) {
	if d.Frames == nil {
		return nil, errors.Validation("encode: frame store is required")
	}
	if d.Runner == nil {
		return nil, errors.Validation("encode: runner is required")
	}
	if d.InputFPS <= 0 {
		d.InputFPS = 60
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("encode")
	names := d.Names
	if names == nil {
		names = NewNames(nil, log)
	}
	return &Pipeline{
		jobs:     d.Jobs,
		frames:   d.Frames,
		runner:   d.Runner,
		names:    names,
		inputFPS: d.InputFPS,
		hooks:    d.Hooks,
		log:      log,
	}, nil
}

// AddHook registers h to run after every successful Run.
func (p *Pipeline) AddHook(h Hook) {
	p.hooks = append(p.hooks, h)
}

// FrameDir is the filesystem directory holding the frames of (scene, format).
func (p *Pipeline) FrameDir(scene, format string) string {
	return p.frames.Path(ingest.FrameDir(scene, format))
}

// Run encodes a converting job and marks it completed. Any failure is
// logged and leaves the job in converting for an operator to re-run with
// the encode tool.
func (p *Pipeline) Run(ctx context.Context, scene, format string) {
	log := p.log.WithRenderJob(scene, format)

	job, ok := p.jobs.Get(scene, format)
	if !ok {
		log.Error("encode requested for unknown job")
		return
	}

	start := time.Now()
	outputs, err := p.Encode(ctx, scene, format, p.FrameDir(scene, format), job.TotalFrames)
	if err != nil {
		log.Error("encode failed, job stays converting", "error", err.Error())
		return
	}
	if err := p.jobs.MarkCompleted(scene, format); err != nil {
		log.Error("could not mark job completed", "error", err.Error())
		return
	}
	log.Info("encode finished", "outputs", outputs, "duration", time.Since(start).String())

	res := Result{
		Scene:       scene,
		Format:      format,
		TotalFrames: job.TotalFrames,
		StartedAt:   fromMillis(job.StartedAt),
		Outputs:     outputs,
	}
	if done, ok := p.jobs.Get(scene, format); ok {
		res.CompletedAt = fromMillis(done.CompletedAt)
	}
	for _, h := range p.hooks {
		h(ctx, res)
	}
}

// Encode runs every step of format's plan over the frames in frameDir and
// returns the written files. totalFrames, when positive, is checked against
// the frames on disk first.
func (p *Pipeline) Encode(ctx context.Context, scene, format, frameDir string, totalFrames int) ([]string, error) {
	steps, ok := Plan(format)
	if !ok {
		return nil, errors.Newf(errors.CodeEncode, "no encode profile for format %q", format).
			WithField("format", format)
	}
	if err := CheckFrames(frameDir, totalFrames); err != nil {
		return nil, err
	}

	outDir := p.frames.Path(OutputDir)
	if outDir == "" {
		return nil, errors.New(errors.CodeStorage, "output directory is not resolvable")
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, errors.Storage(err, "encode.output_dir", "create output directory")
	}

	stem := filepath.Join(outDir, p.names.OutputName(scene, format))
	log := p.log.WithRenderJob(scene, format)
	outputs := make([]string, 0, len(steps))
	for i, step := range steps {
		out := stem + step.Ext
		args, err := Args(step.Profile, p.inputFPS, frameDir, out)
		if err != nil {
			return outputs, errors.Encode(err, "encode.args", "build encoder arguments")
		}
		log.Info("encoding", "profile", string(step.Profile), "step", i+1, "steps", len(steps), "output", out)
		if err := p.runner.Run(ctx, args); err != nil {
			return outputs, errors.Encode(err, "encode.run",
				fmt.Sprintf("%s encode failed", step.Profile)).
				WithField("output", out)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// CheckFrames verifies frameDir exists and, when want > 0, holds exactly
// want frame images.
func CheckFrames(frameDir string, want int) error {
	info, err := os.Stat(frameDir)
	if err != nil {
		return errors.Encode(err, "encode.check_frames", "frame directory missing").
			WithField("dir", frameDir)
	}
	if !info.IsDir() {
		return errors.Newf(errors.CodeEncode, "%s is not a directory", frameDir)
	}
	if want <= 0 {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(frameDir, "*.png"))
	if err != nil {
		return errors.Encode(err, "encode.check_frames", "list frames")
	}
	if len(files) != want {
		return errors.Newf(errors.CodeEncode, "expected %d frames in %s but found %d", want, frameDir, len(files)).
			WithField("expected", want).
			WithField("found", len(files))
	}
	return nil
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
