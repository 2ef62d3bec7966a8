// Package pipeline coordinates render requests and rendering client
// check-ins, and carries the housekeeping around a run: clearing old
// frames, delivering finished videos and recording completed runs.
package pipeline

import (
	"context"

	"framepipe/internal/ingest"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/splitter"
)

// Jobs is the slice of the registry the coordinator mutates.
type Jobs interface {
	GetOrCreate(scene, format string) (models.RenderJob, error)
	Reset(scene, format string, totalFrames int) error
	AttachWorker(scene, format, workerID string, totalFrames int) error
	DetachWorker(scene, format, workerID string)
}

// Submitter queues sub-jobs for rendering.
type Submitter interface {
	Submit(jobs ...models.SubJob)
}

// FrameSaver records frames reported without an upload.
type FrameSaver interface {
	FrameSaved(ctx context.Context, scene, format string, frameNum int) (ingest.Ack, error)
}

type Deps struct {
	Jobs         Jobs
	Pool         Submitter
	Cleanup      *Cleanup
	Frames       FrameSaver
	JobsPerScene int
	Log          *logger.Logger
}

type Coordinator struct {
	jobs         Jobs
	pool         Submitter
	cleanup      *Cleanup
	frames       FrameSaver
	jobsPerScene int
	log          *logger.Logger
}

func NewCoordinator(d Deps) (*Coordinator, error) {
	if d.Jobs == nil || d.Pool == nil {
		return nil, errors.Validation("pipeline: jobs and pool are required")
	}
	if d.JobsPerScene < 1 {
		return nil, errors.ValidationField("jobsPerScene", "must be at least 1").WithField("value", d.JobsPerScene)
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Coordinator{
		jobs:         d.Jobs,
		pool:         d.Pool,
		cleanup:      d.Cleanup,
		frames:       d.Frames,
		jobsPerScene: d.JobsPerScene,
		log:          log.WithComponent("coordinator"),
	}, nil
}

// Seed creates an idle job for every configured (scene, format) pair so
// observers see the full matrix before anything renders.
func (c *Coordinator) Seed(pairs [][2]string) error {
	for _, p := range pairs {
		if _, err := c.jobs.GetOrCreate(p[0], p[1]); err != nil {
			return errors.Wrapf(err, "pipeline.seed", "seed %s", models.JobID(p[0], p[1]))
		}
	}
	c.log.Info("render jobs seeded", "count", len(pairs))
	return nil
}

// RenderScenes starts a new run for each request: old frames are removed,
// the job is reset to queued and its frame range is split across
// sub-jobs submitted to the pool. The whole batch is validated before
// anything is touched.
func (c *Coordinator) RenderScenes(ctx context.Context, reqs []models.RenderRequest) error {
	if len(reqs) == 0 {
		return errors.ValidationField("scenes", "at least one scene is required")
	}
	for i, r := range reqs {
		if err := validateRequest(r); err != nil {
			return err.WithField("index", i)
		}
	}

	for _, r := range reqs {
		log := c.log.WithRenderJob(r.Scene, r.Format)

		if c.cleanup != nil {
			if err := c.cleanup.ClearFrames(ctx, r.Scene, r.Format); err != nil {
				return errors.Storage(err, "pipeline.render_scenes", "clear previous frames").
					WithField("job_id", models.JobID(r.Scene, r.Format))
			}
		}
		if err := c.jobs.Reset(r.Scene, r.Format, r.TotalFrames); err != nil {
			return err
		}
		subJobs, err := splitter.Split(r.Scene, r.Format, r.TotalFrames, c.jobsPerScene)
		if err != nil {
			return err
		}
		c.pool.Submit(subJobs...)
		log.Info("render run queued", "total_frames", r.TotalFrames, "sub_jobs", len(subJobs))
	}
	return nil
}

func validateRequest(r models.RenderRequest) *errors.Error {
	if !models.ValidName(r.Scene) {
		return errors.ValidationField("scene", "scene is missing or invalid").WithField("value", r.Scene)
	}
	if !models.ValidName(r.Format) {
		return errors.ValidationField("format", "format is missing or invalid").WithField("value", r.Format)
	}
	if r.TotalFrames <= 0 {
		return errors.ValidationField("totalFrames", "totalFrames must be positive").WithField("value", r.TotalFrames)
	}
	return nil
}

// CheckIn attaches a rendering client to its job.
func (c *Coordinator) CheckIn(_ context.Context, scene, format, workerID string, totalFrames int) error {
	if !models.ValidName(scene) || !models.ValidName(format) {
		return errors.Validation("scene and format are required")
	}
	return c.jobs.AttachWorker(scene, format, workerID, totalFrames)
}

// Disconnect detaches a rendering client. Frames and state are kept.
func (c *Coordinator) Disconnect(scene, format, workerID string) {
	c.jobs.DetachWorker(scene, format, workerID)
}

// FrameSaved records a frame reported over the event channel.
func (c *Coordinator) FrameSaved(ctx context.Context, scene, format string, frameNum int) error {
	if c.frames == nil {
		return errors.New(errors.CodeFailedPrecond, "frame recording is not wired")
	}
	_, err := c.frames.FrameSaved(ctx, scene, format, frameNum)
	return err
}
