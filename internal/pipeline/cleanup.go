package pipeline

import (
	"context"

	"framepipe/internal/ingest"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/ports"
)

// Cleanup removes frames left over from a previous run of a job.
type Cleanup struct {
	frames ports.FrameStore
	log    *logger.Logger
}

func NewCleanup(frames ports.FrameStore, log *logger.Logger) *Cleanup {
	return &Cleanup{frames: frames, log: log.WithComponent("cleanup")}
}

// ClearFrames deletes the frame directory of (scene, format). A missing
// directory is not an error.
func (c *Cleanup) ClearFrames(ctx context.Context, scene, format string) error {
	dir := ingest.FrameDir(scene, format)
	if err := c.frames.RemovePrefix(ctx, dir); err != nil {
		return err
	}
	c.log.WithRenderJob(scene, format).Debug("previous frames removed", "dir", dir)
	return nil
}
