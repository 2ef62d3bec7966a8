// Package ingest receives rendered frames, records them in the registry and
// starts the encode once a job's last frame lands.
package ingest

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"

	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/ports"
	"framepipe/internal/registry"
)

// Tracker is the slice of the registry ingest needs.
type Tracker interface {
	MarkFrameReceived(scene, format string, frameNumber int) (bool, error)
	BeginConverting(scene, format string) bool
}

// CompleteFunc runs once per job run, after all frames are received.
type CompleteFunc func(ctx context.Context, scene, format string)

// Upload is one frame image sent by a render worker.
type Upload struct {
	Scene       string
	Format      string
	FrameNum    int
	ContentType string
	Size        int64
	Body        io.Reader
}

// Ack is returned to the uploader. Uploads are acknowledged even when they
// do not change job state.
type Ack struct {
	Resp string `json:"resp"`
	// Recorded is true when this call newly marked the frame received.
	Recorded bool `json:"-"`
	// Triggered is true when this call started the encode.
	Triggered bool `json:"-"`
}

// Deps wires a Service.
type Deps struct {
	Frames     ports.FrameStore
	Tracker    Tracker
	OnComplete CompleteFunc
	Log        *logger.Logger
}

type Service struct {
	frames     ports.FrameStore
	tracker    Tracker
	onComplete CompleteFunc
	log        *logger.Logger
	inflight   sync.WaitGroup
}

func New(d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Service{
		frames:     d.Frames,
		tracker:    d.Tracker,
		onComplete: d.OnComplete,
		log:        log.WithComponent("ingest"),
	}
}

// FrameDir is the storage prefix holding the frames of (scene, format).
func FrameDir(scene, format string) string {
	return path.Join("frames", scene, format)
}

// FrameKey is the storage key of one frame.
func FrameKey(scene, format string, frameNum int) string {
	return path.Join(FrameDir(scene, format), v0.FrameFileName(frameNum))
}

func validate(scene, format string, frameNum int) error {
	if !models.ValidName(scene) {
		return errors.ValidationField("scene", "scene is missing or invalid").WithField("value", scene)
	}
	if !models.ValidName(format) {
		return errors.ValidationField("format", "format is missing or invalid").WithField("value", format)
	}
	if frameNum < 1 {
		return errors.ValidationField("frameNum", "frameNum must be a positive integer").WithField("value", frameNum)
	}
	return nil
}

// Receive stores the frame image, then records it. A failed write is
// logged and acknowledged without touching job state. Only malformed
// uploads that cannot be routed to any job return an error.
func (s *Service) Receive(ctx context.Context, up Upload) (Ack, error) {
	if err := validate(up.Scene, up.Format, up.FrameNum); err != nil {
		return Ack{}, err
	}
	if up.Body == nil {
		return Ack{}, errors.ValidationField("image", "image is required")
	}
	log := s.log.WithRenderJob(up.Scene, up.Format)
	ack := Ack{Resp: fmt.Sprintf("frame %d for %s received", up.FrameNum, models.JobID(up.Scene, up.Format))}

	key := FrameKey(up.Scene, up.Format, up.FrameNum)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	if _, err := s.frames.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: contentType,
		Reader:      up.Body,
		Size:        up.Size,
	}); err != nil {
		log.Error("frame write failed", "frame", up.FrameNum, "key", key, "error", err.Error())
		return ack, nil
	}

	return s.record(ctx, up.Scene, up.Format, up.FrameNum, key, ack), nil
}

// FrameSaved records a frame the worker saved itself. It goes through the
// same completion check as Receive.
func (s *Service) FrameSaved(ctx context.Context, scene, format string, frameNum int) (Ack, error) {
	if err := validate(scene, format, frameNum); err != nil {
		return Ack{}, err
	}
	ack := Ack{Resp: fmt.Sprintf("frame %d for %s recorded", frameNum, models.JobID(scene, format))}
	return s.record(ctx, scene, format, frameNum, "", ack), nil
}

// record marks the frame and, for the one caller that completes the job,
// launches the encode in the background. writtenKey is removed again when
// the job is unknown or the frame number is out of range, so it cannot leak
// into an encode input.
func (s *Service) record(ctx context.Context, scene, format string, frameNum int, writtenKey string, ack Ack) Ack {
	log := s.log.WithRenderJob(scene, format)

	added, err := s.tracker.MarkFrameReceived(scene, format, frameNum)
	if err != nil {
		if writtenKey != "" && (errors.Is(err, registry.ErrInvalidFrame) || errors.IsNotFound(err)) {
			if delErr := s.frames.DeleteObject(ctx, writtenKey); delErr != nil {
				log.Warn("could not remove unrecorded frame", "key", writtenKey, "error", delErr.Error())
			}
		}
		log.Debug("frame not recorded", "frame", frameNum, "error", err.Error())
		return ack
	}
	if !added {
		log.Debug("frame already received", "frame", frameNum)
		return ack
	}
	ack.Recorded = true
	log.Debug("frame received", "frame", frameNum)

	if !s.tracker.BeginConverting(scene, format) {
		return ack
	}
	ack.Triggered = true

	if s.onComplete == nil {
		log.Warn("job complete but no encoder is wired")
		return ack
	}
	encodeCtx := logger.ContextWithJobID(context.WithoutCancel(ctx), models.JobID(scene, format))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.onComplete(encodeCtx, scene, format)
	}()
	return ack
}

// Wait blocks until every encode launched by this service has returned,
// or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
