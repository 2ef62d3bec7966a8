package pipeline

import (
	"context"
	"mime"
	"os"
	"path"
	"path/filepath"

	"framepipe/internal/encode"
	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/ports"
)

// Delivery copies finished videos to the delivery provider.
type Delivery struct {
	sp  ports.StorageProvider
	log *logger.Logger
}

func NewDelivery(sp ports.StorageProvider, log *logger.Logger) *Delivery {
	return &Delivery{sp: sp, log: log.WithComponent("delivery")}
}

// Deliver uploads each output under finalVideos/<file name>. Every file is
// attempted; the first error is returned.
func (d *Delivery) Deliver(ctx context.Context, res encode.Result) error {
	log := d.log.WithRenderJob(res.Scene, res.Format)
	var first error
	for _, out := range res.Outputs {
		key, err := d.upload(ctx, out)
		if err != nil {
			log.Error("delivery failed", "file", out, "provider", d.sp.Provider(), "error", err.Error())
			if first == nil {
				first = err
			}
			continue
		}
		log.Info("video delivered", "file", out, "provider", d.sp.Provider(), "object_key", key)
	}
	return first
}

func (d *Delivery) upload(ctx context.Context, localPath string) (string, error) {
	st, err := os.Stat(localPath)
	if err != nil {
		return "", err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	out, err := d.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   path.Join(encode.OutputDir, filepath.Base(localPath)),
		ContentType: videoContentType(localPath),
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return "", err
	}
	return out.ObjectKey, nil
}

func videoContentType(name string) string {
	switch filepath.Ext(name) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Hook adapts Deliver to an encode hook.
func (d *Delivery) Hook() encode.Hook {
	return func(ctx context.Context, res encode.Result) {
		_ = d.Deliver(ctx, res)
	}
}

// RunRecorder persists completed runs.
type RunRecorder interface {
	CreateRun(ctx context.Context, run models.Run) error
}

// LedgerHook records every completed encode as a run. Failures are logged;
// the job is already completed by the time it runs.
func LedgerHook(rec RunRecorder, newID func() string, log *logger.Logger) encode.Hook {
	log = log.WithComponent("ledger")
	return func(ctx context.Context, res encode.Result) {
		run := models.Run{
			ID:          newID(),
			Scene:       res.Scene,
			Format:      res.Format,
			TotalFrames: res.TotalFrames,
			StartedAt:   res.StartedAt,
			Outputs:     make([]string, 0, len(res.Outputs)),
		}
		if res.CompletedAt != nil {
			run.CompletedAt = *res.CompletedAt
		}
		for _, o := range res.Outputs {
			run.Outputs = append(run.Outputs, filepath.Base(o))
		}
		if err := rec.CreateRun(ctx, run); err != nil {
			log.WithRenderJob(res.Scene, res.Format).Error("could not record run", "run_id", run.ID, "error", err.Error())
			return
		}
		log.WithRenderJob(res.Scene, res.Format).Debug("run recorded", "run_id", run.ID)
	}
}
