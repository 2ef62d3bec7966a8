// Package registry is the in-memory source of truth for render job state.
//
// Each (scene, format) pair owns one entry guarded by its own mutex, so
// mutations of the same job are serialized while different jobs proceed in
// parallel. The map itself is only write-locked when a new pair is created.
// Observers are notified after a mutation commits, outside any job lock.
package registry

import (
	"slices"
	"sync"
	"time"

	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
)

var (
	// ErrInvalidTransition is returned for backward or skipped state changes.
	ErrInvalidTransition = errors.New(errors.CodeConflict, "invalid state transition")
	// ErrInvalidFrame is returned for frame numbers outside [1, totalFrames].
	ErrInvalidFrame = errors.New(errors.CodeValidation, "frame number out of range")
	// ErrNotReceiving is returned when a frame arrives for a job that is not
	// queued or rendering.
	ErrNotReceiving = errors.New(errors.CodeFailedPrecond, "job is not receiving frames")
)

type key struct {
	scene  string
	format string
}

type entry struct {
	mu sync.Mutex

	scene       string
	format      string
	state       models.State
	startedAt   *time.Time
	completedAt *time.Time
	totalFrames int
	frames      []bool
	received    int
	workers     []string
}

// Registry tracks every RenderJob of the process.
type Registry struct {
	log *logger.Logger
	now func() time.Time

	mu    sync.RWMutex
	jobs  map[key]*entry
	order []key

	obsMu     sync.RWMutex
	observers []func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source used for startedAt/completedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates an empty registry.
func New(log *logger.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:  log.WithComponent("registry"),
		now:  time.Now,
		jobs: make(map[key]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers fn to be called after every committed mutation.
func (r *Registry) Observe(fn func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Registry) notify() {
	r.obsMu.RLock()
	observers := slices.Clone(r.observers)
	r.obsMu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}

func validate(scene, format string) error {
	if !models.ValidName(scene) {
		return errors.ValidationField("scene", "invalid scene name").WithField("value", scene)
	}
	if !models.ValidName(format) {
		return errors.ValidationField("format", "invalid format name").WithField("value", format)
	}
	return nil
}

func (r *Registry) lookup(scene, format string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[key{scene, format}]
	return e, ok
}

// getOrCreate returns the entry for the pair and whether it was created.
func (r *Registry) getOrCreate(scene, format string) (*entry, bool, error) {
	if e, ok := r.lookup(scene, format); ok {
		return e, false, nil
	}
	if err := validate(scene, format); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{scene, format}
	if e, ok := r.jobs[k]; ok {
		return e, false, nil
	}
	e := &entry{scene: scene, format: format, state: models.StateIdle}
	r.jobs[k] = e
	r.order = append(r.order, k)
	return e, true, nil
}

// GetOrCreate returns the job for (scene, format), creating an idle one on
// first use.
func (r *Registry) GetOrCreate(scene, format string) (models.RenderJob, error) {
	e, created, err := r.getOrCreate(scene, format)
	if err != nil {
		return models.RenderJob{}, err
	}
	e.mu.Lock()
	job := e.snapshot()
	e.mu.Unlock()

	if created {
		r.log.Debug("render job created", "job_id", job.ID)
		r.notify()
	}
	return job, nil
}

// Get returns the job for (scene, format) without creating it.
func (r *Registry) Get(scene, format string) (models.RenderJob, bool) {
	e, ok := r.lookup(scene, format)
	if !ok {
		return models.RenderJob{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// Reset puts the job back to queued with a fresh all-pending frame sequence
// of totalFrames slots and cleared timestamps. Valid from any state.
func (r *Registry) Reset(scene, format string, totalFrames int) error {
	if totalFrames <= 0 {
		return errors.ValidationField("totalFrames", "totalFrames must be positive").
			WithField("value", totalFrames)
	}
	e, _, err := r.getOrCreate(scene, format)
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.state
	e.state = models.StateQueued
	e.startedAt = nil
	e.completedAt = nil
	e.allocate(totalFrames)
	e.mu.Unlock()

	r.log.WithRenderJob(scene, format).Info("render job reset",
		"previous_state", string(prev),
		"total_frames", totalFrames,
	)
	r.notify()
	return nil
}

// MarkFrameReceived records frameNumber (1-based) as received. It returns
// true only when the frame was newly recorded; repeats are no-ops.
// Out-of-range frames and jobs outside queued/rendering are logged and
// reported as ErrInvalidFrame and ErrNotReceiving without touching state.
func (r *Registry) MarkFrameReceived(scene, format string, frameNumber int) (bool, error) {
	e, ok := r.lookup(scene, format)
	if !ok {
		return false, errors.NotFound("render job", models.JobID(scene, format))
	}
	log := r.log.WithRenderJob(scene, format)

	e.mu.Lock()
	state, total := e.state, e.totalFrames
	if !state.Receiving() {
		e.mu.Unlock()
		log.Warn("frame for job not receiving frames", "frame", frameNumber, "state", string(state))
		return false, errors.Wrap(ErrNotReceiving, "registry.mark_frame", "frame ignored").
			WithField("state", string(state))
	}
	if frameNumber < 1 || frameNumber > total {
		e.mu.Unlock()
		log.Warn("frame out of range", "frame", frameNumber, "total_frames", total)
		return false, errors.Wrap(ErrInvalidFrame, "registry.mark_frame", "frame ignored").
			WithField("frame", frameNumber)
	}
	if e.frames[frameNumber-1] {
		e.mu.Unlock()
		return false, nil
	}
	e.frames[frameNumber-1] = true
	e.received++
	e.mu.Unlock()

	r.notify()
	return true, nil
}

// SetState moves the job forward to next. Moving backwards, or to the same
// state, is rejected with ErrInvalidTransition; use Reset to requeue.
func (r *Registry) SetState(scene, format string, next models.State) error {
	if !next.Valid() {
		return errors.ValidationField("state", "unknown state").WithField("value", string(next))
	}
	e, ok := r.lookup(scene, format)
	if !ok {
		return errors.NotFound("render job", models.JobID(scene, format))
	}

	e.mu.Lock()
	cur := e.state
	if !cur.Before(next) {
		e.mu.Unlock()
		return errors.Wrap(ErrInvalidTransition, "registry.set_state",
			string(cur)+" -> "+string(next)).
			WithField("from", string(cur)).
			WithField("to", string(next))
	}
	e.state = next
	now := r.now()
	if next == models.StateRendering && e.startedAt == nil {
		e.startedAt = &now
	}
	if next == models.StateCompleted {
		e.completedAt = &now
	}
	e.mu.Unlock()

	r.notify()
	return nil
}

// AttachWorker records a rendering client check-in. totalFrames, when
// positive and different from the job's current total, reallocates the
// frame sequence only while the job is idle or queued with nothing
// received. Otherwise the mismatch is logged and the sequence kept. An idle or queued job moves to rendering and gets its
// startedAt on the first check-in. A converting or completed job keeps its
// state; the worker is still recorded.
func (r *Registry) AttachWorker(scene, format, workerID string, totalFrames int) error {
	if workerID == "" {
		return errors.ValidationField("worker", "worker id is required")
	}
	e, _, err := r.getOrCreate(scene, format)
	if err != nil {
		return err
	}
	log := r.log.WithRenderJob(scene, format).WithWorkerID(workerID)

	e.mu.Lock()
	if totalFrames > 0 && totalFrames != e.totalFrames {
		switch {
		case e.totalFrames == 0:
			e.allocate(totalFrames)
		case e.received == 0 && (e.state == models.StateIdle || e.state == models.StateQueued):
			log.Warn("check-in changed total frames", "from", e.totalFrames, "to", totalFrames)
			e.allocate(totalFrames)
		default:
			log.Warn("check-in total ignored for job in progress",
				"state", string(e.state), "total_frames", e.totalFrames, "reported", totalFrames)
		}
	}
	if e.totalFrames == 0 {
		e.mu.Unlock()
		return errors.ValidationField("totalFrames", "totalFrames must be positive for a job that was never queued")
	}
	if !slices.Contains(e.workers, workerID) {
		e.workers = append(e.workers, workerID)
	}
	state := e.state
	switch state {
	case models.StateIdle, models.StateQueued:
		e.state = models.StateRendering
	case models.StateConverting, models.StateCompleted:
		log.Warn("worker attached to job past rendering", "state", string(state))
	}
	if e.state == models.StateRendering && e.startedAt == nil {
		now := r.now()
		e.startedAt = &now
	}
	workers := len(e.workers)
	e.mu.Unlock()

	log.Info("rendering client checked in", "active_workers", workers)
	r.notify()
	return nil
}

// DetachWorker removes workerID from the job's active workers. Frames and
// state are untouched.
func (r *Registry) DetachWorker(scene, format, workerID string) {
	e, ok := r.lookup(scene, format)
	if !ok {
		return
	}

	e.mu.Lock()
	idx := slices.Index(e.workers, workerID)
	if idx < 0 {
		e.mu.Unlock()
		return
	}
	e.workers = slices.Delete(e.workers, idx, idx+1)
	e.mu.Unlock()

	r.log.WithRenderJob(scene, format).WithWorkerID(workerID).Info("rendering client disconnected")
	r.notify()
}

// BeginConverting flips a queued or rendering job whose frames are all
// received to converting. Exactly one caller observes true per run; that
// caller owns the encode.
func (r *Registry) BeginConverting(scene, format string) bool {
	e, ok := r.lookup(scene, format)
	if !ok {
		return false
	}

	e.mu.Lock()
	if !e.state.Receiving() || e.totalFrames == 0 || e.received != e.totalFrames {
		e.mu.Unlock()
		return false
	}
	e.state = models.StateConverting
	e.mu.Unlock()

	r.log.WithRenderJob(scene, format).Info("all frames received, converting to video")
	r.notify()
	return true
}

// MarkCompleted finishes a converting job: state completed, completedAt set,
// frames cleared to all-pending with the same length.
func (r *Registry) MarkCompleted(scene, format string) error {
	e, ok := r.lookup(scene, format)
	if !ok {
		return errors.NotFound("render job", models.JobID(scene, format))
	}

	e.mu.Lock()
	if e.state != models.StateConverting {
		cur := e.state
		e.mu.Unlock()
		return errors.Wrap(ErrInvalidTransition, "registry.mark_completed",
			string(cur)+" -> "+string(models.StateCompleted)).
			WithField("from", string(cur))
	}
	now := r.now()
	e.state = models.StateCompleted
	e.completedAt = &now
	e.allocate(e.totalFrames)
	e.mu.Unlock()

	r.log.WithRenderJob(scene, format).Info("final video finished")
	r.notify()
	return nil
}

// Snapshot returns a self-contained copy of every job in creation order.
func (r *Registry) Snapshot() models.StatusSnapshot {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, k := range r.order {
		entries = append(entries, r.jobs[k])
	}
	r.mu.RUnlock()

	snap := models.StatusSnapshot{Scenes: make([]models.RenderJob, 0, len(entries))}
	for _, e := range entries {
		e.mu.Lock()
		snap.Scenes = append(snap.Scenes, e.snapshot())
		e.mu.Unlock()
	}
	return snap
}

// allocate replaces the frame sequence with n pending slots. Caller holds e.mu.
func (e *entry) allocate(n int) {
	e.totalFrames = n
	e.frames = make([]bool, n)
	e.received = 0
}

// snapshot copies the entry. Caller holds e.mu.
func (e *entry) snapshot() models.RenderJob {
	job := models.RenderJob{
		ID:             models.JobID(e.scene, e.format),
		Scene:          e.scene,
		Format:         e.format,
		State:          e.state,
		TotalFrames:    e.totalFrames,
		ReceivedFrames: e.received,
		Frames:         make([]models.FrameSlot, len(e.frames)),
		Clients:        slices.Clone(e.workers),
	}
	if job.Clients == nil {
		job.Clients = []string{}
	}
	for i, got := range e.frames {
		if got {
			job.Frames[i] = models.FrameReceived
		}
	}
	if e.startedAt != nil {
		job.StartedAt = models.EpochMillis(*e.startedAt)
	}
	if e.completedAt != nil {
		job.CompletedAt = models.EpochMillis(*e.completedAt)
	}
	return job
}
