// Package worker runs render sub-jobs on a bounded pool of browser workers.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/worker/renderer"
)

// Pool queues sub-jobs FIFO without bound and runs at most Concurrency of
// them at once. Running workers are never cancelled on request; Shutdown
// is the only thing that stops them.
type Pool struct {
	renderer renderer.Renderer
	log      *logger.Logger
	sem      *semaphore.Weighted
	limit    int
	delay    time.Duration

	mu      sync.Mutex
	queue   []models.SubJob
	wake    chan struct{}
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup
	tasks  sync.WaitGroup

	active    atomic.Int32
	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. Call Start before submitting work.
func NewPool(d Deps) (*Pool, error) {
	if d.Renderer == nil {
		return nil, errors.Validation("worker pool requires a renderer")
	}
	if d.Concurrency < 1 {
		return nil, errors.ValidationField("concurrency", "concurrency must be at least 1").
			WithField("value", d.Concurrency)
	}
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Pool{
		renderer: d.Renderer,
		log:      log.WithComponent("worker-pool"),
		sem:      semaphore.NewWeighted(int64(d.Concurrency)),
		limit:    d.Concurrency,
		delay:    d.CreationDelay,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Start launches the dispatcher. Workers inherit a context derived from
// ctx, so cancelling ctx has the same effect as Shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.loop.Add(1)
	go p.run()
	p.log.Info("worker pool started", "concurrency", p.limit, "creation_delay", p.delay.String())
}

// Submit appends jobs to the queue. It never blocks.
func (p *Pool) Submit(jobs ...models.SubJob) {
	if len(jobs) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, jobs...)
	queued := len(p.queue)
	p.mu.Unlock()

	for _, j := range jobs {
		p.log.WithRenderJob(j.Scene, j.Format).Info("adding job to rendering pool",
			"start_frame", j.StartFrame,
			"end_frame", j.EndFrame,
		)
	}
	p.log.Debug("queue grew", "queued", queued)

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Stats reports queue depth, active workers and outcome counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	queued := len(p.queue)
	p.mu.Unlock()
	return Stats{
		Queued:    queued,
		Active:    int(p.active.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) next() (models.SubJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return models.SubJob{}, false
	}
	job := p.queue[0]
	p.queue[0] = models.SubJob{}
	p.queue = p.queue[1:]
	return job, true
}

func (p *Pool) pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) > 0
}

// run takes a slot, then the head of the queue, so launch order is FIFO.
func (p *Pool) run() {
	defer p.loop.Done()
	var lastLaunch time.Time

	for {
		if !p.pending() {
			select {
			case <-p.ctx.Done():
				return
			case <-p.wake:
				continue
			}
		}

		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			return
		}

		if p.delay > 0 && !lastLaunch.IsZero() {
			if wait := p.delay - time.Since(lastLaunch); wait > 0 {
				select {
				case <-p.ctx.Done():
					p.sem.Release(1)
					return
				case <-time.After(wait):
				}
			}
		}

		job, ok := p.next()
		if !ok {
			p.sem.Release(1)
			continue
		}
		lastLaunch = time.Now()

		p.tasks.Add(1)
		p.active.Add(1)
		go p.work(job)
	}
}

func (p *Pool) work(job models.SubJob) {
	defer p.tasks.Done()
	defer p.sem.Release(1)
	defer p.active.Add(-1)

	workerID := uuid.NewString()
	ctx := logger.ContextWithWorkerID(logger.ContextWithJobID(p.ctx, models.JobID(job.Scene, job.Format)), workerID)
	log := p.log.FromContext(ctx).WithFields(map[string]any{
		"scene":       job.Scene,
		"format":      job.Format,
		"start_frame": job.StartFrame,
		"end_frame":   job.EndFrame,
	})

	log.Info("worker started")
	start := time.Now()

	if err := p.renderer.Render(ctx, job); err != nil {
		p.failed.Add(1)
		if p.ctx.Err() != nil {
			log.Warn("worker stopped by shutdown", "duration_ms", time.Since(start).Milliseconds())
			return
		}
		rerr := errors.Render(err, "worker.render",
			fmt.Sprintf("render frames %d-%d", job.StartFrame, job.EndFrame))
		log.Error("worker failed",
			"error", rerr.Error(),
			"code", string(rerr.Code),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}

	p.completed.Add(1)
	log.Info("worker finished", "duration_ms", time.Since(start).Milliseconds())
}

// Shutdown stops dispatching, cancels running workers (closing their
// browsers) and waits for them, bounded by ctx. Queued jobs are dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	started := p.started
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()
	if !started {
		return nil
	}

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.loop.Wait()
		p.tasks.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info("worker pool stopped", "dropped_jobs", dropped)
		return nil
	case <-ctx.Done():
		return errors.WrapWithCode(ctx.Err(), errors.CodeTimeout, "worker.shutdown", "workers still running")
	}
}
