// Package broadcast fans registry snapshots out to status observers.
//
// Notify marks the status dirty; the Run loop takes one snapshot per wakeup
// and offers it to every subscriber. Each subscriber holds at most one
// pending snapshot: a newer one replaces an unread older one, so slow
// observers skip intermediate states instead of queueing them.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
)

// SnapshotFunc returns the current full status.
type SnapshotFunc func() models.StatusSnapshot

// Sink receives every published snapshot, e.g. an external mirror.
type Sink interface {
	Publish(ctx context.Context, snap models.StatusSnapshot) error
}

const sinkTimeout = 2 * time.Second

type Hub struct {
	snapshot SnapshotFunc
	log      *logger.Logger
	dirty    chan struct{}

	mu    sync.RWMutex
	subs  map[string]*Subscription
	sinks []Sink

	cron *cron.Cron
}

func New(snapshot SnapshotFunc, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Hub{
		snapshot: snapshot,
		log:      log.WithComponent("broadcast"),
		dirty:    make(chan struct{}, 1),
		subs:     make(map[string]*Subscription),
	}
}

// AddSink registers s to receive every published snapshot.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	h.sinks = append(h.sinks, s)
	h.mu.Unlock()
}

// Notify schedules a publish. It never blocks; bursts collapse into one.
func (h *Hub) Notify() {
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

// Subscribe registers an observer and schedules a publish, so the Run loop
// delivers the current snapshot. Run is the only writer to subscriptions.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		ch:  make(chan models.StatusSnapshot, 1),
		hub: h,
	}
	h.mu.Lock()
	h.subs[s.id] = s
	n := len(h.subs)
	h.mu.Unlock()

	h.Notify()
	h.log.Debug("status subscriber added", "subscriber", s.id, "subscribers", n)
	return s
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Run publishes on every Notify until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("status broadcaster started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("status broadcaster stopped")
			return
		case <-h.dirty:
			h.Publish(ctx)
		}
	}
}

// Publish snapshots the status once and offers it to every subscriber and
// sink. Sink errors are logged.
func (h *Hub) Publish(ctx context.Context) {
	snap := h.snapshot()

	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.RUnlock()

	for _, s := range subs {
		s.offer(snap)
	}
	for _, sink := range sinks {
		sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
		if err := sink.Publish(sctx, snap); err != nil {
			h.log.Warn("status sink publish failed", "error", err.Error())
		}
		cancel()
	}
}

// StartHeartbeat rebroadcasts on the cron schedule spec (e.g. "@every 5s")
// so observers converge without mutations. An empty spec is a no-op.
func (h *Hub) StartHeartbeat(spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, h.Notify); err != nil {
		return err
	}
	c.Start()
	h.cron = c
	h.log.Info("status heartbeat scheduled", "schedule", spec)
	return nil
}

// Shutdown stops the heartbeat and closes every subscription.
func (h *Hub) Shutdown(ctx context.Context) error {
	if h.cron != nil {
		select {
		case <-h.cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
	return nil
}

// Subscription is one observer's single-slot mailbox.
type Subscription struct {
	id  string
	hub *Hub

	mu     sync.Mutex
	ch     chan models.StatusSnapshot
	closed bool
}

func (s *Subscription) ID() string { return s.id }

// C yields the latest snapshot not yet read. It is closed on Close or hub
// shutdown.
func (s *Subscription) C() <-chan models.StatusSnapshot { return s.ch }

// offer replaces any unread snapshot with snap.
func (s *Subscription) offer(snap models.StatusSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- snap:
	default:
	}
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
