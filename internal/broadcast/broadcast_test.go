package broadcast_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/broadcast"
	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
)

// counterSource returns snapshots whose single job's TotalFrames counts
// how many snapshots were taken.
type counterSource struct{ n atomic.Int32 }

func (c *counterSource) snapshot() models.StatusSnapshot {
	n := int(c.n.Add(1))
	return models.StatusSnapshot{Scenes: []models.RenderJob{{ID: "sample-HD", TotalFrames: n}}}
}

type recordingSink struct {
	mu    sync.Mutex
	snaps []models.StatusSnapshot
	err   error
}

func (r *recordingSink) Publish(_ context.Context, snap models.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func recv(t *testing.T, s *broadcast.Subscription) models.StatusSnapshot {
	t.Helper()
	select {
	case snap, ok := <-s.C():
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return models.StatusSnapshot{}
	}
}

func TestSubscribe_ReceivesCurrentSnapshot(t *testing.T) {
	src := &counterSource{}
	h := broadcast.New(src.snapshot, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	sub := h.Subscribe()
	defer sub.Close()

	snap := recv(t, sub)
	require.Len(t, snap.Scenes, 1)
	assert.Equal(t, 1, h.Subscribers())
}

func TestPublish_LatestWins(t *testing.T) {
	src := &counterSource{}
	h := broadcast.New(src.snapshot, logger.Discard())
	sub := h.Subscribe()
	defer sub.Close()

	for i := 0; i < 5; i++ {
		h.Publish(context.Background())
	}

	snap := recv(t, sub)
	assert.Equal(t, 5, snap.Scenes[0].TotalFrames, "only the newest snapshot is pending")
	select {
	case <-sub.C():
		t.Fatal("stale snapshot was queued")
	default:
	}
}

func TestRun_NotifyFansOut(t *testing.T) {
	src := &counterSource{}
	h := broadcast.New(src.snapshot, logger.Discard())
	sink := &recordingSink{err: fmt.Errorf("mirror down")}
	h.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	subs := []*broadcast.Subscription{h.Subscribe(), h.Subscribe(), h.Subscribe()}
	for _, s := range subs {
		recv(t, s)
	}

	h.Notify()
	for _, s := range subs {
		snap := recv(t, s)
		assert.NotEmpty(t, snap.Scenes)
	}
	assert.Eventually(t, func() bool { return sink.count() >= 1 }, time.Second, 10*time.Millisecond)
}

// gatedSource blocks the first snapshot until release is closed, holding a
// publish in flight while a subscriber registers.
type gatedSource struct {
	n       atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedSource) snapshot() models.StatusSnapshot {
	n := int(g.n.Add(1))
	if n == 1 {
		close(g.started)
		<-g.release
	}
	return models.StatusSnapshot{Scenes: []models.RenderJob{{ID: "sample-HD", TotalFrames: n}}}
}

func TestSubscribe_DuringPublishGetsNewerSnapshot(t *testing.T) {
	src := &gatedSource{started: make(chan struct{}), release: make(chan struct{})}
	h := broadcast.New(src.snapshot, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	h.Notify()
	<-src.started
	sub := h.Subscribe()
	defer sub.Close()
	close(src.release)

	assert.Eventually(t, func() bool {
		select {
		case snap := <-sub.C():
			return snap.Scenes[0].TotalFrames >= 2
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "the snapshot taken after subscribing must reach the subscriber")
}

func TestNotify_NeverBlocks(t *testing.T) {
	h := broadcast.New((&counterSource{}).snapshot, logger.Discard())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Notify()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked without a running loop")
	}
}

func TestClose(t *testing.T) {
	h := broadcast.New((&counterSource{}).snapshot, logger.Discard())
	sub := h.Subscribe()
	sub.Close()
	sub.Close()

	assert.Equal(t, 0, h.Subscribers())
	h.Publish(context.Background())

	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestShutdown_ClosesSubscriptions(t *testing.T) {
	h := broadcast.New((&counterSource{}).snapshot, logger.Discard())
	require.NoError(t, h.StartHeartbeat(""))
	sub := h.Subscribe()

	require.NoError(t, h.Shutdown(context.Background()))
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
}

func TestHeartbeat(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron tick")
	}
	src := &counterSource{}
	h := broadcast.New(src.snapshot, logger.Discard())
	sink := &recordingSink{}
	h.AddSink(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	require.NoError(t, h.StartHeartbeat("@every 1s"))
	defer func() { _ = h.Shutdown(context.Background()) }()

	assert.Eventually(t, func() bool { return sink.count() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestStartHeartbeat_InvalidSpec(t *testing.T) {
	h := broadcast.New((&counterSource{}).snapshot, logger.Discard())
	assert.Error(t, h.StartHeartbeat("every now and then"))
}
