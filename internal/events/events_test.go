package events_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/broadcast"
	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/events"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
)

type fakeDispatcher struct {
	mu          sync.Mutex
	renders     [][]models.RenderRequest
	checkIns    []string
	disconnects []string
	saved       []int
}

func (f *fakeDispatcher) RenderScenes(_ context.Context, reqs []models.RenderRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(reqs) == 0 {
		return errors.Validation("scenes is required")
	}
	f.renders = append(f.renders, reqs)
	return nil
}

func (f *fakeDispatcher) CheckIn(_ context.Context, scene, format, workerID string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkIns = append(f.checkIns, models.JobID(scene, format)+"/"+workerID)
	return nil
}

func (f *fakeDispatcher) Disconnect(scene, format, workerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, models.JobID(scene, format)+"/"+workerID)
}

func (f *fakeDispatcher) FrameSaved(_ context.Context, _, _ string, frameNum int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, frameNum)
	return nil
}

func (f *fakeDispatcher) snapshot() (renders, checkIns, disconnects, saved int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renders), len(f.checkIns), len(f.disconnects), len(f.saved)
}

func statusSnapshot() models.StatusSnapshot {
	return models.StatusSnapshot{Scenes: []models.RenderJob{{ID: "sample-HD", Scene: "sample", Format: "HD"}}}
}

type harness struct {
	disp *fakeDispatcher
	hub  *broadcast.Hub
	srv  *events.Server
	url  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{disp: &fakeDispatcher{}}
	h.hub = broadcast.New(statusSnapshot, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.hub.Run(ctx)

	h.srv = events.NewServer(events.Deps{
		Dispatcher: h.disp,
		Hub:        h.hub,
		Snapshot:   statusSnapshot,
		Log:        logger.Discard(),
	})
	ts := httptest.NewServer(h.srv)
	t.Cleanup(func() {
		_ = h.srv.Shutdown(context.Background())
		ts.Close()
	})
	h.url = "ws" + strings.TrimPrefix(ts.URL, "http")
	return h
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, h.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	env, err := v0.NewEnvelope(event, data)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, env))
}

func read(t *testing.T, conn *websocket.Conn) v0.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env v0.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func TestRequestStatus_OutsideRoom(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, v0.EventRequestStatus, nil)
	env := read(t, conn)
	assert.Equal(t, v0.EventStatus, env.Event)

	var snap models.StatusSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	require.Len(t, snap.Scenes, 1)
	assert.Equal(t, "sample-HD", snap.Scenes[0].ID)
}

func TestPipelineRoom_ReceivesBroadcasts(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, v0.EventConnectToPipelineRoom, nil)
	assert.Equal(t, v0.EventStatus, read(t, conn).Event, "current status on join")

	h.hub.Notify()
	assert.Equal(t, v0.EventStatus, read(t, conn).Event)

	send(t, conn, v0.EventRequestStatus, nil)
	assert.Equal(t, v0.EventStatus, read(t, conn).Event)
}

func TestRenderScenes(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, v0.EventRenderScenes, v0.RenderScenesPayload{Scenes: []models.RenderRequest{
		{Scene: "sample", Format: "HD", TotalFrames: 60},
	}})
	assert.Eventually(t, func() bool {
		r, _, _, _ := h.disp.snapshot()
		return r == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRejectedEventsReportError(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, v0.EventRenderScenes, v0.RenderScenesPayload{})
	env := read(t, conn)
	require.Equal(t, v0.EventError, env.Event)
	var p v0.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, v0.EventRenderScenes, p.Event)
	assert.Equal(t, string(errors.CodeValidation), p.Code)

	send(t, conn, "reticulate-splines", nil)
	env = read(t, conn)
	require.Equal(t, v0.EventError, env.Event)

	send(t, conn, v0.EventSavedFrame, nil)
	env = read(t, conn)
	require.Equal(t, v0.EventError, env.Event)
}

func TestRenderingClient_DetachedOnClose(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, v0.EventRenderingClient, v0.RenderingClientPayload{Scene: "sample", Format: "HD", TotalFrames: 60})
	send(t, conn, v0.EventSavedFrame, v0.SavedFramePayload{Scene: "sample", Format: "HD", FrameNum: 1})
	assert.Eventually(t, func() bool {
		_, c, _, s := h.disp.snapshot()
		return c == 1 && s == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))

	assert.Eventually(t, func() bool {
		_, _, d, _ := h.disp.snapshot()
		return d == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.disp.mu.Lock()
	defer h.disp.mu.Unlock()
	assert.Equal(t, h.disp.checkIns, h.disp.disconnects, "same worker id on check-in and disconnect")
}

func TestShutdown_ClosesSessions(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	send(t, conn, v0.EventRenderingClient, v0.RenderingClientPayload{Scene: "sample", Format: "HD", TotalFrames: 1})
	assert.Eventually(t, func() bool {
		_, c, _, _ := h.disp.snapshot()
		return c == 1
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.srv.Shutdown(ctx))

	_, _, d, _ := h.disp.snapshot()
	assert.Equal(t, 1, d)
}
