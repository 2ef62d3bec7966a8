// Package events serves the websocket event channel used by render pages
// and pipeline observers.
package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"framepipe/internal/broadcast"
	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
)

const (
	// MaxMessageBytes bounds a single inbound event.
	MaxMessageBytes = 1 << 20

	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Dispatcher handles the inbound events that change pipeline state.
type Dispatcher interface {
	RenderScenes(ctx context.Context, reqs []models.RenderRequest) error
	CheckIn(ctx context.Context, scene, format, workerID string, totalFrames int) error
	Disconnect(scene, format, workerID string)
	FrameSaved(ctx context.Context, scene, format string, frameNum int) error
}

// Hub is the status fan-out sessions subscribe to.
type Hub interface {
	Subscribe() *broadcast.Subscription
	Notify()
}

type Deps struct {
	Dispatcher     Dispatcher
	Hub            Hub
	Snapshot       func() models.StatusSnapshot
	OriginPatterns []string
	Log            *logger.Logger
}

// Server accepts event channel connections. It implements http.Handler.
type Server struct {
	d    Deps
	log  *logger.Logger
	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

func NewServer(d Deps) *Server {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	base, stop := context.WithCancel(context.Background())
	return &Server{d: d, log: log.WithComponent("events"), base: base, stop: stop}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.d.OriginPatterns,
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err.Error(), "remote_addr", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(MaxMessageBytes)

	// Hijacked connections outlive http.Server.Shutdown; the session is
	// bound to the server's own context so Shutdown can end it.
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()
	stopReq := context.AfterFunc(r.Context(), cancel)
	defer stopReq()

	s.wg.Add(1)
	defer s.wg.Done()

	sess := newSession(s, conn)
	sess.run(ctx)
}

// Shutdown closes every open session and waits for them to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type jobKey struct{ scene, format string }

// session is one websocket connection. Its id doubles as the worker id
// when the peer checks in as a rendering client.
type session struct {
	srv  *Server
	conn *websocket.Conn
	id   string
	log  *logger.Logger

	mu       sync.Mutex
	sub      *broadcast.Subscription
	attached []jobKey
}

func newSession(srv *Server, conn *websocket.Conn) *session {
	id := uuid.NewString()
	return &session{
		srv:  srv,
		conn: conn,
		id:   id,
		log:  srv.log.WithFields(map[string]any{"session_id": id}),
	}
}

func (s *session) run(ctx context.Context) {
	s.log.Debug("event channel connected")
	defer s.close()

	incoming := make(chan v0.Envelope)
	go func() {
		defer close(incoming)
		for {
			var env v0.Envelope
			if err := wsjson.Read(ctx, s.conn, &env); err != nil {
				if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
					s.log.Debug("event channel read ended", "error", err.Error())
				}
				return
			}
			select {
			case incoming <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case env, ok := <-incoming:
			if !ok {
				return
			}
			s.dispatch(ctx, env)
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) dispatch(ctx context.Context, env v0.Envelope) {
	d := s.srv.d.Dispatcher
	var err error

	switch env.Event {
	case v0.EventConnectToPipelineRoom:
		s.joinPipelineRoom(ctx)

	case v0.EventRequestStatus:
		s.mu.Lock()
		inRoom := s.sub != nil
		s.mu.Unlock()
		if inRoom {
			s.srv.d.Hub.Notify()
		} else {
			err = s.send(ctx, v0.EventStatus, s.srv.d.Snapshot())
		}

	case v0.EventRenderScenes:
		var p v0.RenderScenesPayload
		if err = decode(env, &p); err == nil {
			err = d.RenderScenes(ctx, p.Scenes)
		}

	case v0.EventRenderingClient:
		var p v0.RenderingClientPayload
		if err = decode(env, &p); err == nil {
			if err = d.CheckIn(ctx, p.Scene, p.Format, s.id, p.TotalFrames); err == nil {
				s.attach(p.Scene, p.Format)
			}
		}

	case v0.EventSavedFrame:
		var p v0.SavedFramePayload
		if err = decode(env, &p); err == nil {
			err = d.FrameSaved(ctx, p.Scene, p.Format, p.FrameNum)
		}

	default:
		err = errors.Validationf("unknown event %q", env.Event)
	}

	if err != nil {
		s.log.Warn("event rejected", "event", env.Event, "error", err.Error())
		_ = s.send(ctx, v0.EventError, v0.ErrorPayload{
			Event:   env.Event,
			Code:    string(errors.GetCode(err)),
			Message: err.Error(),
		})
	}
}

func decode(env v0.Envelope, v any) error {
	if len(env.Data) == 0 {
		return errors.Validationf("%s requires a payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "events.decode", "malformed "+env.Event+" payload")
	}
	return nil
}

// joinPipelineRoom subscribes the session to status broadcasts. Joining
// twice is a no-op.
func (s *session) joinPipelineRoom(ctx context.Context) {
	s.mu.Lock()
	if s.sub != nil {
		s.mu.Unlock()
		return
	}
	sub := s.srv.d.Hub.Subscribe()
	s.sub = sub
	s.mu.Unlock()

	s.log.Info("joined pipeline room")
	go func() {
		for snap := range sub.C() {
			if err := s.send(ctx, v0.EventStatus, snap); err != nil {
				return
			}
		}
	}()
}

func (s *session) attach(scene, format string) {
	k := jobKey{scene, format}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attached {
		if a == k {
			return
		}
	}
	s.attached = append(s.attached, k)
}

func (s *session) send(ctx context.Context, event string, data any) error {
	env, err := v0.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, s.conn, env)
}

// close detaches the session's worker from every job it checked in to and
// drops its status subscription.
func (s *session) close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	attached := s.attached
	s.attached = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	for _, k := range attached {
		s.srv.d.Dispatcher.Disconnect(k.scene, k.format, s.id)
	}
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	s.log.Debug("event channel closed", "jobs_detached", len(attached))
}
