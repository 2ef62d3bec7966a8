package handlers

import (
	"net/http"
	"time"

	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/httpkit"
	"framepipe/internal/pkg/errors"
)

const streamKeepAlive = 15 * time.Second

// GetStatus returns the current snapshot of every render job.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	httpkit.WriteJSON(w, http.StatusOK, h.snapshot())
	return nil
}

// StreamStatus streams snapshots as server-sent events: the current one
// first, then one per change.
func (h *Handler) StreamStatus(w http.ResponseWriter, r *http.Request) error {
	if _, ok := w.(http.Flusher); !ok {
		return errors.Internal("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := h.status.Subscribe()
	defer sub.Close()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := httpkit.WriteEvent(w, v0.EventStatus, snap); err != nil {
				h.log.FromContext(ctx).Debug("status stream closed", "error", err.Error())
				return nil
			}
		case <-keepAlive.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return nil
			}
			w.(http.Flusher).Flush()
		}
	}
}
