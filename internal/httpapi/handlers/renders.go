package handlers

import (
	"net/http"

	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/httpkit"
)

type renderResponse struct {
	Queued []string `json:"queued"`
}

// PostRenders starts a render run per requested (scene, format), the same
// as the render-scenes event.
func (h *Handler) PostRenders(w http.ResponseWriter, r *http.Request) error {
	var body v0.RenderScenesPayload
	if err := httpkit.DecodeJSON(r, &body); err != nil {
		return err
	}
	if err := h.renders.RenderScenes(r.Context(), body.Scenes); err != nil {
		return err
	}

	resp := renderResponse{Queued: make([]string, 0, len(body.Scenes))}
	for _, s := range body.Scenes {
		resp.Queued = append(resp.Queued, s.Scene+"-"+s.Format)
	}
	httpkit.WriteJSON(w, http.StatusAccepted, resp)
	return nil
}
