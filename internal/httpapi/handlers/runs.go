package handlers

import (
	"net/http"
	"strconv"

	"framepipe/internal/httpkit"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
)

type runsResponse struct {
	Runs []models.Run `json:"runs"`
}

// ListRuns returns completed runs, newest first. Optional query
// parameters: scene, format, limit.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) error {
	if h.runs == nil {
		return errors.Unavailable("run ledger")
	}

	q := r.URL.Query()
	scene, format := q.Get("scene"), q.Get("format")
	if scene != "" && !models.ValidName(scene) {
		return errors.ValidationField("scene", "invalid scene").WithField("value", scene)
	}
	if format != "" && !models.ValidName(format) {
		return errors.ValidationField("format", "invalid format").WithField("value", format)
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return errors.ValidationField("limit", "limit must be a positive integer").WithField("value", raw)
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), scene, format, limit)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, runsResponse{Runs: runs})
	return nil
}
