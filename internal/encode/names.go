package encode

import (
	"maps"

	"framepipe/internal/models"
	"framepipe/internal/pkg/logger"
)

// Names resolves the delivered file name stem of a (scene, format).
type Names struct {
	table map[string]string
	log   *logger.Logger
}

// NewNames copies table, which maps "scene-format" to a delivery prefix.
func NewNames(table map[string]string, log *logger.Logger) *Names {
	return &Names{table: maps.Clone(table), log: log}
}

// OutputName returns "<mapped>_<scene>", or "<scene>-<format>_final" when
// the pair has no entry.
func (n *Names) OutputName(scene, format string) string {
	id := models.JobID(scene, format)
	mapped, ok := n.table[id]
	if !ok || mapped == "" {
		if n.log != nil {
			n.log.WithRenderJob(scene, format).Warn("no output name mapped, using fallback")
		}
		return id + "_final"
	}
	return mapped + "_" + scene
}
