// Package splitter partitions a frame range into parallel render sub-jobs.
package splitter

import (
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
)

// Split divides frames [1, totalFrames] among jobsPerScene sub-jobs.
// Each sub-job gets floor(totalFrames/jobsPerScene) frames and the last one
// absorbs the remainder. Ranges that would be empty (more jobs than frames)
// are dropped, so the result always partitions [1, totalFrames].
func Split(scene, format string, totalFrames, jobsPerScene int) ([]models.SubJob, error) {
	if totalFrames <= 0 {
		return nil, errors.ValidationField("totalFrames", "totalFrames must be positive").
			WithField("value", totalFrames)
	}
	if jobsPerScene < 1 {
		return nil, errors.ValidationField("jobsPerScene", "jobsPerScene must be at least 1").
			WithField("value", jobsPerScene)
	}

	per := totalFrames / jobsPerScene
	jobs := make([]models.SubJob, 0, jobsPerScene)
	for i := 0; i < jobsPerScene; i++ {
		start := 1 + i*per
		end := (i + 1) * per
		if i == jobsPerScene-1 {
			end = totalFrames
		}
		if start > end {
			continue
		}
		jobs = append(jobs, models.SubJob{
			Scene:      scene,
			Format:     format,
			StartFrame: start,
			EndFrame:   end,
		})
	}
	return jobs, nil
}
