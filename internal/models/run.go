package models

import "time"

// Run is a completed render recorded in the run ledger.
type Run struct {
	ID          string     `json:"id"`
	Scene       string     `json:"scene"`
	Format      string     `json:"format"`
	TotalFrames int        `json:"total_frames"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at"`
	Outputs     []string   `json:"outputs"`
	CreatedAt   time.Time  `json:"created_at"`
}
