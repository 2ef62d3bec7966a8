package models

import (
	"regexp"
	"time"
)

// State is the lifecycle state of a RenderJob.
type State string

const (
	StateIdle       State = "idle"
	StateQueued     State = "queued"
	StateRendering  State = "rendering"
	StateConverting State = "converting"
	StateCompleted  State = "completed"
)

var stateRank = map[State]int{
	StateIdle:       0,
	StateQueued:     1,
	StateRendering:  2,
	StateConverting: 3,
	StateCompleted:  4,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Before reports whether s comes strictly before other in the lifecycle.
func (s State) Before(other State) bool {
	return stateRank[s] < stateRank[other]
}

// Receiving reports whether frames may be recorded in this state.
func (s State) Receiving() bool {
	return s == StateQueued || s == StateRendering
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidName reports whether s is usable as a scene or format name. Names end
// up in filesystem paths and URLs, so only letters, digits, '_' and '-' pass.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// JobID is the identity of the RenderJob for a (scene, format) pair.
func JobID(scene, format string) string {
	return scene + "-" + format
}

// FrameSlot is 1 once a frame has been received, 0 while pending.
type FrameSlot int

const (
	FramePending  FrameSlot = 0
	FrameReceived FrameSlot = 1
)

// RenderJob is a point-in-time copy of one (scene, format) job as observers
// see it. Timestamps are epoch milliseconds, null until set.
type RenderJob struct {
	ID             string      `json:"id"`
	Scene          string      `json:"scene"`
	Format         string      `json:"format"`
	State          State       `json:"state"`
	StartedAt      *int64      `json:"startedAt"`
	CompletedAt    *int64      `json:"completedAt"`
	TotalFrames    int         `json:"totalFrames"`
	ReceivedFrames int         `json:"receivedFrames"`
	Frames         []FrameSlot `json:"frames"`
	Clients        []string    `json:"clients"`
}

// Complete reports whether every frame of the job has been received.
func (j RenderJob) Complete() bool {
	return j.TotalFrames > 0 && j.ReceivedFrames == j.TotalFrames
}

// StatusSnapshot is the payload of the outbound "status" event.
type StatusSnapshot struct {
	Scenes []RenderJob `json:"scenes"`
}

// Find returns the job for (scene, format) if present in the snapshot.
func (s StatusSnapshot) Find(scene, format string) (RenderJob, bool) {
	for _, j := range s.Scenes {
		if j.Scene == scene && j.Format == format {
			return j, true
		}
	}
	return RenderJob{}, false
}

// SubJob is one contiguous frame range handed to a single render worker.
type SubJob struct {
	Scene      string `json:"scene"`
	Format     string `json:"format"`
	StartFrame int    `json:"startFrame"`
	EndFrame   int    `json:"endFrame"`
}

// Frames is the number of frames the sub-job covers.
func (s SubJob) Frames() int {
	return s.EndFrame - s.StartFrame + 1
}

// RenderRequest asks for one (scene, format) to be (re)rendered.
type RenderRequest struct {
	Scene       string `json:"scene"`
	Format      string `json:"format"`
	TotalFrames int    `json:"totalFrames"`
}

// EpochMillis converts t to the millisecond timestamps used in snapshots.
func EpochMillis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}
