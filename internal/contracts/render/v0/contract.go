// Package v0 is the wire contract between the pipeline, the render page
// running in each worker browser, and pipeline observers.
//
// Render page: GET <base>?scene=&format=&startFrame=&endFrame= renders the
// range, uploads each frame to POST /image and adds the done marker to the
// DOM when finished.
//
// Event channel: JSON text frames {"event": <name>, "data": <payload>}.
package v0

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"framepipe/internal/models"
)

// DefaultDoneSelector is the DOM marker the render page adds when done.
const DefaultDoneSelector = "#done-tag"

// Render page query parameters.
const (
	ParamScene      = "scene"
	ParamFormat     = "format"
	ParamStartFrame = "startFrame"
	ParamEndFrame   = "endFrame"
)

// RenderURL builds the render page URL for a sub-job. Existing query
// parameters on base are kept.
func RenderURL(base string, job models.SubJob) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse render base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("render base url must be http(s), got %q", base)
	}
	q := u.Query()
	q.Set(ParamScene, job.Scene)
	q.Set(ParamFormat, job.Format)
	q.Set(ParamStartFrame, strconv.Itoa(job.StartFrame))
	q.Set(ParamEndFrame, strconv.Itoa(job.EndFrame))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Frame upload (POST /image) multipart fields.
const (
	FormScene    = "scene"
	FormFormat   = "format"
	FormFrameNum = "frameNum"
	FormImage    = "image"
)

// FrameFileName is the on-disk name of frame n: zero-padded to five digits.
func FrameFileName(n int) string {
	return fmt.Sprintf("%05d.png", n)
}

// FramePattern is the encoder input pattern matching FrameFileName.
const FramePattern = "%05d.png"

// ImageResponse is the body of a successful frame upload.
type ImageResponse struct {
	Resp string `json:"resp"`
}

// Event names.
const (
	EventConnectToPipelineRoom = "connectToPipelineRoom"
	EventRequestStatus         = "requestStatus"
	EventRenderScenes          = "render-scenes"
	EventRenderingClient       = "rendering-client"
	EventSavedFrame            = "saved-frame"

	EventStatus = "status"
	EventError  = "error"
)

// Envelope is one event channel message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for event.
func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// RenderScenesPayload is the data of render-scenes and POST /api/v1/renders.
type RenderScenesPayload struct {
	Scenes []models.RenderRequest `json:"scenes"`
}

// RenderingClientPayload is sent by a render page when it starts.
type RenderingClientPayload struct {
	Scene       string `json:"scene"`
	Format      string `json:"format"`
	TotalFrames int    `json:"totalFrames"`
}

// SavedFramePayload reports a frame saved without uploading its bytes.
type SavedFramePayload struct {
	Scene    string `json:"scene"`
	Format   string `json:"format"`
	FrameNum int    `json:"frameNum"`
}

// ErrorPayload reports a rejected inbound event back to its sender.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
