package handlers

import (
	"net/http"
	"strconv"
	"strings"

	v0 "framepipe/internal/contracts/render/v0"
	"framepipe/internal/httpkit"
	"framepipe/internal/ingest"
	"framepipe/internal/pkg/errors"
)

// MaxFrameUpload bounds one POST /image request.
const MaxFrameUpload = 64 << 20

// PostImage receives one rendered frame as multipart scene, format,
// frameNum and image.
func (h *Handler) PostImage(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFrameUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "image.parse", "invalid multipart form")
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	rawFrame := strings.TrimSpace(r.FormValue(v0.FormFrameNum))
	frameNum, err := strconv.Atoi(rawFrame)
	if err != nil {
		return errors.ValidationField(v0.FormFrameNum, "frameNum must be an integer").WithField("value", rawFrame)
	}

	file, header, err := r.FormFile(v0.FormImage)
	if err != nil {
		return errors.ValidationField(v0.FormImage, "image is required")
	}
	defer file.Close()

	ack, err := h.ingest.Receive(r.Context(), ingest.Upload{
		Scene:       strings.TrimSpace(r.FormValue(v0.FormScene)),
		Format:      strings.TrimSpace(r.FormValue(v0.FormFormat)),
		FrameNum:    frameNum,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, v0.ImageResponse{Resp: ack.Resp})
	return nil
}
