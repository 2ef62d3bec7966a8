package encode

import (
	"fmt"
	"path/filepath"

	v0 "framepipe/internal/contracts/render/v0"
)

// Profile is one encoder preset.
type Profile string

const (
	ProfileH264At60     Profile = "H264-60"
	ProfileH264At25     Profile = "H264-25"
	ProfileProResLTNTSC Profile = "ProResLt-29.97"
)

// Step is one encoder invocation of a format plan.
type Step struct {
	Profile Profile
	Ext     string
}

var plans = map[string][]Step{
	"HD":    {{ProfileH264At60, ".mp4"}},
	"fourK": {{ProfileH264At25, ".mp4"}},
	"foyer": {{ProfileH264At25, ".mp4"}},
	"plenary": {
		{ProfileProResLTNTSC, ".mov"},
		{ProfileH264At60, ".mp4"},
	},
}

// Plan returns the encode steps for format, in order.
func Plan(format string) ([]Step, bool) {
	steps, ok := plans[format]
	return steps, ok
}

// Formats lists the formats that have an encode plan.
func Formats() []string {
	return []string{"HD", "fourK", "foyer", "plenary"}
}

// Args builds the encoder argument list reading frameDir/%05d.png at
// inputFPS and writing output.
func Args(profile Profile, inputFPS int, frameDir, output string) ([]string, error) {
	if inputFPS <= 0 {
		return nil, fmt.Errorf("input fps must be positive, got %d", inputFPS)
	}
	args := []string{
		"-framerate", fmt.Sprint(inputFPS),
		"-i", filepath.Join(frameDir, v0.FramePattern),
	}

	switch profile {
	case ProfileH264At60:
		args = append(args, "-vcodec", "libx264", "-pix_fmt", "yuv420p")
	case ProfileH264At25:
		args = append(args, "-vcodec", "libx264", "-pix_fmt", "yuv420p", "-r", "25")
	case ProfileProResLTNTSC:
		args = append(args,
			"-c:v", "prores_ks",
			"-profile:v", "1", // LT
			"-vendor", "ap10",
			"-bits_per_mb", "8000",
			"-pix_fmt", "yuv422p",
			"-timecode", "00:00:00;00",
			"-r", "29.97",
		)
	default:
		return nil, fmt.Errorf("unknown encode profile %q", profile)
	}

	return append(args, "-y", output, "-loglevel", "info"), nil
}
