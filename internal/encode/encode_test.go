package encode_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/adapters/storage/localfs"
	"framepipe/internal/encode"
	"framepipe/internal/models"
	"framepipe/internal/pkg/errors"
	"framepipe/internal/pkg/logger"
	"framepipe/internal/registry"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  [][]string
	failOn int // 1-based call that fails, 0 never
}

func (f *fakeRunner) Run(_ context.Context, args []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, args)
	if f.failOn == len(f.calls) {
		return fmt.Errorf("exit status 1")
	}
	return nil
}

func (f *fakeRunner) outputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var outs []string
	for _, c := range f.calls {
		for i, a := range c {
			if a == "-y" {
				outs = append(outs, c[i+1])
			}
		}
	}
	return outs
}

type fixture struct {
	root   string
	reg    *registry.Registry
	runner *fakeRunner
	p      *encode.Pipeline
	hooked []encode.Result
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{root: t.TempDir(), reg: registry.New(logger.Discard()), runner: &fakeRunner{}}
	p, err := encode.New(encode.Deps{
		Jobs:   f.reg,
		Frames: localfs.New(f.root),
		Runner: f.runner,
		Names: encode.NewNames(map[string]string{
			"sample-HD":      "999_Schema_Edit_1_HD",
			"sample-plenary": "999_Schema_Edit_1_Plenary",
		}, logger.Discard()),
		InputFPS: 60,
		Log:      logger.Discard(),
	})
	require.NoError(t, err)
	p.AddHook(func(_ context.Context, res encode.Result) { f.hooked = append(f.hooked, res) })
	f.p = p
	return f
}

// converting queues (scene, format) with n frames on disk, all received,
// and flips it to converting.
func (f *fixture) converting(t *testing.T, scene, format string, n int) {
	t.Helper()
	require.NoError(t, f.reg.Reset(scene, format, n))
	dir := f.p.FrameDir(scene, format)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i := 1; i <= n; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%05d.png", i)), []byte("png"), 0o644))
		_, err := f.reg.MarkFrameReceived(scene, format, i)
		require.NoError(t, err)
	}
	require.True(t, f.reg.BeginConverting(scene, format))
}

func TestArgs(t *testing.T) {
	args, err := encode.Args(encode.ProfileH264At60, 60, "/out/frames/s/HD", "/out/finalVideos/x.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-framerate", "60", "-i", "/out/frames/s/HD/%05d.png",
		"-vcodec", "libx264", "-pix_fmt", "yuv420p",
		"-y", "/out/finalVideos/x.mp4", "-loglevel", "info",
	}, args)

	args, err = encode.Args(encode.ProfileH264At25, 60, "d", "o.mp4")
	require.NoError(t, err)
	assert.Contains(t, args, "25")

	args, err = encode.Args(encode.ProfileProResLTNTSC, 60, "d", "o.mov")
	require.NoError(t, err)
	assert.Subset(t, args, []string{"prores_ks", "-profile:v", "1", "ap10", "8000", "yuv422p", "00:00:00;00", "29.97"})

	_, err = encode.Args("AV1", 60, "d", "o")
	assert.Error(t, err)
	_, err = encode.Args(encode.ProfileH264At60, 0, "d", "o")
	assert.Error(t, err)
}

func TestPlan(t *testing.T) {
	for _, format := range encode.Formats() {
		steps, ok := encode.Plan(format)
		require.True(t, ok, format)
		assert.NotEmpty(t, steps)
	}
	steps, _ := encode.Plan("plenary")
	require.Len(t, steps, 2)
	assert.Equal(t, encode.ProfileProResLTNTSC, steps[0].Profile)
	assert.Equal(t, ".mov", steps[0].Ext)
	assert.Equal(t, encode.ProfileH264At60, steps[1].Profile)

	_, ok := encode.Plan("vertical")
	assert.False(t, ok)
}

func TestOutputName(t *testing.T) {
	n := encode.NewNames(map[string]string{"sample-HD": "999_Schema_Edit_1_HD"}, logger.Discard())
	assert.Equal(t, "999_Schema_Edit_1_HD_sample", n.OutputName("sample", "HD"))
	assert.Equal(t, "sample-foyer_final", n.OutputName("sample", "foyer"))
}

func TestRun_HDCompletes(t *testing.T) {
	f := newFixture(t)
	f.converting(t, "sample", "HD", 3)

	f.p.Run(context.Background(), "sample", "HD")

	j, _ := f.reg.Get("sample", "HD")
	assert.Equal(t, models.StateCompleted, j.State)
	assert.NotNil(t, j.CompletedAt)
	assert.Equal(t, []models.FrameSlot{0, 0, 0}, j.Frames)

	want := filepath.Join(f.root, "finalVideos", "999_Schema_Edit_1_HD_sample.mp4")
	assert.Equal(t, []string{want}, f.runner.outputs())
	require.Len(t, f.hooked, 1)
	assert.Equal(t, []string{want}, f.hooked[0].Outputs)
	assert.Equal(t, 3, f.hooked[0].TotalFrames)
	assert.NotNil(t, f.hooked[0].CompletedAt)
	assert.DirExists(t, filepath.Join(f.root, "finalVideos"))
}

func TestRun_PlenaryRunsBothSteps(t *testing.T) {
	f := newFixture(t)
	f.converting(t, "sample", "plenary", 2)

	f.p.Run(context.Background(), "sample", "plenary")

	stem := filepath.Join(f.root, "finalVideos", "999_Schema_Edit_1_Plenary_sample")
	assert.Equal(t, []string{stem + ".mov", stem + ".mp4"}, f.runner.outputs())
	j, _ := f.reg.Get("sample", "plenary")
	assert.Equal(t, models.StateCompleted, j.State)
}

func TestRun_PlenarySecondStepFailureStalls(t *testing.T) {
	f := newFixture(t)
	f.runner.failOn = 2
	f.converting(t, "sample", "plenary", 2)

	f.p.Run(context.Background(), "sample", "plenary")

	j, _ := f.reg.Get("sample", "plenary")
	assert.Equal(t, models.StateConverting, j.State)
	assert.Empty(t, f.hooked)
}

func TestRun_UnknownFormatStalls(t *testing.T) {
	f := newFixture(t)
	f.converting(t, "sample", "vertical", 1)

	f.p.Run(context.Background(), "sample", "vertical")

	j, _ := f.reg.Get("sample", "vertical")
	assert.Equal(t, models.StateConverting, j.State)
	assert.Empty(t, f.runner.calls)
}

func TestRun_MissingFramesStalls(t *testing.T) {
	f := newFixture(t)
	f.converting(t, "sample", "HD", 3)
	require.NoError(t, os.Remove(filepath.Join(f.p.FrameDir("sample", "HD"), "00002.png")))

	f.p.Run(context.Background(), "sample", "HD")

	j, _ := f.reg.Get("sample", "HD")
	assert.Equal(t, models.StateConverting, j.State)
	assert.Empty(t, f.runner.calls)
}

func TestCheckFrames(t *testing.T) {
	dir := t.TempDir()
	for i := 1; i <= 2; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%05d.png", i)), nil, 0o644))
	}

	assert.NoError(t, encode.CheckFrames(dir, 2))
	assert.NoError(t, encode.CheckFrames(dir, 0))

	err := encode.CheckFrames(dir, 3)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeEncode))

	assert.Error(t, encode.CheckFrames(filepath.Join(dir, "missing"), 1))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := encode.New(encode.Deps{Runner: &fakeRunner{}})
	assert.Error(t, err)
	_, err = encode.New(encode.Deps{Frames: localfs.New(t.TempDir())})
	assert.Error(t, err)
}
