package localfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/ports"
)

var _ ports.FrameStore = (*LocalFS)(nil)

func put(t *testing.T, l *LocalFS, key, body string) ports.PutObjectOutput {
	t.Helper()
	out, err := l.PutObject(context.Background(), ports.PutObjectInput{
		ObjectKey: key,
		Reader:    strings.NewReader(body),
	})
	require.NoError(t, err)
	return out
}

func TestPutObject(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	out := put(t, l, "frames/sample/HD/00001.png", "png-bytes")
	assert.Equal(t, "frames/sample/HD/00001.png", out.ObjectKey)
	assert.Equal(t, int64(len("png-bytes")), out.Size)

	raw, err := os.ReadFile(filepath.Join(root, "frames", "sample", "HD", "00001.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(raw))
}

func TestPutObject_OverwritesAndLeavesNoTemp(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	put(t, l, "frames/s/HD/00002.png", "first")
	put(t, l, "frames/s/HD/00002.png", "second")

	entries, err := os.ReadDir(filepath.Join(root, "frames", "s", "HD"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	raw, err := os.ReadFile(l.Path("frames/s/HD/00002.png"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(raw))
}

func TestPutObject_ConcurrentSameKey(t *testing.T) {
	l := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.PutObject(context.Background(), ports.PutObjectInput{
				ObjectKey: "frames/s/HD/00003.png",
				Reader:    strings.NewReader(strings.Repeat("x", 4096)),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	raw, err := os.ReadFile(l.Path("frames/s/HD/00003.png"))
	require.NoError(t, err)
	assert.Len(t, raw, 4096)
}

func TestResolve_RejectsEscapes(t *testing.T) {
	l := New(t.TempDir())

	for _, key := range []string{"", ".", "..", "../x", "a/../../x", "/etc/passwd"} {
		_, err := l.PutObject(context.Background(), ports.PutObjectInput{ObjectKey: key, Reader: strings.NewReader("")})
		assert.Error(t, err, "key %q", key)
		assert.Empty(t, l.Path(key), "key %q", key)
	}
}

func TestDeleteObject(t *testing.T) {
	l := New(t.TempDir())
	put(t, l, "frames/s/HD/00009.png", "x")

	require.NoError(t, l.DeleteObject(context.Background(), "frames/s/HD/00009.png"))
	_, err := os.Stat(l.Path("frames/s/HD/00009.png"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, l.DeleteObject(context.Background(), "frames/s/HD/00009.png"), "missing is fine")
}

func TestRemovePrefix(t *testing.T) {
	l := New(t.TempDir())
	put(t, l, "frames/s/HD/00001.png", "x")
	put(t, l, "frames/s/HD/00002.png", "x")
	put(t, l, "frames/s/plenary/00001.png", "x")

	require.NoError(t, l.RemovePrefix(context.Background(), "frames/s/HD"))

	_, err := os.Stat(l.Path("frames/s/HD"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(l.Path("frames/s/plenary/00001.png"))
	assert.NoError(t, err)

	assert.NoError(t, l.RemovePrefix(context.Background(), "frames/none"))
	assert.Error(t, l.RemovePrefix(context.Background(), "."))
}
