package encode

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"framepipe/internal/pkg/logger"
)

func TestLineLogger_KeepsTail(t *testing.T) {
	w := &lineLogger{log: logger.Discard()}
	_, _ = w.Write([]byte("one\ntwo\nthr"))
	_, _ = w.Write([]byte("ee\n"))
	for i := 0; i < 4; i++ {
		_, _ = w.Write([]byte("more\n"))
	}
	_, _ = w.Write([]byte("last"))
	w.flush()

	assert.Equal(t, "more | more | more | more | last", w.tail())
}

func TestExecRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	r := ExecRunner{Path: "sh", Log: logger.Discard()}

	require.NoError(t, r.Run(context.Background(), []string{"-c", "echo ok"}))

	err := r.Run(context.Background(), []string{"-c", "echo broken >&2; exit 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	err = ExecRunner{Path: "definitely-not-an-encoder"}.Run(context.Background(), nil)
	assert.Error(t, err)
}
